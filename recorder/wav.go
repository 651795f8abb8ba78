package recorder

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gitee.com/general252/go-wav"
)

const bitsPerSample = 16

// wavFile is 16-bit PCM written as it comes. The header is written with no samples first and
// rewritten with the final count on close.
type wavFile struct {
	file       *os.File
	writer     *wav.Writer
	path       string
	start      time.Time
	sampleRate int
	channels   int
	samples    uint32 // per channel
	buf        []wav.Sample
}

func createWAV(path string, sampleRate, channels int) (*wavFile, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("wav: %d channels not supported", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav: bad sample rate %d", sampleRate)
	}
	file, err := createFile(path)
	if err != nil {
		return nil, err
	}
	return &wavFile{
		file:       file,
		writer:     wav.NewWriter(file, 0, uint16(channels), uint32(sampleRate), bitsPerSample),
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// write takes interleaved float32 samples in [-1, 1].
func (w *wavFile) write(samples []float32) error {
	n := len(samples) / w.channels
	if cap(w.buf) < n {
		w.buf = make([]wav.Sample, n)
	}
	buf := w.buf[:n]
	for i := range buf {
		for c := 0; c < w.channels; c++ {
			buf[i].Values[c] = toInt16(samples[i*w.channels+c])
		}
	}
	if err := w.writer.WriteSamples(buf); err != nil {
		return err
	}
	w.samples += uint32(n)
	return nil
}

func (w *wavFile) close() error {
	defer w.file.Close()
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	wav.NewWriter(w.file, w.samples, uint16(w.channels), uint32(w.sampleRate), bitsPerSample)
	return w.file.Close()
}

func toInt16(s float32) int {
	switch {
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return -math.MaxInt16
	}
	return int(s * math.MaxInt16)
}
