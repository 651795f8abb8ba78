package sink

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Raw writes decoded media as bare streams: pictures back to back in their pixel format, audio as
// interleaved float32 little-endian samples (ffmpeg's f32le). Either writer may be nil.
type Raw struct {
	Video io.Writer
	Audio io.Writer

	audioBuf []byte
	closeMu  sync.Mutex
	closed   bool
}

func (r *Raw) WriteVideoFrame(data []byte, width, height int, format PixelFormat, rateN, rateD int) error {
	if r.Video == nil {
		return nil
	}
	if want := width * height * format.BytesPerPixel(); len(data) != want {
		return fmt.Errorf("raw video: got %d bytes, %dx%d %v needs %d", len(data), width, height, format, want)
	}
	_, err := r.Video.Write(data)
	return err
}

func (r *Raw) WriteAudioFrame(samples []float32, sampleRate, channels int) error {
	if r.Audio == nil {
		return nil
	}
	n := len(samples) * 4
	if cap(r.audioBuf) < n {
		r.audioBuf = make([]byte, n)
	}
	buf := r.audioBuf[:n]
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	_, err := r.Audio.Write(buf)
	return err
}

func (r *Raw) Close() error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var result *multierror.Error
	for _, w := range []io.Writer{r.Video, r.Audio} {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}
