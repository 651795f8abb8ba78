package sink

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"time"

	"go.uber.org/atomic"
)

var ErrNoPicture = errors.New("no picture yet")

type picture struct {
	data   []byte
	width  int
	height int
	taken  time.Time
}

// Snapshot keeps a copy of the latest decoded picture so that it can be served as a JPEG.
// Pictures are sampled at most once per MinInterval. Audio is ignored.
type Snapshot struct {
	MinInterval time.Duration
	latest      atomic.Pointer[picture]
	now         func() time.Time
}

func NewSnapshot(minInterval time.Duration) *Snapshot {
	return &Snapshot{
		MinInterval: minInterval,
		now:         time.Now,
	}
}

func (s *Snapshot) WriteVideoFrame(data []byte, width, height int, format PixelFormat, rateN, rateD int) error {
	if format != UYVY {
		return fmt.Errorf("snapshot: unsupported pixel format %v", format)
	}
	if len(data) < width*height*2 {
		return fmt.Errorf("snapshot: short picture, %d bytes for %dx%d", len(data), width, height)
	}
	now := s.now()
	if prev := s.latest.Load(); prev != nil && now.Sub(prev.taken) < s.MinInterval {
		return nil
	}
	s.latest.Store(&picture{
		data:   append([]byte(nil), data[:width*height*2]...),
		width:  width,
		height: height,
		taken:  now,
	})
	return nil
}

func (s *Snapshot) WriteAudioFrame(samples []float32, sampleRate, channels int) error {
	return nil
}

// Taken reports when the current picture was sampled.
func (s *Snapshot) Taken() (time.Time, bool) {
	p := s.latest.Load()
	if p == nil {
		return time.Time{}, false
	}
	return p.taken, true
}

func (s *Snapshot) Image() (*image.YCbCr, error) {
	p := s.latest.Load()
	if p == nil {
		return nil, ErrNoPicture
	}
	return UYVYToYCbCr(p.data, p.width, p.height), nil
}

func (s *Snapshot) WriteJPEG(w io.Writer, quality int) error {
	img, err := s.Image()
	if err != nil {
		return err
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// UYVYToYCbCr unpacks a 4:2:2 picture into planes. width must be even.
func UYVYToYCbCr(data []byte, width, height int) *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	stride := width * 2
	for y := 0; y < height; y++ {
		line := data[y*stride : (y+1)*stride]
		yRow := img.Y[y*img.YStride:]
		cRow := y * img.CStride
		for x := 0; x < width/2; x++ {
			q := line[x*4 : x*4+4]
			img.Cb[cRow+x] = q[0]
			yRow[2*x] = q[1]
			img.Cr[cRow+x] = q[2]
			yRow[2*x+1] = q[3]
		}
	}
	return img
}
