package sink

import (
	"io"

	"github.com/hashicorp/go-multierror"
)

// Multi hands every frame to all of its sinks. One failing sink does not keep the frame from the
// others; all errors are returned together.
type Multi []Sink

func (m Multi) WriteVideoFrame(data []byte, width, height int, format PixelFormat, rateN, rateD int) error {
	var result *multierror.Error
	for _, s := range m {
		if err := s.WriteVideoFrame(data, width, height, format, rateN, rateD); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m Multi) WriteAudioFrame(samples []float32, sampleRate, channels int) error {
	var result *multierror.Error
	for _, s := range m {
		if err := s.WriteAudioFrame(samples, sampleRate, channels); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Close closes whichever sinks are closers.
func (m Multi) Close() error {
	var result *multierror.Error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}
