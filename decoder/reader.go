package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrPartialFrame means the decoder output ended in the middle of a picture.
var ErrPartialFrame = errors.New("partial frame")

// FrameReader cuts the decoder output into pictures of a fixed size.
type FrameReader struct {
	r    io.Reader
	size int
	buf  []byte
}

func NewFrameReader(r io.Reader, frameSize int) *FrameReader {
	return &FrameReader{
		r:    r,
		size: frameSize,
		buf:  make([]byte, frameSize),
	}
}

// Next blocks until a whole picture has been read. The returned slice is overwritten by the next
// call. Next returns io.EOF when the output ends cleanly between two pictures, and an error
// wrapping ErrPartialFrame when it ends anywhere else.
func (fr *FrameReader) Next() ([]byte, error) {
	n, err := io.ReadFull(fr.r, fr.buf)
	switch {
	case n == fr.size:
		return fr.buf, nil
	case n == 0:
		if err == nil {
			err = io.EOF
		}
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %d/%d bytes", ErrPartialFrame, n, fr.size)
	}
}

// ReadFrames hands every picture of r to fn until the output ends. The end of output is not an
// error; a partial picture is, and it is not passed on. No attempt is made to resync after it.
// The slice given to fn is only valid during the call.
func ReadFrames(ctx context.Context, r io.Reader, frameSize int, fn func(picture []byte)) error {
	if frameSize <= 0 {
		return fmt.Errorf("invalid frame size %d", frameSize)
	}
	fr := NewFrameReader(r, frameSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		picture, err := fr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fn(picture)
	}
}
