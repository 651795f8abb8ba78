// Package sink is where decoded media ends up.
//
// The bridge never waits on a sink for an answer: a failed write is logged by the caller and the
// frame is gone. Video frames come from the decoder reader, audio frames from the receive loop, so
// an implementation sees the two kinds of frames on two different goroutines.
package sink

type PixelFormat int

const (
	// UYVY is packed 4:2:2, two bytes per pixel: U0 Y0 V0 Y1.
	UYVY PixelFormat = iota
)

func (p PixelFormat) String() string {
	switch p {
	case UYVY:
		return "UYVY"
	}
	return "unknown"
}

// BytesPerPixel is only meaningful for packed formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case UYVY:
		return 2
	}
	return 0
}

type Sink interface {
	// WriteVideoFrame takes one packed picture; the line stride is width*BytesPerPixel.
	// data is only valid during the call.
	WriteVideoFrame(data []byte, width, height int, format PixelFormat, rateN, rateD int) error
	// WriteAudioFrame takes interleaved float32 samples.
	WriteAudioFrame(samples []float32, sampleRate, channels int) error
}
