package sink

import (
	"github.com/sirupsen/logrus"
)

// Log only reports what it is given. It stands in when no real output is configured.
type Log struct {
	Name string
}

func (l Log) WriteVideoFrame(data []byte, width, height int, format PixelFormat, rateN, rateD int) error {
	logrus.WithFields(logrus.Fields{
		"sink":   l.Name,
		"size":   len(data),
		"width":  width,
		"height": height,
		"format": format,
		"rate":   float64(rateN) / float64(rateD),
	}).Trace("Video frame")
	return nil
}

func (l Log) WriteAudioFrame(samples []float32, sampleRate, channels int) error {
	logrus.WithFields(logrus.Fields{
		"sink":        l.Name,
		"samples":     len(samples),
		"sample_rate": sampleRate,
		"channels":    channels,
	}).Trace("Audio frame")
	return nil
}
