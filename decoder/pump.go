package decoder

import (
	"context"
	"io"

	"github.com/greendrake/ndibridge/metrics"
	"github.com/greendrake/ndibridge/sink"
	"github.com/greendrake/ndibridge/stats"
	"github.com/sirupsen/logrus"
)

// Pump moves decoded pictures from the decoder output to the sink. Its Run is the decoder reader
// task: the only caller of Sink.WriteVideoFrame and the only counter of video frames.
type Pump struct {
	Output io.ReadCloser
	Sink   sink.Sink
	Width  int
	Height int
	RateN  int
	RateD  int

	Stats   *stats.Collector
	Metrics *metrics.Metrics
}

// Run returns when the decoder output ends, when a partial picture is read, or when ctx is done
// (at the next picture boundary). The decoder is not restarted. Output is closed on return.
func (p *Pump) Run(ctx context.Context) error {
	defer p.Output.Close()
	size := p.Width * p.Height * sink.UYVY.BytesPerPixel()
	err := ReadFrames(ctx, p.Output, size, func(picture []byte) {
		if p.Metrics != nil {
			p.Metrics.DecodedFrames.Inc()
			p.Metrics.SinkFrames.WithLabelValues("video").Inc()
		}
		if err := p.Sink.WriteVideoFrame(picture, p.Width, p.Height, sink.UYVY, p.RateN, p.RateD); err != nil {
			logrus.WithField("error", err).Warn("Sink rejected video frame")
			if p.Metrics != nil {
				p.Metrics.SinkErrors.WithLabelValues("video").Inc()
			}
		}
		if p.Stats != nil {
			p.Stats.AddVideoFrame()
		}
	})
	if err != nil {
		logrus.WithField("error", err).Error("Decoder output failed")
		return err
	}
	logrus.Info("Decoder output ended")
	return nil
}
