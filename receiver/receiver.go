// Package receiver owns the UDP endpoint and everything on the receiving side of the bridge.
//
// One goroutine runs the Receiver: it reads datagrams, parses them, collects fragments per media
// type and forwards complete frames, video to the decoder input and audio straight to the sink.
// None of its state is shared; the stats collector's video counter is the one exception and is
// atomic.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/greendrake/ndibridge/frame"
	"github.com/greendrake/ndibridge/metrics"
	"github.com/greendrake/ndibridge/packet"
	"github.com/greendrake/ndibridge/reassembly"
	"github.com/greendrake/ndibridge/sink"
	"github.com/greendrake/ndibridge/stats"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = time.Second
	MaxDatagramSize     = 65536
)

type Options struct {
	// AudioEnabled off makes audio datagrams count as unknown media.
	AudioEnabled bool
	PollInterval time.Duration
	// StaleAfter evicts incomplete frames that stopped receiving fragments. 0 disables.
	StaleAfter time.Duration
}

type Receiver struct {
	// Decoder takes complete video access units, one Write each.
	Decoder io.Writer
	// Sink takes audio frames. Video reaches it through the decoder.
	Sink sink.Sink
	// Stats defaults to a one second window.
	Stats   *stats.Collector
	Metrics *metrics.Metrics
	// Tap, if set, sees every complete frame before it is forwarded.
	Tap func(f *frame.Frame)
	// OnReport is called with every stats report.
	OnReport func(r stats.Report)

	conn  net.PacketConn
	opts  Options
	video *reassembly.Reassembler
	audio *reassembly.Reassembler
	buf   []byte
	now   func() time.Time
}

// Listen opens the UDP endpoint. A read buffer that cannot be had is not fatal.
func Listen(address string, readBuffer int) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP %s: %w", address, err)
	}
	if readBuffer > 0 {
		if err := conn.SetReadBuffer(readBuffer); err != nil {
			logrus.WithFields(logrus.Fields{
				"buffer_size": readBuffer,
				"error":       err,
			}).Warn("Failed to set UDP read buffer size")
		}
	}
	logrus.WithFields(logrus.Fields{
		"address":     conn.LocalAddr().String(),
		"buffer_size": readBuffer,
	}).Info("Listening for media")
	return conn, nil
}

func New(conn net.PacketConn, opts Options) *Receiver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	r := &Receiver{
		Stats: stats.NewCollector(stats.DefaultInterval, time.Now()),
		conn:  conn,
		opts:  opts,
		video: reassembly.New(packet.Video),
		audio: reassembly.New(packet.Audio),
		buf:   make([]byte, MaxDatagramSize),
		now:   time.Now,
	}
	for _, ra := range []*reassembly.Reassembler{r.video, r.audio} {
		ra.StaleAfter = opts.StaleAfter
		ra.OnDrop = r.dropped
	}
	return r
}

// Run polls until ctx is done. It notices cancellation within one poll interval.
func (r *Receiver) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := r.Poll(); err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logrus.WithField("error", err).Error("Failed to read UDP datagram")
		}
	}
	logrus.Info("Receive loop stopped")
	return nil
}

// Poll waits up to one poll interval for a datagram and handles it, then does the periodic work
// (stale frame eviction, stats). Timing out is not an error.
func (r *Receiver) Poll() error {
	if err := r.conn.SetReadDeadline(r.now().Add(r.opts.PollInterval)); err != nil {
		return err
	}
	n, _, err := r.conn.ReadFrom(r.buf)
	if err == nil {
		r.HandlePacket(r.buf[:n])
	} else {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			err = nil
		}
	}
	r.housekeeping(r.now())
	return err
}

// HandlePacket processes one datagram. b is not retained. Only datagrams that parse count towards
// throughput.
func (r *Receiver) HandlePacket(b []byte) {
	h, ok := packet.Parse(b)
	if !ok {
		if r.Metrics != nil {
			r.Metrics.MalformedPackets.Inc()
		}
		return
	}
	r.Stats.AddPacket(len(b))
	if r.Metrics != nil {
		r.Metrics.PacketsReceived.Inc()
		r.Metrics.BytesReceived.Add(float64(len(b)))
	}
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.Trace(h.GetInfoString())
	}
	var ra *reassembly.Reassembler
	switch {
	case h.MediaType == packet.Video:
		ra = r.video
	case h.MediaType == packet.Audio && r.opts.AudioEnabled:
		ra = r.audio
	default:
		if r.Metrics != nil {
			r.Metrics.UnknownMedia.Inc()
		}
		return
	}
	f := ra.Add(h, h.Payload(b))
	if f == nil {
		return
	}
	if r.Metrics != nil {
		media := f.Media.String()
		r.Metrics.FramesCompleted.WithLabelValues(media).Inc()
		r.Metrics.FrameSize.WithLabelValues(media).Observe(float64(len(f.Data)))
	}
	if r.Tap != nil {
		r.Tap(f)
	}
	if f.IsVideo() {
		r.forwardVideo(f)
	} else {
		r.forwardAudio(f)
	}
}

func (r *Receiver) forwardVideo(f *frame.Frame) {
	r.Stats.AddAccessUnit()
	if r.Decoder == nil {
		return
	}
	if _, err := r.Decoder.Write(f.Data); err != nil {
		logrus.WithFields(logrus.Fields{
			"sequence": f.Sequence,
			"size":     len(f.Data),
			"error":    err,
		}).Warn("Decoder did not take access unit")
		if r.Metrics != nil {
			r.Metrics.DecoderWriteErrors.Inc()
		}
	}
}

func (r *Receiver) forwardAudio(f *frame.Frame) {
	r.Stats.AddAudioFrame()
	if r.Sink == nil {
		return
	}
	if r.Metrics != nil {
		r.Metrics.SinkFrames.WithLabelValues("audio").Inc()
	}
	if err := r.Sink.WriteAudioFrame(f.Samples(), int(f.SampleRate), f.ChannelCount()); err != nil {
		logrus.WithFields(logrus.Fields{
			"sequence": f.Sequence,
			"error":    err,
		}).Warn("Sink rejected audio frame")
		if r.Metrics != nil {
			r.Metrics.SinkErrors.WithLabelValues("audio").Inc()
		}
	}
}

func (r *Receiver) dropped(d reassembly.Drop) {
	r.Stats.AddDrop()
	if r.Metrics != nil {
		r.Metrics.FramesDropped.WithLabelValues(d.Media.String(), string(d.Reason)).Inc()
	}
	logrus.WithFields(logrus.Fields{
		"media":    d.Media,
		"sequence": d.Sequence,
		"received": d.Received,
		"expected": d.Expected,
		"reason":   d.Reason,
	}).Debug("Incomplete frame dropped")
}

func (r *Receiver) housekeeping(now time.Time) {
	r.video.Expire(now)
	r.audio.Expire(now)
	report, ok := r.Stats.Tick(now)
	if !ok {
		return
	}
	if r.Metrics != nil {
		r.Metrics.Throughput.Set(report.BitsPerSecond)
	}
	entry := logrus.WithFields(logrus.Fields{
		"mbps":         fmt.Sprintf("%.2f", report.Mbps()),
		"packets":      report.Packets,
		"access_units": report.AccessUnits,
		"video_frames": report.VideoFrames,
		"audio_frames": report.AudioFrames,
		"dropped":      report.Dropped,
	})
	if report.Packets > 0 {
		entry.Info("Stats")
	} else {
		entry.Debug("Stats")
	}
	if r.OnReport != nil {
		r.OnReport(report)
	}
}
