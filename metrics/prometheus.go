package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics of the bridge
type Metrics struct {
	registry *prometheus.Registry

	// UDP intake
	PacketsReceived  prometheus.Counter
	BytesReceived    prometheus.Counter
	MalformedPackets prometheus.Counter
	UnknownMedia     prometheus.Counter

	// Reassembly
	FramesCompleted *prometheus.CounterVec // by media
	FramesDropped   *prometheus.CounterVec // by media, reason
	FrameSize       *prometheus.HistogramVec

	// Decoder
	DecoderWriteErrors prometheus.Counter
	DecodedFrames      prometheus.Counter
	DecoderRunning     prometheus.Gauge

	// Sink
	SinkFrames *prometheus.CounterVec // by media
	SinkErrors *prometheus.CounterVec // by media

	// Rate of the last stats window
	Throughput prometheus.Gauge
}

// New creates all metrics on their own registry, so that several bridges (and tests) can live
// in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "ndib_packets_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "ndib_bytes_received_total",
			Help: "Total number of bytes received, headers included",
		}),
		MalformedPackets: factory.NewCounter(prometheus.CounterOpts{
			Name: "ndib_malformed_packets_total",
			Help: "Datagrams discarded for being short or carrying a wrong magic",
		}),
		UnknownMedia: factory.NewCounter(prometheus.CounterOpts{
			Name: "ndib_unknown_media_packets_total",
			Help: "Datagrams discarded for an unknown or disabled media type",
		}),

		FramesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ndib_frames_completed_total",
			Help: "Frames reassembled from all their fragments",
		}, []string{"media"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ndib_frames_dropped_total",
			Help: "Incomplete frames discarded",
		}, []string{"media", "reason"}),
		FrameSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ndib_frame_size_bytes",
			Help:    "Size of reassembled frames",
			Buckets: prometheus.ExponentialBuckets(256, 2, 14), // 256B to ~2MB
		}, []string{"media"}),

		DecoderWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ndib_decoder_write_errors_total",
			Help: "Access units the decoder input did not accept",
		}),
		DecodedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "ndib_decoded_frames_total",
			Help: "Raw pictures read off the decoder output",
		}),
		DecoderRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ndib_decoder_running",
			Help: "1 while the decoder process is running",
		}),

		SinkFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ndib_sink_frames_total",
			Help: "Frames handed to the sink",
		}, []string{"media"}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ndib_sink_errors_total",
			Help: "Frames the sink failed to accept",
		}, []string{"media"}),

		Throughput: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ndib_throughput_bits_per_second",
			Help: "Received bit rate over the last stats window",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
