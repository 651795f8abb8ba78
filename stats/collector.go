package stats

import (
	"time"

	"go.uber.org/atomic"
)

const DefaultInterval = time.Second

// Report covers one reporting window.
type Report struct {
	Seq           uint64        `json:"seq"`
	Start         time.Time     `json:"start"`
	Elapsed       time.Duration `json:"elapsed"`
	Packets       uint64        `json:"packets"`
	Bytes         uint64        `json:"bytes"`
	BitsPerSecond float64       `json:"bits_per_second"`
	AccessUnits   uint64        `json:"access_units"` // Video frames handed to the decoder
	VideoFrames   uint64        `json:"video_frames"` // Decoded video frames sent to the sink
	AudioFrames   uint64        `json:"audio_frames"`
	Dropped       uint64        `json:"dropped"` // Incomplete frames discarded
}

func (r Report) Mbps() float64 {
	return r.BitsPerSecond / 1e6
}

// Collector counts what happened since the last report.
// Everything except AddVideoFrame belongs to the receive loop. Video frames are counted by the
// decoder reader running alongside, hence the atomic.
type Collector struct {
	interval    time.Duration
	windowStart time.Time
	seq         uint64

	packets     uint64
	bytes       uint64
	accessUnits uint64
	audioFrames uint64
	dropped     uint64

	videoFrames atomic.Uint64
}

func NewCollector(interval time.Duration, now time.Time) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{
		interval:    interval,
		windowStart: now,
	}
}

func (c *Collector) Interval() time.Duration {
	return c.interval
}

func (c *Collector) AddPacket(size int) {
	c.packets++
	c.bytes += uint64(size)
}

func (c *Collector) AddAccessUnit() {
	c.accessUnits++
}

func (c *Collector) AddAudioFrame() {
	c.audioFrames++
}

func (c *Collector) AddDrop() {
	c.dropped++
}

// AddVideoFrame may be called from any goroutine.
func (c *Collector) AddVideoFrame() {
	c.videoFrames.Inc()
}

// Tick closes the window once the interval has passed, returning its report and
// starting over from zero. Windows without any traffic are reported too.
func (c *Collector) Tick(now time.Time) (Report, bool) {
	elapsed := now.Sub(c.windowStart)
	if elapsed < c.interval {
		return Report{}, false
	}
	c.seq++
	r := Report{
		Seq:         c.seq,
		Start:       c.windowStart,
		Elapsed:     elapsed,
		Packets:     c.packets,
		Bytes:       c.bytes,
		AccessUnits: c.accessUnits,
		VideoFrames: c.videoFrames.Swap(0),
		AudioFrames: c.audioFrames,
		Dropped:     c.dropped,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		r.BitsPerSecond = float64(c.bytes*8) / secs
	}
	c.packets = 0
	c.bytes = 0
	c.accessUnits = 0
	c.audioFrames = 0
	c.dropped = 0
	c.windowStart = now
	return r, true
}
