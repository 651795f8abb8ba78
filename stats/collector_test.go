package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func TestTickBeforeInterval(t *testing.T) {
	c := NewCollector(time.Second, t0)
	c.AddPacket(100)
	_, ok := c.Tick(t0.Add(999 * time.Millisecond))
	assert.False(t, ok)
}

func TestReportAndReset(t *testing.T) {
	c := NewCollector(time.Second, t0)
	c.AddPacket(1000)
	c.AddPacket(250000)
	c.AddAccessUnit()
	c.AddAudioFrame()
	c.AddAudioFrame()
	c.AddDrop()
	c.AddVideoFrame()

	r, ok := c.Tick(t0.Add(2 * time.Second))
	require.True(t, ok)
	assert.Equal(t, uint64(1), r.Seq)
	assert.Equal(t, t0, r.Start)
	assert.Equal(t, 2*time.Second, r.Elapsed)
	assert.Equal(t, uint64(2), r.Packets)
	assert.Equal(t, uint64(251000), r.Bytes)
	assert.InDelta(t, 1004000.0, r.BitsPerSecond, 0.001)
	assert.InDelta(t, 1.004, r.Mbps(), 0.000001)
	assert.Equal(t, uint64(1), r.AccessUnits)
	assert.Equal(t, uint64(1), r.VideoFrames)
	assert.Equal(t, uint64(2), r.AudioFrames)
	assert.Equal(t, uint64(1), r.Dropped)

	r, ok = c.Tick(t0.Add(3 * time.Second))
	require.True(t, ok)
	assert.Equal(t, uint64(2), r.Seq)
	assert.Equal(t, t0.Add(2*time.Second), r.Start)
	assert.Zero(t, r.Packets)
	assert.Zero(t, r.Bytes)
	assert.Zero(t, r.BitsPerSecond)
	assert.Zero(t, r.AccessUnits)
	assert.Zero(t, r.VideoFrames)
	assert.Zero(t, r.AudioFrames)
	assert.Zero(t, r.Dropped)
}

func TestEmptyWindowStillResets(t *testing.T) {
	c := NewCollector(0, t0)
	assert.Equal(t, DefaultInterval, c.Interval())

	r, ok := c.Tick(t0.Add(time.Second))
	require.True(t, ok)
	assert.Zero(t, r.Packets)

	c.AddPacket(10)
	_, ok = c.Tick(t0.Add(1500 * time.Millisecond))
	assert.False(t, ok, "window restarted at the previous report")
}

func TestVideoFramesFromAnotherGoroutine(t *testing.T) {
	c := NewCollector(time.Second, t0)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				c.AddVideoFrame()
			}
		}()
	}
	wg.Wait()
	r, ok := c.Tick(t0.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, uint64(1000), r.VideoFrames)
}

func TestBoard(t *testing.T) {
	var b Board
	_, ok := b.Latest()
	assert.False(t, ok)

	b.Publish(Report{Seq: 3, Packets: 7})
	r, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(3), r.Seq)
	assert.Equal(t, uint64(7), r.Packets)
}
