package decoder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/greendrake/ndibridge/metrics"
	"github.com/greendrake/ndibridge/sink"
	"github.com/greendrake/ndibridge/stats"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	startCode = []byte{0, 0, 0, 1}
	sps352    = []byte{
		0x67, 0x64, 0x00, 0x0c, 0xac, 0x3b, 0x50, 0xb0,
		0x4b, 0x42, 0x00, 0x00, 0x03, 0x00, 0x02, 0x00,
		0x00, 0x03, 0x00, 0x3d, 0x08,
	}
	pps      = []byte{0x68, 0xee, 0x3c, 0x80}
	idrSlice = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	pSlice   = []byte{0x41, 0x9a, 0x02, 0x04}
)

func annexB(nalus ...[]byte) []byte {
	var b []byte
	for _, n := range nalus {
		b = append(b, startCode...)
		b = append(b, n...)
	}
	return b
}

type videoSink struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (s *videoSink) WriteVideoFrame(data []byte, width, height int, format sink.PixelFormat, rateN, rateD int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), data...))
	return s.err
}

func (s *videoSink) WriteAudioFrame(samples []float32, sampleRate, channels int) error {
	return nil
}

func TestReadFramesWhole(t *testing.T) {
	var got []string
	err := ReadFrames(context.Background(), strings.NewReader("aaaabbbbcccc"), 4, func(p []byte) {
		got = append(got, string(p))
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"aaaa", "bbbb", "cccc"}, got)
}

func TestReadFramesPartial(t *testing.T) {
	var got []string
	err := ReadFrames(context.Background(), strings.NewReader("aaaabb"), 4, func(p []byte) {
		got = append(got, string(p))
	})
	require.ErrorIs(t, err, ErrPartialFrame)
	assert.Contains(t, err.Error(), "2/4")
	assert.Equal(t, []string{"aaaa"}, got, "the partial picture is not passed on")
}

func TestReadFramesEmpty(t *testing.T) {
	called := false
	err := ReadFrames(context.Background(), strings.NewReader(""), 4, func(p []byte) { called = true })
	assert.NoError(t, err)
	assert.False(t, called)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestReadFramesError(t *testing.T) {
	err := ReadFrames(context.Background(), failingReader{}, 4, func(p []byte) {})
	assert.EqualError(t, err, "broken pipe")
}

func TestReadFramesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	err := ReadFrames(ctx, strings.NewReader("aaaabbbbcccc"), 4, func(p []byte) {
		n++
		cancel()
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReadFramesBadSize(t *testing.T) {
	assert.Error(t, ReadFrames(context.Background(), strings.NewReader("x"), 0, func(p []byte) {}))
}

func TestFrameReaderReusesBuffer(t *testing.T) {
	fr := NewFrameReader(strings.NewReader("abcdefgh"), 4)
	a, err := fr.Next()
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(a))
	b, err := fr.Next()
	require.NoError(t, err)
	assert.Equal(t, "efgh", string(b))
	_, err = fr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestKeyFrameGate(t *testing.T) {
	var out bytes.Buffer
	g := &KeyFrameGate{W: &out}

	p := annexB(pSlice)
	n, err := g.Write(p)
	require.NoError(t, err)
	assert.Equal(t, len(p), n, "held back access units still count as written")
	assert.False(t, g.Open())
	assert.Zero(t, out.Len())

	idr := annexB(sps352, pps, idrSlice)
	_, err = g.Write(idr)
	require.NoError(t, err)
	assert.True(t, g.Open())
	assert.Equal(t, 1, g.Skipped())

	_, err = g.Write(p)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte(nil), idr...), p...), out.Bytes())
}

func TestProbe(t *testing.T) {
	var out bytes.Buffer
	p := &Probe{W: &out, Output: Resolution{Width: 1920, Height: 1080}}

	_, ok := p.Coded()
	assert.False(t, ok)

	_, err := p.Write(annexB(pSlice))
	require.NoError(t, err)
	_, ok = p.Coded()
	assert.False(t, ok)

	au := annexB(sps352, pps, idrSlice)
	_, err = p.Write(au)
	require.NoError(t, err)
	r, ok := p.Coded()
	require.True(t, ok)
	assert.Equal(t, Resolution{Width: 352, Height: 288}, r)
	assert.Equal(t, len(au)+len(annexB(pSlice)), out.Len(), "everything is passed through")
}

func TestPump(t *testing.T) {
	s := &videoSink{err: errors.New("sink down")}
	m := metrics.New()
	c := stats.NewCollector(time.Second, time.Unix(0, 0))
	// Two 2x1 UYVY pictures and half of a third
	out := io.NopCloser(bytes.NewReader([]byte("1234567812")))
	p := &Pump{Output: out, Sink: s, Width: 2, Height: 1, RateN: 30, RateD: 1, Stats: c, Metrics: m}

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrPartialFrame)
	assert.Equal(t, [][]byte{[]byte("1234"), []byte("5678")}, s.frames)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecodedFrames))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SinkErrors.WithLabelValues("video")))

	r, ok := c.Tick(time.Unix(1, 0))
	require.True(t, ok)
	assert.Equal(t, uint64(2), r.VideoFrames)
}

func requireCat(t *testing.T) string {
	path, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat is not available")
	}
	return path
}

// cat makes a decoder that outputs exactly what it is given.
func TestProcessWithCat(t *testing.T) {
	var states []string
	var mu sync.Mutex
	p := NewProcess(requireCat(t))
	p.OnStateChange = func(from, to string) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, to)
	}
	assert.Equal(t, StateIdle, p.State())
	_, err := p.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, p.Start())
	assert.Equal(t, StateRunning, p.State())
	assert.Error(t, p.Start())

	var got []string
	done := make(chan error, 1)
	go func() {
		done <- ReadFrames(context.Background(), p.Output(), 6, func(b []byte) {
			got = append(got, string(b))
		})
	}()

	_, err = p.Write([]byte("ABCDEF"))
	require.NoError(t, err)
	_, err = p.Write([]byte("GHIJKL"))
	require.NoError(t, err)
	require.NoError(t, p.CloseInput())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("decoder output did not end")
	}
	assert.Equal(t, []string{"ABCDEF", "GHIJKL"}, got)

	require.NoError(t, p.Stop())
	assert.Equal(t, StateStopped, p.State())
	assert.NoError(t, p.Err())
	mu.Lock()
	assert.Equal(t, []string{StateRunning, StateDraining, StateStopped}, states)
	mu.Unlock()

	_, err = p.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestProcessPartialOutput(t *testing.T) {
	p := NewProcess(requireCat(t))
	require.NoError(t, p.Start())
	done := make(chan error, 1)
	go func() {
		done <- ReadFrames(context.Background(), p.Output(), 6, func(b []byte) {})
	}()
	_, err := p.Write([]byte("ABCDEFGHI"))
	require.NoError(t, err)
	require.NoError(t, p.CloseInput())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrPartialFrame)
	case <-time.After(5 * time.Second):
		t.Fatal("decoder output did not end")
	}
	require.NoError(t, p.Stop())
}

func TestProcessReaderHangsUp(t *testing.T) {
	p := NewProcess(requireCat(t))
	p.StopTimeout = 100 * time.Millisecond
	require.NoError(t, p.Start())
	require.NoError(t, p.Output().Close())
	// cat cannot get rid of its output any more; Stop must not hang on it
	_, _ = p.Write([]byte("ABCDEF"))
	require.NoError(t, p.Stop())
	select {
	case <-p.Done():
	default:
		t.Fatal("not done after Stop")
	}
}

type closeFails struct {
	io.WriteCloser
}

func (c closeFails) Close() error {
	c.WriteCloser.Close()
	return errors.New("close failed")
}

func TestStopReportsInputCloseError(t *testing.T) {
	p := NewProcess(requireCat(t))
	require.NoError(t, p.Start())
	go io.Copy(io.Discard, p.Output())
	p.stdin = closeFails{p.stdin}
	err := p.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
	assert.Equal(t, StateStopped, p.State())
}

func TestProcessCannotStart(t *testing.T) {
	p := NewProcess("/nonexistent/decoder")
	assert.Error(t, p.Start())
	assert.Equal(t, StateStopped, p.State())
	assert.NoError(t, p.Stop())
}
