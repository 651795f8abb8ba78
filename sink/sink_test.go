package sink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image/jpeg"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recording struct {
	videos []int
	audios []int
	err    error
	closed bool
}

func (r *recording) WriteVideoFrame(data []byte, width, height int, format PixelFormat, rateN, rateD int) error {
	r.videos = append(r.videos, len(data))
	return r.err
}

func (r *recording) WriteAudioFrame(samples []float32, sampleRate, channels int) error {
	r.audios = append(r.audios, len(samples))
	return r.err
}

func (r *recording) Close() error {
	r.closed = true
	return nil
}

func uyvy(width, height int, u, y0, v, y1 byte) []byte {
	data := make([]byte, 0, width*height*2)
	for i := 0; i < width*height/2; i++ {
		data = append(data, u, y0, v, y1)
	}
	return data
}

func TestMultiKeepsGoingOnError(t *testing.T) {
	bad := &recording{err: errors.New("boom")}
	good := &recording{}
	m := Multi{bad, good}

	err := m.WriteVideoFrame(make([]byte, 8), 2, 2, UYVY, 30, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []int{8}, good.videos)

	bad.err = nil
	assert.NoError(t, m.WriteAudioFrame(make([]float32, 4), 48000, 2))
	assert.Equal(t, []int{4}, good.audios)

	assert.NoError(t, m.Close())
	assert.True(t, bad.closed)
	assert.True(t, good.closed)
}

func TestMultiEmpty(t *testing.T) {
	var m Multi
	assert.NoError(t, m.WriteVideoFrame(nil, 0, 0, UYVY, 30, 1))
	assert.NoError(t, m.WriteAudioFrame(nil, 48000, 2))
}

func TestRaw(t *testing.T) {
	var video, audio bytes.Buffer
	r := &Raw{Video: &video, Audio: &audio}

	require.NoError(t, r.WriteVideoFrame(uyvy(4, 2, 1, 2, 3, 4), 4, 2, UYVY, 30, 1))
	assert.Equal(t, 16, video.Len())
	assert.Error(t, r.WriteVideoFrame(make([]byte, 3), 4, 2, UYVY, 30, 1))

	require.NoError(t, r.WriteAudioFrame([]float32{0.5, -1}, 48000, 2))
	require.Equal(t, 8, audio.Len())
	b := audio.Bytes()
	assert.Equal(t, float32(0.5), math.Float32frombits(binary.LittleEndian.Uint32(b)))
	assert.Equal(t, float32(-1), math.Float32frombits(binary.LittleEndian.Uint32(b[4:])))

	assert.NoError(t, (&Raw{}).WriteVideoFrame([]byte{1}, 1, 1, UYVY, 30, 1), "no writer, nothing to check")
	assert.NoError(t, r.Close())
}

func TestUYVYToYCbCr(t *testing.T) {
	img := UYVYToYCbCr(uyvy(4, 2, 10, 20, 30, 40), 4, 2)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			want := uint8(20)
			if x%2 == 1 {
				want = 40
			}
			assert.Equal(t, want, img.Y[img.YOffset(x, y)])
			assert.Equal(t, uint8(10), img.Cb[img.COffset(x, y)])
			assert.Equal(t, uint8(30), img.Cr[img.COffset(x, y)])
		}
	}
}

func TestSnapshot(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSnapshot(time.Second)
	s.now = func() time.Time { return clock }

	var buf bytes.Buffer
	assert.ErrorIs(t, s.WriteJPEG(&buf, 80), ErrNoPicture)

	grey := uyvy(16, 8, 128, 100, 128, 100)
	require.NoError(t, s.WriteVideoFrame(grey, 16, 8, UYVY, 30, 1))
	grey[1] = 0 // The snapshot holds its own copy

	// Sampled at most once per interval
	clock = clock.Add(500 * time.Millisecond)
	require.NoError(t, s.WriteVideoFrame(uyvy(16, 8, 128, 200, 128, 200), 16, 8, UYVY, 30, 1))
	img, err := s.Image()
	require.NoError(t, err)
	assert.Equal(t, uint8(100), img.Y[0])

	clock = clock.Add(time.Second)
	require.NoError(t, s.WriteVideoFrame(uyvy(16, 8, 128, 200, 128, 200), 16, 8, UYVY, 30, 1))
	img, err = s.Image()
	require.NoError(t, err)
	assert.Equal(t, uint8(200), img.Y[0])
	taken, ok := s.Taken()
	require.True(t, ok)
	assert.Equal(t, clock, taken)

	require.NoError(t, s.WriteJPEG(&buf, 80))
	decoded, err := jpeg.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Bounds().Dx())
	assert.Equal(t, 8, decoded.Bounds().Dy())
}

func TestSnapshotRejectsShortPicture(t *testing.T) {
	s := NewSnapshot(0)
	assert.Error(t, s.WriteVideoFrame(make([]byte, 10), 16, 8, UYVY, 30, 1))
	_, ok := s.Taken()
	assert.False(t, ok)
}
