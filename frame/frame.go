package frame

import (
	"encoding/binary"
	"math"

	"github.com/greendrake/ndibridge/packet"
)

const DefaultChannels = 2

// Frame is a complete video access unit or audio buffer, reassembled from its fragments.
type Frame struct {
	Media      packet.MediaType
	Sequence   uint32
	Timestamp  uint64
	IsKeyFrame bool
	SourceID   byte
	SampleRate uint32
	Channels   uint8
	Fragments  int
	Data       []byte
}

func (f *Frame) IsVideo() bool {
	return f.Media == packet.Video
}

func (f *Frame) IsAudio() bool {
	return f.Media == packet.Audio
}

// ChannelCount falls back to stereo when the sender left the field empty.
func (f *Frame) ChannelCount() int {
	if f.Channels == 0 {
		return DefaultChannels
	}
	return int(f.Channels)
}

// Samples interprets audio data as interleaved little-endian float32 PCM.
// Trailing bytes that do not make up a whole sample are ignored.
func (f *Frame) Samples() []float32 {
	samples := make([]float32, len(f.Data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(f.Data[i*4:]))
	}
	return samples
}
