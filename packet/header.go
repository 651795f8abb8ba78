package packet

// Every datagram starts with a fixed 38 bytes long header, all multi-byte fields big-endian.
// The payload (PayloadSize bytes) follows immediately.

const (
	Magic      uint32 = 0x4E444942 // "NDIB"
	HeaderSize        = 38

	FlagKeyFrame byte = 0x01
)

type MediaType uint8

const (
	Video MediaType = 0
	Audio MediaType = 1
)

func (m MediaType) String() string {
	switch m {
	case Video:
		return "video"
	case Audio:
		return "audio"
	}
	return "unknown"
}

type Header struct {
	Magic          uint32
	Version        byte
	MediaType      MediaType
	SourceID       byte
	Flags          byte
	SequenceNumber uint32 // Frame ordinal number, shared by all fragments of the frame
	Timestamp      uint64
	TotalSize      uint32 // Size of the whole frame
	FragmentIndex  uint16
	FragmentCount  uint16
	PayloadSize    uint16
	SampleRate     uint32 // Audio only
	Channels       uint8  // Audio only
	_              [3]byte
}

func (h Header) IsKeyFrame() bool {
	return h.Flags&FlagKeyFrame != 0
}
