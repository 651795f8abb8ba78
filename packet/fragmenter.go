package packet

import (
	"fmt"
)

const DefaultMaxPayload = 1400 // Fits an Ethernet MTU together with IP/UDP headers and our own

// Fragmenter slices frames into datagrams. Each media type has its own sequence counter.
type Fragmenter struct {
	SourceID   byte
	MaxPayload int
	sequence   [2]uint32
}

type Meta struct {
	KeyFrame   bool
	Timestamp  uint64
	SampleRate uint32
	Channels   uint8
}

func NewFragmenter(sourceID byte, maxPayload int) *Fragmenter {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Fragmenter{
		SourceID:   sourceID,
		MaxPayload: maxPayload,
	}
}

// Fragment returns the datagrams carrying data as one frame of the given media type.
func (f *Fragmenter) Fragment(media MediaType, data []byte, meta Meta) ([][]byte, error) {
	if media != Video && media != Audio {
		return nil, fmt.Errorf("unsupported media type %d", media)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("frame data cannot be empty")
	}
	if f.MaxPayload > 0xFFFF {
		return nil, fmt.Errorf("max payload too large: %d", f.MaxPayload)
	}
	count := (len(data) + f.MaxPayload - 1) / f.MaxPayload
	if count > 0xFFFF {
		return nil, fmt.Errorf("frame too large: %d bytes need %d fragments", len(data), count)
	}
	seq := f.sequence[media]
	f.sequence[media]++
	var flags byte
	if meta.KeyFrame {
		flags |= FlagKeyFrame
	}
	datagrams := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * f.MaxPayload
		end := min(start+f.MaxPayload, len(data))
		d, err := Marshal(Header{
			Version:        1,
			MediaType:      media,
			SourceID:       f.SourceID,
			Flags:          flags,
			SequenceNumber: seq,
			Timestamp:      meta.Timestamp,
			TotalSize:      uint32(len(data)),
			FragmentIndex:  uint16(i),
			FragmentCount:  uint16(count),
			SampleRate:     meta.SampleRate,
			Channels:       meta.Channels,
		}, data[start:end])
		if err != nil {
			return nil, err
		}
		datagrams = append(datagrams, d)
	}
	return datagrams, nil
}
