// Package preview packs H.264 access units into fragmented MP4 for Media Source Extensions.
package preview

import (
	"bytes"
	"errors"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

const (
	TimeScale = 90000
	trackID   = 1
)

var ErrEmptyAccessUnit = errors.New("access unit has no NAL units to send")

// Muxer produces one init segment and then one fragment per access unit. Each browser connection
// needs its own, since a late joiner must start from an init segment and fragment number 1.
type Muxer struct {
	seq uint32
	dts uint64
}

// Init returns the initialisation segment for a stream with the given parameter sets.
func (m *Muxer) Init(sps, pps []byte) ([]byte, error) {
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(TimeScale, "video", "und")
	if err := init.Moov.Trak.SetAVCDescriptor("avc1", [][]byte{sps}, [][]byte{pps}, true); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := init.Encode(&buf); err != nil {
		return nil, err
	}
	m.seq = 0
	m.dts = 0
	return buf.Bytes(), nil
}

// Fragment returns a media segment carrying the Annex-B access unit au, lasting duration in
// TimeScale units.
func (m *Muxer) Fragment(au []byte, duration uint32) ([]byte, error) {
	nalus, err := h264.AnnexBUnmarshal(au)
	if err != nil {
		return nil, err
	}
	sample := nalus[:0]
	for _, n := range nalus {
		if len(n) > 0 && h264.NALUType(n[0]&0x1F) != h264.NALUTypeAccessUnitDelimiter {
			sample = append(sample, n)
		}
	}
	if len(sample) == 0 {
		return nil, ErrEmptyAccessUnit
	}
	data, err := h264.AVCCMarshal(sample)
	if err != nil {
		return nil, err
	}
	var flags uint32 = mp4.NonSyncSampleFlags
	if h264.IDRPresent(sample) {
		flags = mp4.SyncSampleFlags
	}

	m.seq++
	frag, err := mp4.CreateFragment(m.seq, trackID)
	if err != nil {
		return nil, err
	}
	frag.AddFullSample(mp4.FullSample{
		Sample: mp4.Sample{
			Flags: flags,
			Dur:   duration,
			Size:  uint32(len(data)),
		},
		DecodeTime: m.dts,
		Data:       data,
	})
	m.dts += uint64(duration)

	var buf bytes.Buffer
	if err := frag.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FrameDuration converts a frame rate to a sample duration in TimeScale units.
func FrameDuration(rateN, rateD int) uint32 {
	if rateN <= 0 || rateD <= 0 {
		return TimeScale / 30
	}
	return uint32(TimeScale * rateD / rateN)
}
