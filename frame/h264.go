package frame

import (
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

// IsIDR tells whether an Annex-B access unit carries an IDR slice.
func IsIDR(au []byte) bool {
	nalus, err := h264.AnnexBUnmarshal(au)
	if err != nil {
		return false
	}
	return h264.IDRPresent(nalus)
}

// ParameterSets returns the last SPS and PPS found in an Annex-B access unit.
func ParameterSets(au []byte) (sps []byte, pps []byte) {
	nalus, err := h264.AnnexBUnmarshal(au)
	if err != nil {
		return nil, nil
	}
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			sps = nalu
		case h264.NALUTypePPS:
			pps = nalu
		}
	}
	return sps, pps
}
