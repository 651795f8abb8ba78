package decoder

import (
	"bytes"
	"io"

	"github.com/deepch/vdk/codec/h264parser"
	"github.com/greendrake/ndibridge/frame"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Probe passes access units through to W, watching their parameter sets for the coded picture
// size. The decoder scales whatever it gets to the output size, so a mismatch is only worth a
// warning.
type Probe struct {
	W      io.Writer
	Output Resolution

	lastSPS []byte
	coded   atomic.Pointer[Resolution]
}

func (p *Probe) Write(au []byte) (int, error) {
	if sps, pps := frame.ParameterSets(au); sps != nil && pps != nil && !bytes.Equal(sps, p.lastSPS) {
		p.lastSPS = append(p.lastSPS[:0], sps...)
		p.inspect(sps, pps)
	}
	return p.W.Write(au)
}

func (p *Probe) inspect(sps, pps []byte) {
	codec, err := h264parser.NewCodecDataFromSPSAndPPS(sps, pps)
	if err != nil {
		logrus.WithField("error", err).Warn("Cannot parse SPS")
		return
	}
	r := Resolution{Width: codec.Width(), Height: codec.Height()}
	p.coded.Store(&r)
	fields := logrus.Fields{
		"coded":  r,
		"output": p.Output,
	}
	if r != p.Output {
		logrus.WithFields(fields).Warn("Stream resolution differs from the output size, the decoder will scale")
	} else {
		logrus.WithFields(fields).Info("Stream resolution")
	}
}

// Coded returns the picture size found in the most recent SPS. Safe for concurrent use.
func (p *Probe) Coded() (Resolution, bool) {
	r := p.coded.Load()
	if r == nil {
		return Resolution{}, false
	}
	return *r, true
}
