package decoder

import (
	"io"

	"github.com/greendrake/ndibridge/frame"
	"github.com/sirupsen/logrus"
)

// KeyFrameGate holds back access units until the first one with an IDR slice, so that the decoder
// does not start off a stream it cannot make sense of. Every Write must be exactly one Annex-B
// access unit. Once open, the gate never closes again.
type KeyFrameGate struct {
	W       io.Writer
	open    bool
	skipped int
}

func (g *KeyFrameGate) Write(au []byte) (int, error) {
	if !g.open {
		if !frame.IsIDR(au) {
			g.skipped++
			return len(au), nil
		}
		g.open = true
		logrus.WithField("skipped", g.skipped).Info("First key frame received, decoding")
	}
	return g.W.Write(au)
}

func (g *KeyFrameGate) Open() bool {
	return g.open
}

// Skipped is the number of access units discarded before the gate opened.
func (g *KeyFrameGate) Skipped() int {
	return g.skipped
}
