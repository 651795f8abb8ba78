package stats

import (
	"go.uber.org/atomic"
)

// Board holds the latest report for readers outside the receive loop (status API, websocket
// clients). Publish is called by the receive loop only.
type Board struct {
	latest atomic.Pointer[Report]
}

func (b *Board) Publish(r Report) {
	b.latest.Store(&r)
}

func (b *Board) Latest() (Report, bool) {
	r := b.latest.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}
