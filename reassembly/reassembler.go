// Package reassembly rebuilds frames out of their datagram fragments.
//
// A Reassembler tracks exactly one sequence at a time. The first fragment of a newer
// sequence supersedes whatever was being collected, so frames of one media type are
// always emitted in the order they complete and an older sequence can never complete
// once it has been superseded. There is no retransmission: a frame missing a fragment
// is dropped when the next sequence starts, or when it goes stale. Once a frame completes
// the Reassembler is idle again, and the next fragment starts a new frame whatever its
// sequence number.
//
// A Reassembler is not safe for concurrent use. It is owned by the receive loop.
package reassembly

import (
	"time"

	"github.com/greendrake/ndibridge/frame"
	"github.com/greendrake/ndibridge/packet"
)

type DropReason string

const (
	DropSuperseded DropReason = "superseded"
	DropStale      DropReason = "stale"
)

// Drop describes an incomplete frame that has been discarded.
type Drop struct {
	Media    packet.MediaType
	Sequence uint32
	Received int
	Expected int
	Reason   DropReason
}

type Reassembler struct {
	media packet.MediaType

	// Collecting state. active is false when idle.
	active       bool
	sequence     uint32
	expected     int
	fragments    map[uint16][]byte
	meta         packet.Header
	lastActivity time.Time

	// StaleAfter evicts a sequence that has not seen a fragment for this long. 0 disables.
	StaleAfter time.Duration
	OnDrop     func(Drop)
	now        func() time.Time
}

func New(media packet.MediaType) *Reassembler {
	return &Reassembler{
		media:     media,
		fragments: make(map[uint16][]byte),
		now:       time.Now,
	}
}

// Sequence returns the sequence being collected, if any.
func (r *Reassembler) Sequence() (uint32, bool) {
	return r.sequence, r.active
}

// Pending is the number of distinct fragments held for the current sequence.
func (r *Reassembler) Pending() int {
	return len(r.fragments)
}

// Add stores one fragment. It returns the completed frame when this fragment was the
// last one missing, nil otherwise. payload is copied.
func (r *Reassembler) Add(h *packet.Header, payload []byte) *frame.Frame {
	if !r.active || h.SequenceNumber != r.sequence {
		r.drop(DropSuperseded)
		r.active = true
		r.sequence = h.SequenceNumber
		r.expected = int(h.FragmentCount)
		r.meta = *h
	}
	r.lastActivity = r.now()
	if int(h.FragmentIndex) >= r.expected {
		// Cannot belong to a frame of expected fragments
		return nil
	}
	if h.IsKeyFrame() {
		r.meta.Flags |= packet.FlagKeyFrame
	}
	r.fragments[h.FragmentIndex] = append([]byte(nil), payload...)
	if len(r.fragments) < r.expected {
		return nil
	}
	return r.complete()
}

func (r *Reassembler) complete() *frame.Frame {
	size := 0
	for _, p := range r.fragments {
		size += len(p)
	}
	data := make([]byte, 0, size)
	for i := 0; i < r.expected; i++ {
		data = append(data, r.fragments[uint16(i)]...)
	}
	f := &frame.Frame{
		Media:      r.media,
		Sequence:   r.sequence,
		Timestamp:  r.meta.Timestamp,
		IsKeyFrame: r.meta.IsKeyFrame(),
		SourceID:   r.meta.SourceID,
		SampleRate: r.meta.SampleRate,
		Channels:   r.meta.Channels,
		Fragments:  r.expected,
		Data:       data,
	}
	r.reset()
	return f
}

// Expire drops the current sequence if it went stale. It reports whether it did.
func (r *Reassembler) Expire(now time.Time) bool {
	if r.StaleAfter <= 0 || !r.active || now.Sub(r.lastActivity) < r.StaleAfter {
		return false
	}
	r.drop(DropStale)
	r.reset()
	return true
}

func (r *Reassembler) drop(reason DropReason) {
	if !r.active || len(r.fragments) == 0 {
		return
	}
	if r.OnDrop != nil {
		r.OnDrop(Drop{
			Media:    r.media,
			Sequence: r.sequence,
			Received: len(r.fragments),
			Expected: r.expected,
			Reason:   reason,
		})
	}
	clear(r.fragments)
}

func (r *Reassembler) reset() {
	r.active = false
	r.expected = 0
	r.meta = packet.Header{}
	clear(r.fragments)
}
