package status

import (
	"sync"

	"github.com/greendrake/ndibridge/frame"
	"github.com/greendrake/ndibridge/stats"
	"github.com/greendrake/server_client_hierarchy"
	"go.uber.org/atomic"
)

// Hub makes the stats and video casters on demand under its source node. A caster stops with
// its last websocket client and is made afresh for the next one.
//
// The source is turned into a principally client node, so that casters coming and going never
// stop it, and whatever it outputs is cast: reports to the stats caster, video frames to the
// video caster.
type Hub struct {
	source server_client_hierarchy.NodeInterface
	// FrameDuration of preview fragments, in preview.TimeScale units
	FrameDuration uint32

	casterMakeMutex sync.Mutex
	caster          atomic.Pointer[Caster]
	video           atomic.Pointer[VideoCaster]
}

func NewHub(source server_client_hierarchy.NodeInterface, frameDuration uint32) *Hub {
	h := &Hub{
		source:        source,
		FrameDuration: frameDuration,
	}
	source.SetPrincipallyClient(true)
	source.SetOChunkHandler(h.Cast)
	return h
}

// Cast hands one chunk of the source's output to the caster it is for, if there is one.
func (h *Hub) Cast(chunk any) {
	switch chunk := chunk.(type) {
	case stats.Report:
		if caster := h.caster.Load(); caster != nil {
			caster.Output(chunk)
		}
	case *frame.Frame:
		if video := h.video.Load(); video != nil && chunk.IsVideo() {
			video.Output(chunk)
		}
	}
}

// GetCaster returns the running stats caster, making one if needed. It returns nil once the
// source has stopped.
func (h *Hub) GetCaster() *Caster {
	h.casterMakeMutex.Lock()
	defer h.casterMakeMutex.Unlock()
	if caster := h.caster.Load(); caster != nil && caster.IsRunning() {
		return caster
	}
	if !h.source.GetNode().IsRunning() {
		return nil
	}
	caster := NewCaster()
	// May run while the source holds its client lock: must not take casterMakeMutex
	caster.On("stop", func(args ...any) {
		h.caster.CompareAndSwap(caster, nil)
	})
	h.caster.Store(caster)
	h.source.AddClient(caster)
	return caster
}

// GetVideoCaster is GetCaster for the video preview.
func (h *Hub) GetVideoCaster() *VideoCaster {
	h.casterMakeMutex.Lock()
	defer h.casterMakeMutex.Unlock()
	if video := h.video.Load(); video != nil && video.IsRunning() {
		return video
	}
	if !h.source.GetNode().IsRunning() {
		return nil
	}
	video := NewVideoCaster(h.FrameDuration)
	video.On("stop", func(args ...any) {
		h.video.CompareAndSwap(video, nil)
	})
	h.video.Store(video)
	h.source.AddClient(video)
	return video
}
