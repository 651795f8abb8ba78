package status

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/greendrake/ndibridge/frame"
	"github.com/greendrake/ndibridge/preview"
	"github.com/greendrake/server_client_hierarchy"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

// CutOff tells the browser to expect a new init segment.
const CutOff byte = 0xFF

// VideoCaster relays complete video frames to preview clients. See Hub.
type VideoCaster struct {
	server_client_hierarchy.Node
	// FrameDuration is the fragment duration in preview.TimeScale units.
	FrameDuration uint32
}

func NewVideoCaster(frameDuration uint32) *VideoCaster {
	caster := &VideoCaster{FrameDuration: frameDuration}
	caster.GetNode().ID = "Video caster"
	return caster
}

// PreviewClient streams fragmented MP4 to one browser over a websocket. It is a principally client
// Node, like Client. Frames queue up until the websocket is ready; nothing is sent before the first
// key frame that carries its parameter sets.
type PreviewClient struct {
	server_client_hierarchy.Node
	duration           uint32
	wsReadyChannel     chan bool
	stopCommandChannel chan bool
	ws                 *websocket.Conn
	wsReady            bool
	// Each client has its own muxer, so a browser joining late starts from an init segment.
	muxer        *preview.Muxer
	started      bool
	wsWriteMutex sync.Mutex
}

func NewPreviewClient(c *gin.Context, caster *VideoCaster) *PreviewClient {
	client := &PreviewClient{
		duration:       caster.FrameDuration,
		wsReadyChannel: make(chan bool),
	}
	client.GetNode().ID = "Preview " + uuid.New().String() + ", " + caster.GetNode().ID
	client.SetPrincipallyClient(true)
	client.SetTask(func(ch chan bool) {
		client.stopCommandChannel = ch
		handler := websocket.Handler(client.wsHandler)
		handler.ServeHTTP(c.Writer, c.Request)
	})
	client.SetIChunkHandler(client.videoChunkHandler)
	caster.AddClient(client)
	return client
}

func (c *PreviewClient) videoChunkHandler(chunk any) {
	if !c.wsReady {
		<-c.wsReadyChannel
		c.wsReady = true
	}
	f := chunk.(*frame.Frame)
	c.wsWriteMutex.Lock()
	defer c.wsWriteMutex.Unlock()
	if !c.started {
		if !f.IsKeyFrame && !frame.IsIDR(f.Data) {
			return
		}
		sps, pps := frame.ParameterSets(f.Data)
		if sps == nil || pps == nil {
			return
		}
		c.muxer = &preview.Muxer{}
		init, err := c.muxer.Init(sps, pps)
		if err != nil {
			logrus.WithFields(logrus.Fields{"client": c.GetNode().ID, "error": err}).Warn("Cannot start preview")
			return
		}
		c.started = true
		c.writeToWS(init)
	}
	// A little under the real duration keeps the browser hungry, so it shows pictures as soon as
	// they arrive instead of lagging behind.
	fragment, err := c.muxer.Fragment(f.Data, c.duration*10/12)
	if err != nil {
		logrus.WithFields(logrus.Fields{"client": c.GetNode().ID, "sequence": f.Sequence, "error": err}).Debug("Skipping preview frame")
		return
	}
	c.writeToWS(fragment)
}

// writeToWS must be called with wsWriteMutex held.
func (c *PreviewClient) writeToWS(data []byte) {
	if c.ws == nil {
		return
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		// Stopping flushes the input queue through videoChunkHandler, so not from this goroutine
		go c.stopAndClose()
		return
	}
	if err := websocket.Message.Send(c.ws, data); err != nil {
		go c.stopAndClose()
	}
}

func (c *PreviewClient) wsHandler(ws *websocket.Conn) {
	defer c.stopAndClose()
	c.wsWriteMutex.Lock()
	c.ws = ws
	c.wsWriteMutex.Unlock()
	// Detects the disconnection, and takes reset requests
	go func() {
		var message string
		for {
			err := websocket.Message.Receive(ws, &message)
			if err != nil {
				c.stopAndClose()
				return
			}
			if message == "reset" {
				c.wsWriteMutex.Lock()
				c.started = false
				c.writeToWS([]byte{CutOff})
				c.wsWriteMutex.Unlock()
			}
		}
	}()
	select {
	case <-c.Node.Ctx.Done():
		<-c.stopCommandChannel
	case c.wsReadyChannel <- true: // Taken by the first frame; there may never be one
		<-c.stopCommandChannel
	case <-c.stopCommandChannel:
	}
}

func (c *PreviewClient) stopAndClose() {
	c.wsWriteMutex.Lock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.wsWriteMutex.Unlock()
	c.Stop()
}
