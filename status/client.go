package status

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/greendrake/ndibridge/stats"
	"github.com/greendrake/server_client_hierarchy"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

const WriteTimeout = 100 * time.Millisecond

// Caster relays reports to whatever websocket clients are attached. See Hub.
type Caster struct {
	server_client_hierarchy.Node
}

func NewCaster() *Caster {
	caster := &Caster{}
	caster.GetNode().ID = "Stats caster"
	return caster
}

// Client is a principally client Node.
// It runs standalone initially and attaches to the Caster as soon as it is created; reports queue
// up until the websocket is ready.
type Client struct {
	server_client_hierarchy.Node
	board              *stats.Board
	wsReadyChannel     chan bool
	stopCommandChannel chan bool
	ws                 *websocket.Conn
	wsReady            bool
	wsWriteMutex       sync.Mutex
}

func NewClient(c *gin.Context, caster *Caster, board *stats.Board) *Client {
	client := &Client{
		board:          board,
		wsReadyChannel: make(chan bool),
	}
	client.GetNode().ID = "Client " + uuid.New().String() + ", " + caster.GetNode().ID
	client.SetPrincipallyClient(true)
	client.SetTask(func(ch chan bool) {
		client.stopCommandChannel = ch
		handler := websocket.Handler(client.wsHandler)
		handler.ServeHTTP(c.Writer, c.Request)
	})
	client.SetIChunkHandler(client.reportHandler)
	client.On("stop", func(args ...any) {
		logrus.WithField("client", client.GetNode().ID).Debug("Websocket client gone")
	})
	caster.AddClient(client)
	return client
}

func (c *Client) reportHandler(chunk any) {
	if !c.wsReady {
		<-c.wsReadyChannel
		c.wsReady = true
	}
	if r, ok := chunk.(stats.Report); ok {
		c.send(r)
	}
}

func (c *Client) send(r stats.Report) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	c.wsWriteMutex.Lock()
	defer c.wsWriteMutex.Unlock()
	if c.ws == nil {
		return
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		// Stopping flushes the input queue through reportHandler, so not from this goroutine
		go c.stopAndClose()
		return
	}
	if err := websocket.Message.Send(c.ws, string(data)); err != nil {
		go c.stopAndClose()
	}
}

func (c *Client) wsHandler(ws *websocket.Conn) {
	defer c.stopAndClose()
	c.wsWriteMutex.Lock()
	c.ws = ws
	c.wsWriteMutex.Unlock()
	logrus.WithField("client", c.GetNode().ID).Debug("Websocket client connected")
	if c.board != nil {
		if r, ok := c.board.Latest(); ok {
			c.send(r)
		}
	}
	// Nothing is expected from the browser; reading only detects the disconnection.
	go func() {
		var message string
		for {
			if err := websocket.Message.Receive(ws, &message); err != nil {
				c.stopAndClose()
				return
			}
		}
	}()
	select {
	case <-c.Node.Ctx.Done():
		<-c.stopCommandChannel
	case c.wsReadyChannel <- true: // Taken by the first report; there may never be one
		<-c.stopCommandChannel
	case <-c.stopCommandChannel:
	}
}

func (c *Client) stopAndClose() {
	c.wsWriteMutex.Lock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.wsWriteMutex.Unlock()
	c.Stop()
}
