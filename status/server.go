// Package status serves the bridge's state over HTTP: the latest throughput report, Prometheus
// metrics, a JPEG of the latest decoded picture, and websocket feeds of reports and of the
// incoming video.
package status

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/greendrake/ndibridge/decoder"
	"github.com/greendrake/ndibridge/metrics"
	"github.com/greendrake/ndibridge/sink"
	"github.com/greendrake/ndibridge/stats"
)

const JPEGQuality = 80

type Server struct {
	Name     string
	Output   decoder.Resolution
	Board    *stats.Board
	Metrics  *metrics.Metrics
	Snapshot *sink.Snapshot
	Decoder  interface{ State() string }
	Probe    interface {
		Coded() (decoder.Resolution, bool)
	}
	// Hub makes the casters behind the websocket routes; nil disables them.
	Hub *Hub
}

// State is the body of GET /stats.
type State struct {
	Name    string              `json:"name"`
	Decoder string              `json:"decoder,omitempty"`
	Output  decoder.Resolution  `json:"output"`
	Coded   *decoder.Resolution `json:"coded,omitempty"`
	Report  *stats.Report       `json:"report,omitempty"`
}

func (s *Server) State() State {
	st := State{Name: s.Name, Output: s.Output}
	if s.Decoder != nil {
		st.Decoder = s.Decoder.State()
	}
	if s.Probe != nil {
		if r, ok := s.Probe.Coded(); ok {
			st.Coded = &r
		}
	}
	if s.Board != nil {
		if r, ok := s.Board.Latest(); ok {
			st.Report = &r
		}
	}
	return st
}

// Run serves on address until ctx is done.
func (s *Server) Run(ctx context.Context, address string) error {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard
	router, err := graceful.Default(graceful.WithAddr(address))
	if err != nil {
		return err
	}
	s.routes(router)
	return router.RunWithContext(ctx)
}

// Handler returns the routes on a plain engine.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	s.routes(router)
	return router
}

func (s *Server) routes(router gin.IRouter) {
	router.Use(CrossOrigin())

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.State())
	})

	router.GET("/metrics", func(c *gin.Context) {
		if s.Metrics == nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		s.Metrics.Handler().ServeHTTP(c.Writer, c.Request)
	})

	router.GET("/snapshot.jpg", func(c *gin.Context) {
		if s.Snapshot == nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		var buf bytes.Buffer
		err := s.Snapshot.WriteJPEG(&buf, JPEGQuality)
		if errors.Is(err, sink.ErrNoPicture) {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
	})

	router.GET("/ws/stats", func(c *gin.Context) {
		var caster *Caster
		if s.Hub != nil {
			caster = s.Hub.GetCaster()
		}
		if caster == nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		client := NewClient(c, caster, s.Board)
		client.Start()
		client.Wait()
	})

	router.GET("/ws/video", func(c *gin.Context) {
		var caster *VideoCaster
		if s.Hub != nil {
			caster = s.Hub.GetVideoCaster()
		}
		if caster == nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		client := NewPreviewClient(c, caster)
		client.Start()
		client.Wait()
	})
}

// CrossOrigin Access-Control-Allow-Origin any methods
func CrossOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
