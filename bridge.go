package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/greendrake/ndibridge/config"
	"github.com/greendrake/ndibridge/decoder"
	"github.com/greendrake/ndibridge/frame"
	"github.com/greendrake/ndibridge/metrics"
	"github.com/greendrake/ndibridge/preview"
	"github.com/greendrake/ndibridge/receiver"
	"github.com/greendrake/ndibridge/recorder"
	"github.com/greendrake/ndibridge/sink"
	"github.com/greendrake/ndibridge/stats"
	"github.com/greendrake/ndibridge/status"
	"github.com/greendrake/server_client_hierarchy"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// The top node, holding the receive and decode nodes
type Bridge struct {
	server_client_hierarchy.Node
	cfg      *config.Config
	metrics  *metrics.Metrics
	stats    *stats.Collector
	board    *stats.Board
	conn     *net.UDPConn
	proc     *decoder.Process
	probe    *decoder.Probe
	sinks    sink.Multi
	snapshot *sink.Snapshot
	recorder *recorder.Recorder
	rn       *receiveNode
	dn       *decodeNode
	hub      *status.Hub
}

// Node that runs the receive loop
type receiveNode struct {
	server_client_hierarchy.Node
}

// Node that reads decoded pictures
type decodeNode struct {
	server_client_hierarchy.Node
}

// New opens everything the bridge needs. Nothing runs until Start.
func New(cfg *config.Config) (*Bridge, error) {
	b := &Bridge{
		cfg:     cfg,
		metrics: metrics.New(),
		stats:   stats.NewCollector(cfg.Stats.Interval, time.Now()),
		board:   &stats.Board{},
	}
	b.GetNode().ID = "Bridge [" + cfg.Name + "]"

	sinks, err := b.openSinks()
	if err != nil {
		return nil, err
	}
	b.sinks = sinks

	if cfg.Recorder.Dir != "" {
		b.recorder = recorder.New(filepath.Join(cfg.Recorder.Dir, cfg.Name), cfg.Recorder.Segment)
	}

	b.proc = decoder.NewProcess(cfg.Decoder.Command, cfg.DecoderArgs()...)
	b.proc.StopTimeout = cfg.Decoder.StopTimeout
	b.proc.OnStateChange = func(from, to string) {
		if to == decoder.StateRunning {
			b.metrics.DecoderRunning.Set(1)
		} else {
			b.metrics.DecoderRunning.Set(0)
		}
	}

	b.conn, err = receiver.Listen(cfg.ListenAddress(), cfg.Listen.ReadBuffer)
	if err != nil {
		b.sinks.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bridge) openSinks() (sink.Multi, error) {
	var sinks sink.Multi
	if b.cfg.Status.Address != "" {
		b.snapshot = sink.NewSnapshot(b.cfg.Status.SnapshotInterval)
		sinks = append(sinks, b.snapshot)
	}
	if b.cfg.Output.Video != "" || b.cfg.Output.Audio != "" {
		raw := &sink.Raw{}
		if b.cfg.Output.Video != "" {
			f, err := os.Create(b.cfg.Output.Video)
			if err != nil {
				return nil, fmt.Errorf("cannot open video output: %w", err)
			}
			raw.Video = f
		}
		if b.cfg.Output.Audio != "" {
			f, err := os.Create(b.cfg.Output.Audio)
			if err != nil {
				raw.Close()
				return nil, fmt.Errorf("cannot open audio output: %w", err)
			}
			raw.Audio = f
		}
		sinks = append(sinks, raw)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, sink.Log{Name: b.cfg.Name})
	}
	return sinks, nil
}

// Start launches the decoder and attaches the task nodes. The bridge runs until ctx is done.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.proc.Start(); err != nil {
		return err
	}
	b.SetContextWaiter(ctx)

	rateN, rateD, _ := b.cfg.FrameRate()
	pump := &decoder.Pump{
		Output:  b.proc.Output(),
		Sink:    b.sinks,
		Width:   b.cfg.Video.Width,
		Height:  b.cfg.Video.Height,
		RateN:   rateN,
		RateD:   rateD,
		Stats:   b.stats,
		Metrics: b.metrics,
	}
	dn := &decodeNode{}
	dn.GetNode().ID = "Decoder [" + b.cfg.Decoder.Command + "]"
	dn.SetTask(func(ch chan bool) {
		// Runs until the decoder output ends or the context is done; the receive node closes the
		// decoder input on shutdown
		pump.Run(dn.Node.Ctx)
		if dn.Node.Ctx.Err() == nil {
			logrus.Error("Decoder gone, video will not be forwarded any more")
			go dn.Stop()
		}
		<-ch
	})
	b.dn = dn
	b.AddClient(dn)

	rcv := receiver.New(b.conn, receiver.Options{
		AudioEnabled: b.cfg.Audio.Enabled,
		PollInterval: b.cfg.Listen.PollInterval,
		StaleAfter:   b.cfg.Reassembly.StaleAfter,
	})
	rcv.Decoder = b.decoderInput()
	rcv.Sink = b.sinks
	rcv.Stats = b.stats
	rcv.Metrics = b.metrics
	rn := &receiveNode{}
	rn.GetNode().ID = "Receiver [" + b.cfg.ListenAddress() + "]"
	if b.cfg.Status.Address != "" {
		b.hub = status.NewHub(rn, preview.FrameDuration(rateN, rateD))
	}
	if b.recorder != nil || b.hub != nil {
		rcv.Tap = func(f *frame.Frame) {
			if b.recorder != nil {
				b.recorder.WriteFrame(f)
			}
			if b.hub != nil && f.IsVideo() {
				rn.Output(f)
			}
		}
	}
	rcv.OnReport = func(r stats.Report) {
		b.board.Publish(r)
		if b.hub != nil {
			rn.Output(r)
		}
	}
	rn.SetTask(func(ch chan bool) {
		defer b.conn.Close()
		loopCtx, cancel := context.WithCancel(rn.Node.Ctx)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			done <- rcv.Run(loopCtx)
		}()
		select {
		case <-ch:
			cancel()
			<-done
			go b.proc.Stop()
		case err := <-done:
			// The decoder reader only ends once the input is closed, so this comes before waiting
			go b.proc.Stop()
			if err != nil && rn.Node.Ctx.Err() == nil {
				logrus.WithField("error", err).Error("Receive loop failed")
				go rn.Stop()
			}
			<-ch
		}
	})
	b.rn = rn
	b.AddClient(rn)

	if b.hub != nil {
		srv := &status.Server{
			Name:     b.cfg.Name,
			Output:   decoder.Resolution{Width: b.cfg.Video.Width, Height: b.cfg.Video.Height},
			Board:    b.board,
			Metrics:  b.metrics,
			Snapshot: b.snapshot,
			Decoder:  b.proc,
			Hub:      b.hub,
		}
		if b.probe != nil {
			srv.Probe = b.probe
		}
		go func() {
			logrus.WithField("address", b.cfg.Status.Address).Info("Status server listening")
			if err := srv.Run(ctx, b.cfg.Status.Address); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithField("error", err).Error("Status server failed")
			}
		}()
	}
	return nil
}

// decoderInput is where the receive loop writes access units: the decoder, behind the optional
// resolution probe and key frame gate.
func (b *Bridge) decoderInput() io.Writer {
	var w io.Writer = b.proc
	if b.cfg.Decoder.ProbeResolution {
		b.probe = &decoder.Probe{
			W:      w,
			Output: decoder.Resolution{Width: b.cfg.Video.Width, Height: b.cfg.Video.Height},
		}
		w = b.probe
	}
	if b.cfg.Decoder.WaitForKeyFrame {
		w = &decoder.KeyFrameGate{W: w}
	}
	return w
}

// Close releases what the nodes do not own. Call after Wait.
func (b *Bridge) Close() error {
	var result *multierror.Error
	if err := b.proc.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	if b.recorder != nil {
		if err := b.recorder.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := b.sinks.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func GetWorkDir() string {
	ex, err := os.Executable()
	if err != nil {
		panic(err)
	}
	dir := filepath.Dir(ex)
	// `go run` builds into a temporary directory
	if strings.Contains(dir, "go-build") {
		return "."
	}
	return dir
}

func setupLogging(c config.LogConfig) error {
	logrus.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("%w: Log.Level: %v", config.ErrInvalid, err)
	}
	logrus.SetLevel(level)
	if c.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func loadConfig(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("ndibridge", flag.ContinueOnError)
	configFile := fs.String("config", "", "YAML config file (default config.yaml next to the executable, if any)")
	port := fs.Int("port", 0, "UDP port to listen on")
	name := fs.String("name", "", "Source name")
	width := fs.Int("width", 0, "Output width")
	height := fs.Int("height", 0, "Output height")
	noAudio := fs.Bool("no-audio", false, "Ignore audio datagrams")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	path := *configFile
	if path == "" {
		candidate := filepath.Join(GetWorkDir(), "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Listen.Port = *port
		case "name":
			cfg.Name = *name
		case "width":
			cfg.Video.Width = *width
		case "height":
			cfg.Video.Height = *height
		case "no-audio":
			cfg.Audio.Enabled = !*noAudio
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Log); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"name":       cfg.Name,
		"listen":     cfg.ListenAddress(),
		"width":      cfg.Video.Width,
		"height":     cfg.Video.Height,
		"frame_rate": cfg.Video.FrameRate,
		"audio":      cfg.Audio.Enabled,
	}).Info("Starting bridge")

	b, err := New(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := b.Start(ctx); err != nil {
		b.conn.Close()
		b.Close()
		return err
	}
	b.Wait()
	err = b.Close()
	logrus.Info("All finished")
	return err
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logrus.Fatal(err)
	}
}
