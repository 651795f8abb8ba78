// Package decoder runs the external H.264 decoder and reads raw pictures back from it.
//
// Access units go in on the decoder's stdin, packed UYVY pictures come out on its stdout. The
// receive loop is the only writer, the decoder reader the only reader; the byte streams of the
// process are the only thing the two share.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateDraining = "draining" // Input closed, output not finished yet
	StateStopped  = "stopped"

	DefaultStopTimeout = 3 * time.Second
)

var ErrNotRunning = errors.New("decoder is not running")

type Process struct {
	Command     string
	Args        []string
	StopTimeout time.Duration
	// OnStateChange is called after every lifecycle transition.
	OnStateChange func(from, to string)

	state     *fsm.FSM
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *io.PipeReader
	stderr    *io.PipeWriter
	closeOnce sync.Once
	done      chan struct{}
	exitErr   error
	logger    *logrus.Entry
}

func NewProcess(command string, args ...string) *Process {
	p := &Process{
		Command:     command,
		Args:        args,
		StopTimeout: DefaultStopTimeout,
		done:        make(chan struct{}),
		logger:      logrus.WithField("decoder", command),
	}
	p.state = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: "start", Src: []string{StateIdle}, Dst: StateRunning},
			{Name: "drain", Src: []string{StateRunning}, Dst: StateDraining},
			{Name: "exit", Src: []string{StateIdle, StateRunning, StateDraining}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				p.logger.WithFields(logrus.Fields{
					"from": e.Src,
					"to":   e.Dst,
				}).Debug("Decoder state changed")
				if p.OnStateChange != nil {
					p.OnStateChange(e.Src, e.Dst)
				}
			},
		},
	)
	return p
}

func (p *Process) State() string {
	return p.state.Current()
}

func (p *Process) event(name string) {
	// Transitions that do not apply in the current state are no-ops
	_ = p.state.Event(context.Background(), name)
}

// Start launches the decoder. A Process can only be started once.
func (p *Process) Start() error {
	if !p.state.Is(StateIdle) {
		return fmt.Errorf("decoder already %s", p.State())
	}
	cmd := exec.Command(p.Command, p.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("decoder stdin: %w", err)
	}
	// stdout goes through an in-process pipe so that Wait never races the reader, and the reader
	// can hang up on the decoder by closing its end.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	p.stderr = p.logger.WriterLevel(logrus.WarnLevel)
	cmd.Stderr = p.stderr
	if err := cmd.Start(); err != nil {
		pw.Close()
		p.stderr.Close()
		p.event("exit")
		close(p.done)
		return fmt.Errorf("cannot start decoder %s: %w", p.Command, err)
	}
	p.cmd = cmd
	p.stdin = stdin
	p.stdout = pr
	p.event("start")
	p.logger.WithFields(logrus.Fields{
		"pid":  cmd.Process.Pid,
		"args": p.Args,
	}).Info("Decoder started")

	go func() {
		err := cmd.Wait()
		p.exitErr = err
		pw.Close()
		p.stderr.Close()
		p.event("exit")
		fields := logrus.Fields{"pid": cmd.Process.Pid}
		if err != nil {
			fields["error"] = err
		}
		p.logger.WithFields(fields).Info("Decoder exited")
		close(p.done)
	}()
	return nil
}

// Write hands one access unit to the decoder. It blocks for as long as the decoder does not take
// the data.
func (p *Process) Write(au []byte) (int, error) {
	if !p.state.Is(StateRunning) {
		return 0, ErrNotRunning
	}
	return p.stdin.Write(au)
}

// Output is the raw picture stream. Closing it makes the decoder's further output go nowhere.
func (p *Process) Output() io.ReadCloser {
	return p.stdout
}

// CloseInput tells the decoder there will be no more access units. It then flushes what it has
// and exits, which the reader sees as the end of Output.
func (p *Process) CloseInput() error {
	var err error
	p.closeOnce.Do(func() {
		if p.stdin == nil {
			return
		}
		p.event("drain")
		err = p.stdin.Close()
	})
	return err
}

// Done is closed once the decoder process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err is the exit status, valid once Done is closed.
func (p *Process) Err() error {
	return p.exitErr
}

// Stop closes the input and waits for the decoder to exit, killing it after StopTimeout.
func (p *Process) Stop() error {
	if p.cmd == nil {
		return nil
	}
	var result *multierror.Error
	if err := p.CloseInput(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing decoder input: %w", err))
	}
	select {
	case <-p.done:
		return result.ErrorOrNil()
	case <-time.After(p.StopTimeout):
	}
	p.logger.Warn("Decoder did not exit in time, killing it")
	// The reader may have gone away, leaving the decoder blocked on its output
	p.stdout.Close()
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		result = multierror.Append(result, err)
		return result.ErrorOrNil()
	}
	<-p.done
	return result.ErrorOrNil()
}
