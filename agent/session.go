package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/guseggert/nativebridge/agent/input"
	"github.com/guseggert/nativebridge/agent/process"
	"github.com/guseggert/nativebridge/agent/protocol"
	"go.uber.org/zap"
)

const (
	pongText        = "Pong!"
	stderrPrefix    = "[STDERR] "
	featureDisabled = "command not supported or feature disabled on server"
)

type sessionState int

const (
	stateAwaitRequest sessionState = iota
	stateDispatching
	stateCompleted
	stateStreaming
	stateStreamRelaying
	stateStreamDone
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitRequest:
		return "AwaitRequest"
	case stateDispatching:
		return "Dispatching"
	case stateCompleted:
		return "Completed"
	case stateStreaming:
		return "Streaming"
	case stateStreamRelaying:
		return "StreamRelaying"
	case stateStreamDone:
		return "StreamDone"
	default:
		return "Unknown"
	}
}

// session handles exactly one client connection, from the first byte to close.
type session struct {
	log   *zap.SugaredLogger
	conn  net.Conn
	synth *input.Synthesizer

	state sessionState
}

func (s *session) setState(state sessionState) {
	s.log.Debugw("session state", "From", s.state, "To", state)
	s.state = state
}

func (s *session) run(ctx context.Context) {
	s.state = stateAwaitRequest
	b, err := protocol.ReadRaw(s.conn, protocol.MaxRequestSize)
	if err != nil {
		if !errors.Is(err, protocol.ErrConnectionClosed) {
			s.log.Debugf("error reading request: %s", err)
		}
		return
	}

	cmd, err := protocol.DecodeCommand(b)
	if err != nil {
		s.log.Debugf("error decoding request: %s", err)
		s.setState(stateCompleted)
		s.writeOne(protocol.Error(err.Error()))
		return
	}

	s.setState(stateDispatching)
	if c, ok := cmd.(protocol.Stream); ok {
		s.stream(c)
		return
	}
	resp := s.dispatch(ctx, cmd)
	s.setState(stateCompleted)
	s.writeOne(resp)
}

func (s *session) writeOne(resp protocol.Response) {
	err := protocol.NewFrameWriter(s.conn).WriteResponse(resp)
	if err != nil {
		s.log.Debugf("error writing response: %s", err)
	}
}

// dispatch executes every command except Stream, producing exactly one response.
func (s *session) dispatch(ctx context.Context, cmd protocol.Command) protocol.Response {
	switch c := cmd.(type) {
	case protocol.Exec:
		s.log.Infow("exec", "Program", c.Program, "Args", c.Args)
		return process.Run(ctx, c.Program, c.Args)
	case protocol.Ping:
		return protocol.Success(pongText)
	case protocol.DirectTap:
		if !input.Enabled {
			return protocol.Error(featureDisabled)
		}
		s.log.Infow("tap", "X", c.X, "Y", c.Y)
		if err := s.synth.Tap(c.X, c.Y); err != nil {
			return protocol.Error(fmt.Sprintf("tap failed: %s", err))
		}
		return protocol.Success("")
	case protocol.DirectSwipe:
		if !input.Enabled {
			return protocol.Error(featureDisabled)
		}
		s.log.Infow("swipe", "X1", c.X1, "Y1", c.Y1, "X2", c.X2, "Y2", c.Y2, "DurationMS", c.DurationMS)
		if err := s.synth.Swipe(c.X1, c.Y1, c.X2, c.Y2, c.DurationMS); err != nil {
			return protocol.Error(fmt.Sprintf("swipe failed: %s", err))
		}
		return protocol.Success("")
	default:
		return protocol.Error(featureDisabled)
	}
}

// stream runs c and relays its stdout and stderr lines as chunks, then ends the stream.
func (s *session) stream(c protocol.Stream) {
	s.setState(stateStreaming)
	s.log.Infow("stream", "Program", c.Program, "Args", c.Args)

	w := newResponseWriter(s.log.Named("writer"), s.conn)
	defer func() {
		if err := w.Close(); err != nil {
			s.log.Debugf("stream writer stopped with error: %s", err)
		}
		s.setState(stateStreamDone)
	}()

	proc, err := process.Start(c.Program, c.Args)
	if err != nil {
		s.log.Debugf("error starting process: %s", err)
		_ = w.Send(protocol.Error(err.Error()))
		_ = w.Send(protocol.StreamEnd())
		return
	}
	s.log.Debugf("process %d started", proc.Pid())

	s.setState(stateStreamRelaying)
	relaysDone := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		s.killOnClientGone(proc, w, relaysDone)
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go s.relay(&wg, "stdout", proc.Stdout, "", w)
	go s.relay(&wg, "stderr", proc.Stderr, stderrPrefix, w)
	wg.Wait()
	close(relaysDone)
	<-watchDone

	code, err := proc.Wait()
	if err != nil {
		s.log.Debugf("unexpected wait error: %s", err)
	}
	s.log.Debugf("process %d exited with code %d", proc.Pid(), code)

	_ = w.Send(protocol.StreamEnd())
}

// killOnClientGone kills the child once the client can no longer be written to.
// A child that ignores EPIPE would otherwise keep running with nobody to read its output.
func (s *session) killOnClientGone(proc *process.Process, w *responseWriter, relaysDone <-chan struct{}) {
	select {
	case <-w.Failed():
		s.log.Debugf("client gone, killing process %d", proc.Pid())
		if err := proc.Kill(); err != nil {
			s.log.Debugf("error killing process %d: %s", proc.Pid(), err)
		}
	case <-relaysDone:
	}
}

// relay forwards lines as chunks until the source is exhausted or the client goes away.
func (s *session) relay(wg *sync.WaitGroup, name string, lines *process.Lines, prefix string, w *responseWriter) {
	defer wg.Done()
	defer lines.Close()
	n := 0
	for lines.Next() {
		if err := w.Send(protocol.StreamChunk(prefix + lines.Text())); err != nil {
			s.log.Debugw("relay stopped", "Stream", name, "Lines", n, "Error", err)
			return
		}
		n++
	}
	if err := lines.Err(); err != nil {
		s.log.Debugw("relay read error", "Stream", name, "Error", err)
	}
	s.log.Debugw("relay done", "Stream", name, "Lines", n)
}
