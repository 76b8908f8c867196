package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/nativebridge/agent/input"
	bridgenet "github.com/guseggert/nativebridge/internal/net"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultSocketPath is where the server listens, as seen from the host side of the chroot.
const DefaultSocketPath = "/data/local/rootfs/ubuntu-resolute-26.04/tmp/bridge.sock"

// socketPerm lets processes in any execution context, such as a chroot, connect.
const socketPerm = 0o777

// Server accepts bridge connections on a Unix socket and runs one session per connection.
// Any local process that can reach the socket may connect.
type Server struct {
	logger *zap.SugaredLogger

	socketPath       string
	statusSocketPath string
	inputDevice      string
	maxConns         int

	listener     net.Listener
	statusServer *http.Server
	sem          chan struct{}

	activeSessions atomic.Int64
	totalSessions  atomic.Int64

	activityMut  sync.Mutex
	lastActivity time.Time

	m         sync.Mutex
	closed    bool
	sessionWG sync.WaitGroup
}

type Option func(s *Server)

func WithSocketPath(path string) Option {
	return func(s *Server) {
		s.socketPath = path
	}
}

// WithStatusSocket serves the HTTP status endpoints on a second Unix socket.
func WithStatusSocket(path string) Option {
	return func(s *Server) {
		s.statusSocketPath = path
	}
}

// WithInputDevice sets the touchscreen event device used by tap and swipe commands.
func WithInputDevice(path string) Option {
	return func(s *Server) {
		s.inputDevice = path
	}
}

// WithMaxConnections bounds the number of concurrent sessions. Zero means unbounded.
func WithMaxConnections(n int) Option {
	return func(s *Server) {
		s.maxConns = n
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("bridge").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Server) {
		s.logger = s.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// NewServer constructs a new bridge server.
func NewServer(opts ...Option) (*Server, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		logger:      logger.Named("bridge").Sugar(),
		socketPath:  DefaultSocketPath,
		inputDevice: input.DefaultDevice,
	}
	for _, o := range opts {
		o(s)
	}
	if s.maxConns < 0 {
		return nil, fmt.Errorf("max connections must not be negative, got %d", s.maxConns)
	}
	if s.maxConns > 0 {
		s.sem = make(chan struct{}, s.maxConns)
	}
	return s, nil
}

// Run listens on the socket and serves connections until Stop is called.
// The socket is recreated on every start.
func (s *Server) Run() error {
	listener, err := bridgenet.ListenUnix(s.socketPath, socketPerm)
	if err != nil {
		return err
	}

	var statusListener net.Listener
	if s.statusSocketPath != "" {
		statusListener, err = bridgenet.ListenUnix(s.statusSocketPath, socketPerm)
		if err != nil {
			listener.Close()
			return fmt.Errorf("listening for status: %w", err)
		}
	}

	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		listener.Close()
		if statusListener != nil {
			statusListener.Close()
		}
		return nil
	}
	s.listener = listener
	if statusListener != nil {
		s.statusServer = &http.Server{Handler: s.statusRouter()}
	}
	s.m.Unlock()

	s.logger.Infow("bridge listening", "Socket", s.socketPath, "DirectInput", input.Enabled)
	if input.Enabled {
		s.logger.Infow("direct kernel input enabled", "Device", s.inputDevice)
	}

	if statusListener != nil {
		go func() {
			s.logger.Infow("status listening", "Socket", s.statusSocketPath)
			err := s.statusServer.Serve(statusListener)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Errorf("status server error: %s", err)
			}
		}()
	}

	return s.serve(listener)
}

func (s *Server) serve(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Errorf("error accepting connection: %s", err)
			time.Sleep(5 * time.Millisecond)
			continue
		}

		s.acquire()
		s.sessionWG.Add(1)
		go func() {
			defer s.sessionWG.Done()
			defer s.release()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) acquire() {
	if s.sem != nil {
		s.sem <- struct{}{}
	}
}

func (s *Server) release() {
	if s.sem != nil {
		<-s.sem
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	id := uuid.NewString()
	log := s.logger.Named("session").With("Session", id)

	s.activeSessions.Add(1)
	s.totalSessions.Add(1)
	s.touch()
	defer s.activeSessions.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("session panicked: %v", r)
		}
	}()

	log.Debug("accepted connection")
	sess := &session{
		log:   log,
		conn:  conn,
		synth: input.NewSynthesizer(s.inputDevice),
	}
	sess.run(context.Background())
	log.Debug("closing connection")
}

func (s *Server) touch() {
	s.activityMut.Lock()
	s.lastActivity = time.Now()
	s.activityMut.Unlock()
}

// Stop closes the listeners. Sessions already running are left to finish on their own.
func (s *Server) Stop() error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	if s.statusServer != nil {
		if closeErr := s.statusServer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// Wait blocks until every session started so far has ended.
func (s *Server) Wait() {
	s.sessionWG.Wait()
}
