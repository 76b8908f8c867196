package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/guseggert/nativebridge/agent/protocol"
	"go.uber.org/zap"
)

// DefaultClientSocketPath is the server's socket as seen from inside the chroot.
const DefaultClientSocketPath = "/tmp/bridge.sock"

var (
	// ErrConnect is returned when the server's socket cannot be reached.
	ErrConnect = errors.New("failed to connect")

	// ErrNoResponse is returned when the server closes the connection before sending any response.
	ErrNoResponse = errors.New("server did not respond")

	// ErrRequestTooLarge is returned for commands whose encoding does not fit the server's single request read.
	ErrRequestTooLarge = errors.New("request too large")
)

// RemoteError is an Error response sent by the server.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}

type Client struct {
	Logger     *zap.SugaredLogger
	SocketPath string

	dialer       net.Dialer
	waitInterval time.Duration
}

type ClientOption func(c *Client)

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("bridge_client").Sugar()
	}
}

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func NewClient(socketPath string, opts ...ClientOption) *Client {
	c := &Client{
		Logger:       zap.NewNop().Sugar(),
		SocketPath:   socketPath,
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// open dials the server and sends cmd as a single unframed write.
// The returned connection is closed when ctx is done.
func (c *Client) open(ctx context.Context, cmd protocol.Command) (net.Conn, func(), error) {
	switch cm := cmd.(type) {
	case protocol.Exec:
		if cm.Program == "" {
			return nil, nil, errors.New("program must not be empty")
		}
	case protocol.Stream:
		if cm.Program == "" {
			return nil, nil, errors.New("program must not be empty")
		}
	}

	b, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding command: %w", err)
	}
	if len(b) > protocol.MaxRequestSize {
		return nil, nil, fmt.Errorf("%w: encoded command is %d bytes, maximum is %d", ErrRequestTooLarge, len(b), protocol.MaxRequestSize)
	}

	c.Logger.Debugw("dialing bridge", "Socket", c.SocketPath)
	conn, err := c.dialer.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w to %s: %w", ErrConnect, c.SocketPath, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	closeFn := func() {
		stop()
		conn.Close()
	}

	if _, err := conn.Write(b); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("sending command: %w", err)
	}
	return conn, closeFn, nil
}

// Do sends cmd and reads a single response. An Error response is returned as both the response and a *RemoteError.
func (c *Client) Do(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	conn, closeFn, err := c.open(ctx, cmd)
	if err != nil {
		return protocol.Response{}, err
	}
	defer closeFn()

	resp, err := protocol.ReadResponse(conn)
	if err != nil {
		return protocol.Response{}, c.readErr(ctx, err, true)
	}
	c.Logger.Debugw("got response", "Kind", resp.Kind)
	if resp.Kind == protocol.KindError {
		return resp, &RemoteError{Message: resp.Text}
	}
	return resp, nil
}

func (c *Client) readErr(ctx context.Context, err error, first bool) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if first && errors.Is(err, protocol.ErrConnectionClosed) {
		return ErrNoResponse
	}
	return fmt.Errorf("reading response: %w", err)
}

func (c *Client) expectSuccess(ctx context.Context, cmd protocol.Command) (string, error) {
	resp, err := c.Do(ctx, cmd)
	if err != nil {
		return "", err
	}
	if resp.Kind != protocol.KindSuccess {
		return "", fmt.Errorf("unexpected %s response", resp.Kind)
	}
	return resp.Text, nil
}

// Exec runs program on the server to completion and returns its stdout.
func (c *Client) Exec(ctx context.Context, program string, args []string) (string, error) {
	return c.expectSuccess(ctx, protocol.Exec{Program: program, Args: args})
}

// Ping checks that the server is alive.
func (c *Client) Ping(ctx context.Context) error {
	text, err := c.expectSuccess(ctx, protocol.Ping{})
	if err != nil {
		return err
	}
	if text != pongText {
		return fmt.Errorf("unexpected ping reply %q", text)
	}
	return nil
}

func (c *Client) Tap(ctx context.Context, x, y int32) error {
	_, err := c.expectSuccess(ctx, protocol.DirectTap{X: x, Y: y})
	return err
}

func (c *Client) Swipe(ctx context.Context, x1, y1, x2, y2 int32, durationMS uint64) error {
	_, err := c.expectSuccess(ctx, protocol.DirectSwipe{X1: x1, Y1: y1, X2: x2, Y2: y2, DurationMS: durationMS})
	return err
}

// Stream runs program on the server and writes each output line to out as it arrives, until the stream ends.
// Lines from the program's stderr carry a "[STDERR] " prefix.
func (c *Client) Stream(ctx context.Context, program string, args []string, out io.Writer) error {
	conn, closeFn, err := c.open(ctx, protocol.Stream{Program: program, Args: args})
	if err != nil {
		return err
	}
	defer closeFn()

	received := 0
	for {
		resp, err := protocol.ReadResponse(conn)
		if err != nil {
			return c.readErr(ctx, err, received == 0)
		}
		received++

		switch resp.Kind {
		case protocol.KindStreamChunk:
			if _, err := fmt.Fprintln(out, resp.Text); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
		case protocol.KindStreamEnd:
			c.Logger.Debugw("stream ended", "Frames", received)
			return nil
		case protocol.KindError:
			return &RemoteError{Message: resp.Text}
		default:
			c.Logger.Debugf("unexpected %s response during stream", resp.Kind)
		}
	}
}

// WaitForServer pings the server until it responds or ctx is done.
func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		err := c.Ping(ctx)
		if err == nil {
			c.Logger.Debug("ping succeeded, done waiting for server")
			return nil
		}
		c.Logger.Debugf("got ping error: %s", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
