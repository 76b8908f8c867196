package agent

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/guseggert/nativebridge/agent/input"
	"github.com/guseggert/nativebridge/agent/protocol"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	log *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	log = l
}

type testServer struct {
	*Server
	socketPath string
	dir        string
}

func startServer(t *testing.T, opts ...Option) (*testServer, *Client) {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "bridge.sock")

	opts = append([]Option{WithLogger(log), WithSocketPath(socketPath)}, opts...)
	server, err := NewServer(opts...)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- server.Run() }()
	t.Cleanup(func() {
		require.NoError(t, server.Stop())
		require.NoError(t, <-runErr)
	})

	client := NewClient(socketPath, WithClientLogger(log), WithClientWaitInterval(10*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.WaitForServer(ctx))

	return &testServer{Server: server, socketPath: socketPath, dir: dir}, client
}

func TestPing(t *testing.T) {
	_, client := startServer(t)

	resp, err := client.Do(context.Background(), protocol.Ping{})
	require.NoError(t, err)
	assert.Equal(t, protocol.Success("Pong!"), resp)

	require.NoError(t, client.Ping(context.Background()))
}

func TestSocketPermissions(t *testing.T) {
	server, _ := startServer(t)

	stat, err := os.Stat(server.socketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o777), stat.Mode().Perm())
}

func TestExec(t *testing.T) {
	ctx := context.Background()
	_, client := startServer(t)

	cases := []struct {
		name      string
		cmd       string
		args      []string
		expStdout string
		expErr    string
	}{
		{
			name:      "happy case",
			cmd:       "echo",
			args:      []string{"hello"},
			expStdout: "hello\n",
		},
		{
			name:      "stdout and stderr",
			cmd:       "sh",
			args:      []string{"-c", "printf foo; printf bar 1>&2"},
			expStdout: "foo",
		},
		{
			name:   "non-zero exit",
			cmd:    "sh",
			args:   []string{"-c", "printf foo; printf bar 1>&2; exit 1"},
			expErr: "bar",
		},
		{
			name:   "missing program",
			cmd:    "definitely-not-a-real-program-1234",
			expErr: "definitely-not-a-real-program-1234",
		},
		{
			name:   "logcat without flags",
			cmd:    "logcat",
			expErr: "use stream",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, err := client.Exec(ctx, c.cmd, c.args)
			if c.expErr != "" {
				var remoteErr *RemoteError
				require.ErrorAs(t, err, &remoteErr)
				assert.Contains(t, remoteErr.Message, c.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expStdout, out)
		})
	}
}

func TestExecEmptyProgramRejectedByClient(t *testing.T) {
	_, client := startServer(t)
	_, err := client.Exec(context.Background(), "", nil)
	require.ErrorContains(t, err, "program must not be empty")
}

func TestStream(t *testing.T) {
	_, client := startServer(t)

	var out bytes.Buffer
	err := client.Stream(context.Background(), "sh", []string{"-c", "echo one; echo two; echo oops 1>&2; echo three"}, &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	assert.ElementsMatch(t, []string{"one", "two", "three", "[STDERR] oops"}, lines)

	var stdoutLines []string
	for _, l := range lines {
		if !strings.HasPrefix(l, "[STDERR] ") {
			stdoutLines = append(stdoutLines, l)
		}
	}
	assert.Equal(t, []string{"one", "two", "three"}, stdoutLines)
}

func TestStreamSpawnFailure(t *testing.T) {
	_, client := startServer(t)

	var out bytes.Buffer
	err := client.Stream(context.Background(), "definitely-not-a-real-program-1234", nil, &out)
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Empty(t, out.String())
}

func TestDirectInput(t *testing.T) {
	device := filepath.Join(t.TempDir(), "event1")
	require.NoError(t, os.WriteFile(device, nil, 0o600))
	_, client := startServer(t, WithInputDevice(device))
	ctx := context.Background()

	// The device is reopened per gesture without O_APPEND, so a regular file
	// holds only the records of the most recent gesture.
	records := func(t *testing.T) int {
		b, err := os.ReadFile(device)
		require.NoError(t, err)
		require.Zero(t, len(b)%input.EventSize)
		return len(b) / input.EventSize
	}

	cases := []struct {
		name       string
		gesture    func() error
		expRecords int
	}{
		{
			name:    "tap",
			gesture: func() error { return client.Tap(ctx, 10, 20) },
			// touch down and touch up
			expRecords: 4 + 4,
		},
		{
			name:    "swipe",
			gesture: func() error { return client.Swipe(ctx, 0, 0, 100, 0, 20) },
			// touch down, two moves, touch up
			expRecords: 4 + 2*3 + 4,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.NoError(t, os.Truncate(device, 0))
			err := c.gesture()

			if !input.Enabled {
				var remoteErr *RemoteError
				require.ErrorAs(t, err, &remoteErr)
				assert.Contains(t, remoteErr.Message, "feature disabled")
				assert.Zero(t, records(t))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, c.expRecords, records(t))
		})
	}
}

func TestDirectInputMissingDevice(t *testing.T) {
	if !input.Enabled {
		t.Skip("built without directinput")
	}
	_, client := startServer(t, WithInputDevice(filepath.Join(t.TempDir(), "nope")))

	err := client.Tap(context.Background(), 1, 1)
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Contains(t, remoteErr.Message, "tap failed")
	assert.Contains(t, remoteErr.Message, "no such file or directory")
}

func TestInvalidPayload(t *testing.T) {
	server, _ := startServer(t)

	conn, err := net.Dial("unix", server.socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not-cbor"))
	require.NoError(t, err)

	resp, err := protocol.ReadResponse(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindError, resp.Kind)
	assert.Contains(t, resp.Text, "invalid payload")

	_, err = protocol.ReadFrame(conn)
	require.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestEmptyRequestGetsNoResponse(t *testing.T) {
	server, _ := startServer(t)

	conn, err := net.Dial("unix", server.socketPath)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	_, err = protocol.ReadFrame(conn)
	require.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestClientNoServer(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	err := client.Ping(context.Background())
	require.ErrorIs(t, err, ErrConnect)
}

func TestClientNoResponse(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "bridge.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		_, _ = protocol.ReadRaw(conn, protocol.MaxRequestSize)
		_ = conn.Close()
	}()

	err = NewClient(socketPath).Ping(context.Background())
	require.ErrorIs(t, err, ErrNoResponse)
}

func TestClientRequestTooLarge(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "unused.sock"))
	_, err := client.Exec(context.Background(), "echo", []string{strings.Repeat("x", protocol.MaxRequestSize)})
	require.ErrorIs(t, err, ErrRequestTooLarge)
}

func TestClientContextCancel(t *testing.T) {
	_, client := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := client.Stream(ctx, "sleep", []string{"2"}, &bytes.Buffer{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMaxConnections(t *testing.T) {
	_, client := startServer(t, WithMaxConnections(1))

	for i := 0; i < 3; i++ {
		require.NoError(t, client.Ping(context.Background()))
	}

	_, err := NewServer(WithLogger(log), WithMaxConnections(-1))
	require.Error(t, err)
}

func TestStatusSocket(t *testing.T) {
	ctx := context.Background()
	statusPath := filepath.Join(t.TempDir(), "status.sock")
	_, client := startServer(t, WithStatusSocket(statusPath))
	require.NoError(t, client.Ping(ctx))

	statusClient := NewStatusClient(log.Sugar(), statusPath)

	sessions, err := statusClient.Sessions(ctx)
	require.NoError(t, err)
	// WaitForServer and the explicit ping.
	assert.GreaterOrEqual(t, sessions.Total, int64(2))

	heartbeat, err := statusClient.Heartbeat(ctx)
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339, heartbeat.LastActivity)
	require.NoError(t, err)
}

func TestStatusClientRetriesUntilSocketAppears(t *testing.T) {
	dir := t.TempDir()
	statusPath := filepath.Join(dir, "status.sock")
	statusClient := NewStatusClient(log.Sugar(), statusPath, WithCustomizeRetryableClient(func(r *retryablehttp.Client) {
		r.RetryMax = 100
	}))

	server, err := NewServer(WithLogger(log), WithSocketPath(filepath.Join(dir, "bridge.sock")), WithStatusSocket(statusPath))
	require.NoError(t, err)
	runErr := make(chan error, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		runErr <- server.Run()
	}()
	t.Cleanup(func() {
		require.NoError(t, server.Stop())
		require.NoError(t, <-runErr)
	})

	heartbeat, err := statusClient.Heartbeat(context.Background())
	require.NoError(t, err)
	assert.Empty(t, heartbeat.LastActivity)
}

func TestStatusClientGivesUp(t *testing.T) {
	statusClient := NewStatusClient(log.Sugar(), filepath.Join(t.TempDir(), "missing.sock"), WithCustomizeRetryableClient(func(r *retryablehttp.Client) {
		r.RetryMax = 1
	}))

	_, err := statusClient.Sessions(context.Background())
	require.ErrorContains(t, err, "giving up after 2 attempt(s)")
}
