package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// statusBaseURL is the URL base for status requests. The host is ignored, every request is dialed to the status socket.
const statusBaseURL = "http://bridge"

// StatusClient queries a server's status socket.
type StatusClient struct {
	Logger     *zap.SugaredLogger
	SocketPath string
	HTTPClient *http.Client

	customizeRetryableClient func(*retryablehttp.Client)
}

type StatusClientOption func(c *StatusClient)

// WithCustomizeRetryableClient lets the caller adjust the retry policy before the HTTP client is built.
func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) StatusClientOption {
	return func(c *StatusClient) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

func NewStatusClient(log *zap.SugaredLogger, socketPath string, opts ...StatusClientOption) *StatusClient {
	c := &StatusClient{
		Logger:     log.Named("status_client"),
		SocketPath: socketPath,
	}
	for _, opt := range opts {
		opt(c)
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", socketPath)
			},
		},
	}
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.RetryMax = 10
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	c.HTTPClient = retryClient.StandardClient()
	return c
}

func (c *StatusClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("non-200 status code %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// Heartbeat returns when the server last accepted a connection.
func (c *StatusClient) Heartbeat(ctx context.Context) (HeartbeatResponse, error) {
	var resp HeartbeatResponse
	err := c.getJSON(ctx, "/heartbeat", &resp)
	return resp, err
}

// Sessions returns the server's session counters.
func (c *StatusClient) Sessions(ctx context.Context) (SessionsResponse, error) {
	var resp SessionsResponse
	err := c.getJSON(ctx, "/sessions", &resp)
	return resp, err
}
