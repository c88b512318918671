// Package transport calls the compliance workflow over HTTP.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"concierge/internal/workflow"
)

const (
	DefaultBaseURL  = "http://127.0.0.1:4501"
	DefaultWorkflow = "concierge"
	DefaultRunPath  = "/workflows/{workflow}/run"
	DefaultTimeout  = 60 * time.Second
)

// ErrCircuitOpen is returned without a network call while the breaker is open.
var ErrCircuitOpen = errors.New("workflow api unavailable")

// StatusError is a non-2xx reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("workflow http %d", e.StatusCode)
	}
	return fmt.Sprintf("workflow http %d: %s", e.StatusCode, e.Body)
}

// Config holds the client settings.
type Config struct {
	BaseURL          string
	Workflow         string
	RunPath          string
	Timeout          time.Duration
	BreakerThreshold int
	BreakerRecovery  time.Duration
}

// Client runs workflows against one server.
type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	breaker    *breaker
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides time.Now for the breaker.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds a Client. Empty fields take the package defaults.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		endpoint:   Endpoint(cfg),
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
		breaker:    newBreaker(cfg.BreakerThreshold, cfg.BreakerRecovery),
		now:        time.Now,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("transport")
	return c
}

// Endpoint resolves the run URL for cfg.
func Endpoint(cfg Config) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	name := strings.TrimSpace(cfg.Workflow)
	if name == "" {
		name = DefaultWorkflow
	}
	path := strings.TrimSpace(cfg.RunPath)
	if path == "" {
		path = DefaultRunPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + strings.ReplaceAll(path, "{workflow}", name)
}

// Endpoint returns the URL this client posts to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Breaker reports the circuit breaker state.
func (c *Client) Breaker() BreakerStatus {
	return c.breaker.status(c.now())
}

type startEvent struct {
	Message string `json:"message"`
}

type runRequest struct {
	StartEvent startEvent `json:"start_event"`
}

// RunWorkflow posts message as the workflow start event and decodes the
// handler response.
func (c *Client) RunWorkflow(ctx context.Context, message string) (*workflow.Response, error) {
	if wait := c.breaker.remaining(c.now()); wait > 0 {
		return nil, fmt.Errorf("%w: retry in %s", ErrCircuitOpen, wait.Round(time.Second))
	}

	resp, err := c.run(ctx, message)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if c.breaker.recordFailure(c.now(), err.Error()) {
			c.logger.Warn("circuit opened", zap.String("endpoint", c.endpoint), zap.Error(err))
		}
		return nil, err
	}
	c.breaker.recordSuccess()
	return resp, nil
}

func (c *Client) run(ctx context.Context, message string) (*workflow.Response, error) {
	buf, err := json.Marshal(runRequest{StartEvent: startEvent{Message: message}})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workflow request failed: %w", err)
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read workflow response: %w", err)
	}
	c.logger.Debug("workflow call",
		zap.String("endpoint", c.endpoint),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: compactSingleLine(string(payload), 240)}
	}

	var out workflow.Response
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("workflow returned non-json payload: %w", err)
	}
	return &out, nil
}
