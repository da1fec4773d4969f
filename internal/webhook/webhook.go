// Package webhook delivers WEBHOOK actions over HTTP.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
)

const DefaultTimeout = 10 * time.Second

// maxErrorBody bounds how much of a failed response ends up in the error.
const maxErrorBody = 512

// Client sends webhook requests. Every call is bounded by the client
// timeout so a slow endpoint cannot stall rule execution.
type Client struct {
	http      *http.Client
	userAgent string
	logger    *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

// New creates a Client. timeout <= 0 means DefaultTimeout.
func New(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		http:      &http.Client{Timeout: timeout},
		userAgent: "docrules-webhook/1.0",
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Send performs the request. Any non-2xx status is an error.
func (c *Client) Send(ctx context.Context, req action.WebhookRequest) error {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if req.Body != "" && method != http.MethodGet {
		body = strings.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}
	hr.Header.Set("User-Agent", c.userAgent)
	for k, v := range req.Headers {
		hr.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(hr)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("webhook delivered",
		"method", method, "url", req.URL, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
