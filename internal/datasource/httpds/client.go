// Package httpds fetches stream files over HTTP with retry and exponential
// backoff on transient failures (transport errors, 5xx and 429).
package httpds

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Config configures the HTTP client.
//
// Zero values are given defaults:
//   - Timeout:        30s
//   - InitialBackoff: 200ms
//   - MaxBackoff:     5s
//
// MaxRetries=0 means only the initial attempt is made.
type Config struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// Header is added to every request.
	Header http.Header

	// Transport overrides the default *http.Transport.
	Transport http.RoundTripper

	Logger *slog.Logger
}

// Client wraps an http.Client with retry and backoff behavior.
type Client struct {
	httpClient     *http.Client
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	header         http.Header
	logger         *slog.Logger

	// wait blocks for a backoff period; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NewClient constructs a Client from cfg, applying defaults for zero values.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly configurable
			},
		}
	}

	return &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout, Transport: transport},
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		header:         cfg.Header.Clone(),
		logger:         cfg.Logger,
		wait:           waitContext,
	}
}

// StatusError is returned for a final non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpds: GET %s: status %d", e.URL, e.StatusCode)
}

// Get issues a GET request, retrying transient failures. On success the
// caller owns the response body. A final non-2xx status is a *StatusError.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	if url == "" {
		return nil, fmt.Errorf("httpds: url must not be empty")
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			d := backoffDuration(c.initialBackoff, attempt-1, c.maxBackoff)
			c.logger.Warn("httpds: retrying", "url", url, "attempt", attempt, "backoff", d, "err", lastErr)
			if err := c.wait(ctx, d); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("httpds: build request: %w", err)
		}
		for k, vs := range c.header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			return resp, nil
		case isRetryableStatus(resp.StatusCode):
			drain(resp)
			lastErr = &StatusError{URL: url, StatusCode: resp.StatusCode}
		default:
			drain(resp)
			return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
		}
	}
	return nil, fmt.Errorf("httpds: giving up after %d attempts: %w", c.maxRetries+1, lastErr)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// isRetryableStatus reports whether code is transient: 5xx and 429.
func isRetryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// backoffDuration returns initial * 2^retry, clamped to max.
func backoffDuration(initial time.Duration, retry int, max time.Duration) time.Duration {
	if retry < 0 {
		retry = 0
	}
	if retry > 30 {
		return max
	}
	d := initial << retry
	if d > max || d <= 0 {
		return max
	}
	return d
}

func waitContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
