package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"time"
)

const (
	defaultHTTPTimeout = 120 * time.Second
	defaultMaxRetries  = 3
	backoffCeiling     = 20 * time.Second
)

// transport is the HTTP layer shared by all API providers: one pooled
// client plus bounded retry for transient failures. The retry budget comes
// from provider config so a local Ollama and a rate-limited cloud API can
// be tuned independently.
type transport struct {
	client  *http.Client
	retries int
	logger  *slog.Logger
}

type transportConfig struct {
	Timeout time.Duration
	// MaxRetries is the number of re-attempts after the first request.
	// Zero means the default; negative disables retries.
	MaxRetries int
	Client     *http.Client // override, used by tests
	Logger     *slog.Logger
}

func newTransport(cfg transportConfig) *transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	retries := cfg.MaxRetries
	switch {
	case retries == 0:
		retries = defaultMaxRetries
	case retries < 0:
		retries = 0
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
				ExpectContinueTimeout: 1 * time.Second,
			},
		}
	}
	return &transport{
		client:  client,
		retries: retries,
		logger:  cfg.Logger,
	}
}

// retryableStatus reports whether a response code signals a transient
// server-side condition worth retrying: 5xx or rate limiting.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// do executes a request built by buildReq, retrying network errors and
// retryable statuses with quadratic backoff and jitter. Requests are
// rebuilt per attempt so the body can be re-read.
func (t *transport) do(ctx context.Context, buildReq func() (*http.Request, error)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := t.wait(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			if attempt < t.retries {
				t.logger.Warn("request failed, will retry", "attempt", attempt+1, "err", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
		}

		if retryableStatus(resp.StatusCode) {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if attempt < t.retries {
				t.logger.Warn("transient server error, will retry",
					"status", resp.StatusCode, "attempt", attempt+1)
				continue
			}
			return nil, fmt.Errorf("server error after %d attempts: HTTP %d: %s",
				attempt+1, resp.StatusCode, string(body))
		}

		return resp, nil
	}
}

// wait sleeps for the attempt's backoff or returns early on ctx cancel.
func (t *transport) wait(ctx context.Context, attempt int) error {
	backoff := time.Duration(attempt*attempt) * time.Second
	backoff += time.Duration(rand.Int63n(int64(backoff/2 + 1)))
	if backoff > backoffCeiling {
		backoff = backoffCeiling
	}
	t.logger.Warn("backing off before retry", "attempt", attempt+1, "backoff", backoff)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
		return nil
	}
}
