// Package webhook implements sink.Sink as an HTTP POST of a JSON batch of
// finalized records to a configurable URL, retrying with exponential
// backoff on transient failures.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nebulastream/nes-core/iox"
	"github.com/nebulastream/nes-core/sink"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the webhook sink.
type Config struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Retries int
}

// Sink posts finalized record batches as JSON.
type Sink struct {
	config Config
	client *http.Client
}

// New creates a webhook sink from cfg.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook sink requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &Sink{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Write POSTs records as a JSON array body, retrying on 5xx/network
// errors and failing immediately on 4xx.
func (s *Sink) Write(ctx context.Context, records []sink.Record) error {
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("webhook: marshal records: %w", err)
	}

	var lastErr error
	attempts := 1 + s.config.Retries
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("webhook: context canceled: %w", err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = s.doRequest(ctx, body)
		if lastErr == nil {
			return nil
		}
		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return fmt.Errorf("webhook: non-retriable error: %w", lastErr)
		}
	}
	return fmt.Errorf("webhook: failed after %d attempts: %w", attempts, lastErr)
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.Code) }

func (s *Sink) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases sink resources.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

var _ sink.Sink = (*Sink)(nil)
