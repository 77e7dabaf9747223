// Package redisstream implements sink.Sink by XADDing each finalized
// record to a Redis stream, retrying with exponential backoff on
// connection errors.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nebulastream/nes-core/sink"
)

// DefaultStream is the default stream name.
const DefaultStream = "nes:output"

// DefaultTimeout is the default per-write timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis stream sink.
type Config struct {
	// URL is the Redis connection URL: redis://[:password@]host:port[/db].
	URL     string
	Stream  string
	Timeout time.Duration
	Retries int
}

// Sink writes finalized records to a Redis stream via XADD.
type Sink struct {
	config Config
	client *goredis.Client
}

// New creates a Redis stream sink from cfg.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("redisstream sink requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redisstream: invalid URL: %w", err)
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &Sink{config: cfg, client: goredis.NewClient(opts)}, nil
}

// newWithClient wires a pre-built client (used by tests against miniredis).
func newWithClient(client *goredis.Client, cfg Config) *Sink {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Sink{config: cfg, client: client}
}

// Write XADDs each record to the stream as a single "payload" field
// holding its JSON encoding, retrying the whole batch with exponential
// backoff on failure.
func (s *Sink) Write(ctx context.Context, records []sink.Record) error {
	var lastErr error
	attempts := 1 + s.config.Retries
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redisstream: context canceled: %w", err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redisstream: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = s.writeOnce(ctx, records)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("redisstream: failed after %d attempts: %w", attempts, lastErr)
}

func (s *Sink) writeOnce(ctx context.Context, records []sink.Record) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	for _, rec := range records {
		payload, err := json.Marshal(rec.Fields)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		err = s.client.XAdd(writeCtx, &goredis.XAddArgs{
			Stream: s.config.Stream,
			Values: map[string]any{"payload": payload},
		}).Err()
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases sink resources.
func (s *Sink) Close() error {
	return s.client.Close()
}

var _ sink.Sink = (*Sink)(nil)
