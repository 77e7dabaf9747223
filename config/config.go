package config

import (
	"fmt"
	"time"
)

// Config represents a worker's nes-worker.yaml configuration file. All
// values are optional and act as defaults; CLI flags always override
// config values.
type Config struct {
	WorkerID   int             `yaml:"worker_id"`
	Memory     MemoryConfig    `yaml:"memory"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Window     WindowConfig    `yaml:"window"`
	Sinks      SinksConfig     `yaml:"sinks"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	GRPCBindAddress string     `yaml:"grpc_bind_address"`
}

// MemoryConfig holds buffer manager sizing.
type MemoryConfig struct {
	ArenaBytes       int64 `yaml:"arena_bytes"`
	BufferSize       int   `yaml:"buffer_size"`
	LocalPoolReserve int   `yaml:"local_pool_reserve"`
}

// WorkerPoolConfig holds task-queue/worker-thread sizing.
type WorkerPoolConfig struct {
	NumWorkers int `yaml:"num_workers"`
	QueueDepth int `yaml:"queue_depth"`
}

// WindowConfig holds per-pipeline window defaults applied when a query
// doesn't specify its own window definition.
type WindowConfig struct {
	Type  string   `yaml:"type"` // "tumbling" or "sliding"
	Size  Duration `yaml:"size"`
	Slide Duration `yaml:"slide"`
}

// SinksConfig holds sink endpoint defaults.
type SinksConfig struct {
	Webhook WebhookSinkConfig `yaml:"webhook"`
	Redis   RedisSinkConfig   `yaml:"redis"`
}

// WebhookSinkConfig configures the webhook sink.
type WebhookSinkConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// RedisSinkConfig configures the Redis stream sink.
type RedisSinkConfig struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

// CheckpointConfig holds checkpoint snapshot storage settings.
type CheckpointConfig struct {
	Backend     string `yaml:"backend"` // "local" or "s3"
	Path        string `yaml:"path"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
