package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nes-worker.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	yaml := `
worker_id: 3
memory:
  arena_bytes: 134217728
  buffer_size: 8192
  local_pool_reserve: 32
worker_pool:
  num_workers: 8
  queue_depth: 2048
window:
  type: tumbling
  size: 10s
sinks:
  webhook:
    url: https://hooks.example.com/nes
    timeout: 5s
    retries: 3
  redis:
    url: redis://localhost:6379
    stream: nes-output
checkpoint:
  backend: s3
  s3_bucket: nes-checkpoints
  s3_region: us-east-1
grpc_bind_address: 0.0.0.0:9090
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.WorkerID != 3 {
		t.Errorf("WorkerID = %d, want 3", cfg.WorkerID)
	}
	if cfg.Memory.ArenaBytes != 134217728 || cfg.Memory.BufferSize != 8192 {
		t.Errorf("unexpected memory config: %+v", cfg.Memory)
	}
	if cfg.WorkerPool.NumWorkers != 8 || cfg.WorkerPool.QueueDepth != 2048 {
		t.Errorf("unexpected worker pool config: %+v", cfg.WorkerPool)
	}
	if cfg.Window.Type != "tumbling" || cfg.Window.Size.Duration != 10*time.Second {
		t.Errorf("unexpected window config: %+v", cfg.Window)
	}
	if cfg.Sinks.Webhook.URL != "https://hooks.example.com/nes" || cfg.Sinks.Webhook.Timeout.Duration != 5*time.Second {
		t.Errorf("unexpected webhook config: %+v", cfg.Sinks.Webhook)
	}
	if cfg.Sinks.Redis.Stream != "nes-output" {
		t.Errorf("unexpected redis config: %+v", cfg.Sinks.Redis)
	}
	if cfg.Checkpoint.Backend != "s3" || cfg.Checkpoint.S3Bucket != "nes-checkpoints" {
		t.Errorf("unexpected checkpoint config: %+v", cfg.Checkpoint)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	yaml := "worker_id: 1\nbogus_field: true\n"
	_, err := Load(writeTemp(t, yaml))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("NES_REDIS_URL", "redis://env-host:6379")
	yaml := "sinks:\n  redis:\n    url: ${NES_REDIS_URL}\n    stream: ${NES_STREAM:-default-stream}\n"
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sinks.Redis.URL != "redis://env-host:6379" {
		t.Errorf("URL = %q, want expanded env value", cfg.Sinks.Redis.URL)
	}
	if cfg.Sinks.Redis.Stream != "default-stream" {
		t.Errorf("Stream = %q, want default fallback", cfg.Sinks.Redis.Stream)
	}
}

func TestDefault_HasSaneSizing(t *testing.T) {
	cfg := Default()
	if cfg.Memory.BufferSize <= 0 || cfg.WorkerPool.NumWorkers <= 0 {
		t.Fatalf("unexpected zero defaults: %+v", cfg)
	}
}
