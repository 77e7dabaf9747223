// Command nes-worker is the worker process: it loads a worker config,
// brings up the buffer pool, task queue, checkpoint store and configured
// sinks, and serves a Prometheus metrics endpoint until asked to stop.
//
// Building and submitting a query's pipeline graph (topology/catalog
// services) is not this binary's concern — it owns process lifecycle and
// the ambient stack around it, not query admission.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/nebulastream/nes-core/checkpoint"
	"github.com/nebulastream/nes-core/checkpoint/s3store"
	"github.com/nebulastream/nes-core/config"
	"github.com/nebulastream/nes-core/log"
	"github.com/nebulastream/nes-core/memory"
	"github.com/nebulastream/nes-core/metrics"
	"github.com/nebulastream/nes-core/queue"
	"github.com/nebulastream/nes-core/sink"
	"github.com/nebulastream/nes-core/sink/redisstream"
	"github.com/nebulastream/nes-core/sink/webhook"
	"github.com/nebulastream/nes-core/types"
)

// version/commit are stamped at build time via -ldflags; left as defaults
// for a plain `go build`.
var (
	version = types.Version
	commit  = "none"
)

func main() {
	app := &cli.App{
		Name:  "nes-worker",
		Usage: "NebulaStream execution-core worker",
		Commands: []*cli.Command{
			runCommand(),
			versionCommand(),
			checkpointCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			enc := json.NewEncoder(os.Stdout)
			return enc.Encode(map[string]string{
				"version": version,
				"commit":  commit,
			})
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the worker: buffer pool, task queue, sinks, metrics endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to YAML worker config file"},
			&cli.IntFlag{Name: "worker-id", Usage: "Overrides config worker_id"},
			&cli.IntFlag{Name: "num-workers", Usage: "Overrides config worker_pool.num_workers"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Address to serve /metrics on", Value: ":9464"},
			&cli.StringFlag{Name: "webhook-url", Usage: "Overrides config sinks.webhook.url"},
			&cli.StringFlag{Name: "redis-url", Usage: "Overrides config sinks.redis.url"},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	applyFlagOverrides(cfg, c)

	logger := log.NewLogger(log.Context{WorkerID: cfg.WorkerID})
	sugar := logger.Sugar()

	numBuffers := 0
	if cfg.Memory.BufferSize > 0 {
		numBuffers = int(cfg.Memory.ArenaBytes / int64(cfg.Memory.BufferSize))
	}
	pool, err := memory.NewPool(numBuffers, cfg.Memory.BufferSize)
	if err != nil {
		return cli.Exit(fmt.Errorf("nes-worker: create buffer pool: %w", err), 1)
	}

	store, err := buildCheckpointStore(c.Context, cfg)
	if err != nil {
		return cli.Exit(err, 1)
	}

	sinks, err := buildSinks(cfg)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer func() {
		for _, s := range sinks {
			if cerr := s.Close(); cerr != nil {
				sugar.Errorf("close sink: %v", cerr)
			}
		}
	}()

	// No query admission happens in this binary, so there is no caller-
	// supplied query id yet; a per-process instance id keeps the metrics
	// collector distinguishable across worker restarts.
	instanceID := uuid.New().String()
	collector := metrics.NewCollector(instanceID, 0, cfg.WorkerPool.NumWorkers)
	registry := metrics.NewPrometheusRegistry()

	workers := queue.NewPool(cfg.WorkerPool.NumWorkers, cfg.WorkerPool.QueueDepth,
		queue.WithTaskErrorHandler(func(t queue.Task, err error) {
			collector.IncEventDropped("task_error")
			sugar.Errorf("task for pipeline %d failed: %v", t.Pipeline.ID(), err)
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workers.Start(ctx)
	defer workers.Stop()

	server := &http.Server{Addr: c.String("metrics-addr"), Handler: registry.Handler()}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	sugar.Infof("nes-worker started: worker_id=%d workers=%d buffers=%d metrics=%s checkpoint_store=%T",
		cfg.WorkerID, cfg.WorkerPool.NumWorkers, pool.TotalBuffers(), c.String("metrics-addr"), store)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	reportTicker := time.NewTicker(30 * time.Second)
	defer reportTicker.Stop()

	var prev metrics.Snapshot
	for {
		select {
		case sig := <-sigCh:
			sugar.Infof("received %s, shutting down", sig)
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = server.Shutdown(shutdownCtx)
			shutdownCancel()
			return nil
		case err := <-serveErr:
			if err != nil && err != http.ErrServerClosed {
				return cli.Exit(fmt.Errorf("nes-worker: metrics server: %w", err), 1)
			}
		case <-reportTicker.C:
			snap := collector.Snapshot()
			registry.UpdateFromSnapshot(snap, prev)
			prev = snap
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func applyFlagOverrides(cfg *config.Config, c *cli.Context) {
	if c.IsSet("worker-id") {
		cfg.WorkerID = c.Int("worker-id")
	}
	if c.IsSet("num-workers") {
		cfg.WorkerPool.NumWorkers = c.Int("num-workers")
	}
	if c.IsSet("webhook-url") {
		cfg.Sinks.Webhook.URL = c.String("webhook-url")
	}
	if c.IsSet("redis-url") {
		cfg.Sinks.Redis.URL = c.String("redis-url")
	}
}

func buildCheckpointStore(ctx context.Context, cfg *config.Config) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "", "local":
		dir := cfg.Checkpoint.Path
		if dir == "" {
			dir = "./checkpoints"
		}
		return checkpoint.NewLocalStore(dir)
	case "s3":
		return s3store.New(ctx, s3store.Config{
			Bucket:       cfg.Checkpoint.S3Bucket,
			Region:       cfg.Checkpoint.S3Region,
			Endpoint:     cfg.Checkpoint.S3Endpoint,
			UsePathStyle: cfg.Checkpoint.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("nes-worker: unsupported checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

func buildSinks(cfg *config.Config) ([]sink.Sink, error) {
	var sinks []sink.Sink

	if cfg.Sinks.Webhook.URL != "" {
		s, err := webhook.New(webhook.Config{
			URL:     cfg.Sinks.Webhook.URL,
			Headers: cfg.Sinks.Webhook.Headers,
			Timeout: cfg.Sinks.Webhook.Timeout.Duration,
			Retries: retriesOrDefault(cfg.Sinks.Webhook.Retries),
		})
		if err != nil {
			return nil, fmt.Errorf("nes-worker: build webhook sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if cfg.Sinks.Redis.URL != "" {
		s, err := redisstream.New(redisstream.Config{
			URL:    cfg.Sinks.Redis.URL,
			Stream: cfg.Sinks.Redis.Stream,
		})
		if err != nil {
			return nil, fmt.Errorf("nes-worker: build redis stream sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	return sinks, nil
}

func retriesOrDefault(r *int) int {
	if r == nil {
		return webhook.DefaultRetries
	}
	return *r
}

func checkpointCommand() *cli.Command {
	return &cli.Command{
		Name:  "checkpoint",
		Usage: "Inspect persisted pipeline checkpoints",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print a pipeline's persisted checkpoint as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Usage: "Local checkpoint directory", Value: "./checkpoints"},
					&cli.Uint64Flag{Name: "query-id", Required: true},
					&cli.Uint64Flag{Name: "pipeline-id", Required: true},
				},
				Action: checkpointShowAction,
			},
		},
	}
}

func checkpointShowAction(c *cli.Context) error {
	store, err := checkpoint.NewLocalStore(c.String("dir"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	state, err := store.Load(c.Uint64("query-id"), c.Uint64("pipeline-id"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}
