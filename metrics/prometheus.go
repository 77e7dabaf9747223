package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRegistry exports the same counters the Collector tracks as
// Prometheus metrics, for worker processes that expose a /metrics scrape
// endpoint alongside their own Snapshot()-based reporting. Collector.Snapshot
// remains the source of truth; the registry's gauges are refreshed from it.
type PrometheusRegistry struct {
	registry *prometheus.Registry

	buffersInUse      prometheus.Gauge
	tasksProcessed    prometheus.Counter
	windowsTriggered  prometheus.Counter
	chunksCollected   prometheus.Counter
	runsCompleted     prometheus.Counter
	runsFailed        prometheus.Counter
	ipcDecodeErrors   prometheus.Counter
	executorLaunchErr prometheus.Counter

	eventsDropped *prometheus.CounterVec

	taskLatency prometheus.Histogram
}

// NewPrometheusRegistry creates an independent Prometheus registry so
// repeated calls (e.g. in tests) never collide on collector registration.
func NewPrometheusRegistry() *PrometheusRegistry {
	registry := prometheus.NewRegistry()

	r := &PrometheusRegistry{
		registry: registry,
		buffersInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nes_buffers_in_use",
			Help: "Number of tuple buffers currently checked out of the buffer pool.",
		}),
		tasksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nes_tasks_processed_total",
			Help: "Total number of worker pool tasks completed.",
		}),
		windowsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nes_windows_triggered_total",
			Help: "Total number of aggregation or join windows triggered.",
		}),
		chunksCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nes_chunk_collector_completions_total",
			Help: "Total number of sequences completed by the chunk collector.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nes_runs_completed_total",
			Help: "Total number of query runs completed successfully.",
		}),
		runsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nes_runs_failed_total",
			Help: "Total number of query runs that failed.",
		}),
		ipcDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nes_ipc_decode_errors_total",
			Help: "Total number of external pipeline stage IPC frame decode errors.",
		}),
		executorLaunchErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nes_executor_launch_failures_total",
			Help: "Total number of external executor launch failures.",
		}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nes_events_dropped_total",
			Help: "Total number of records dropped, by reason.",
		}, []string{"reason"}),
		taskLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nes_task_latency_seconds",
			Help:    "Observed wall-clock duration of worker pool task execution.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		r.buffersInUse,
		r.tasksProcessed,
		r.windowsTriggered,
		r.chunksCollected,
		r.runsCompleted,
		r.runsFailed,
		r.ipcDecodeErrors,
		r.executorLaunchErr,
		r.eventsDropped,
		r.taskLatency,
	)

	return r
}

// Handler returns the http.Handler serving this registry's /metrics page.
func (r *PrometheusRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SetBuffersInUse sets the current buffer-pool checkout gauge.
func (r *PrometheusRegistry) SetBuffersInUse(n int) {
	r.buffersInUse.Set(float64(n))
}

// ObserveTaskLatency records one task's execution duration in seconds.
func (r *PrometheusRegistry) ObserveTaskLatency(seconds float64) {
	r.taskLatency.Observe(seconds)
}

// IncTasksProcessed records one completed worker pool task.
func (r *PrometheusRegistry) IncTasksProcessed() {
	r.tasksProcessed.Inc()
}

// IncWindowsTriggered records one triggered aggregation or join window.
func (r *PrometheusRegistry) IncWindowsTriggered() {
	r.windowsTriggered.Inc()
}

// IncChunksCollected records one sequence completed by the chunk collector.
func (r *PrometheusRegistry) IncChunksCollected() {
	r.chunksCollected.Inc()
}

// IncEventsDropped records one dropped record for the given reason (e.g.
// "queue_full", "task_error").
func (r *PrometheusRegistry) IncEventsDropped(reason string) {
	r.eventsDropped.WithLabelValues(reason).Inc()
}

// UpdateFromSnapshot refreshes the run-lifecycle and executor counters from
// a Collector snapshot. Prometheus counters only move forward, so this adds
// the delta since the last call rather than setting an absolute value.
func (r *PrometheusRegistry) UpdateFromSnapshot(s Snapshot, prev Snapshot) {
	if d := s.RunsCompleted - prev.RunsCompleted; d > 0 {
		r.runsCompleted.Add(float64(d))
	}
	if d := s.RunsFailed - prev.RunsFailed; d > 0 {
		r.runsFailed.Add(float64(d))
	}
	if d := s.IPCDecodeErrors - prev.IPCDecodeErrors; d > 0 {
		r.ipcDecodeErrors.Add(float64(d))
	}
	if d := s.ExecutorLaunchFailure - prev.ExecutorLaunchFailure; d > 0 {
		r.executorLaunchErr.Add(float64(d))
	}
	if d := s.TasksProcessed - prev.TasksProcessed; d > 0 {
		r.tasksProcessed.Add(float64(d))
	}
	if d := s.WindowsTriggered - prev.WindowsTriggered; d > 0 {
		r.windowsTriggered.Add(float64(d))
	}
	if d := s.ChunksCollected - prev.ChunksCollected; d > 0 {
		r.chunksCollected.Add(float64(d))
	}
	r.buffersInUse.Set(float64(s.BuffersInUse))
	for reason, n := range s.DroppedByType {
		if d := n - prev.DroppedByType[reason]; d > 0 {
			r.eventsDropped.WithLabelValues(reason).Add(float64(d))
		}
	}
}
