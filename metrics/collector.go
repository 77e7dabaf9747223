// Package metrics accumulates per-query execution metrics.
//
// The Collector accumulates counters during a single query's lifetime. It is
// a leaf package with no internal dependencies on the rest of the runtime;
// every subsystem that wants to be observed takes a *Collector and calls its
// nil-receiver-safe increment methods directly, so a pipeline under test can
// pass a nil collector and skip instrumentation entirely.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all tracked metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsCrashed   int64

	// Execution
	TasksProcessed   int64
	WindowsTriggered int64
	ChunksCollected  int64
	BuffersInUse     int64

	// Records dropped, keyed by reason
	EventsDropped int64
	DroppedByType map[string]int64

	// External pipeline stage
	ExecutorLaunchSuccess int64
	ExecutorLaunchFailure int64
	ExecutorCrash         int64
	IPCDecodeErrors       int64

	// Checkpoint
	CheckpointWriteSuccess int64
	CheckpointWriteFailure int64

	// Dimensions (informational, set at construction)
	QueryID       string
	PipelineCount int
	WorkerCount   int
}

// Collector accumulates metrics during a single query's execution.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	runsStarted   int64
	runsCompleted int64
	runsFailed    int64
	runsCrashed   int64

	tasksProcessed   int64
	windowsTriggered int64
	chunksCollected  int64
	buffersInUse     int64

	eventsDropped int64
	droppedByType map[string]int64

	executorLaunchSuccess int64
	executorLaunchFailure int64
	executorCrash         int64
	ipcDecodeErrors       int64

	checkpointWriteSuccess int64
	checkpointWriteFailure int64

	queryID       string
	pipelineCount int
	workerCount   int
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(queryID string, pipelineCount, workerCount int) *Collector {
	return &Collector{
		droppedByType: make(map[string]int64),
		queryID:       queryID,
		pipelineCount: pipelineCount,
		workerCount:   workerCount,
	}
}

// --- Run lifecycle ---

// IncRunStarted records a query execution start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsStarted++
	c.mu.Unlock()
}

// IncRunCompleted records a successful query completion.
func (c *Collector) IncRunCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsCompleted++
	c.mu.Unlock()
}

// IncRunFailed records a query failure.
func (c *Collector) IncRunFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsFailed++
	c.mu.Unlock()
}

// IncRunCrashed records a query crash.
func (c *Collector) IncRunCrashed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsCrashed++
	c.mu.Unlock()
}

// --- Execution ---

// IncTasksProcessed records one completed worker pool task.
func (c *Collector) IncTasksProcessed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tasksProcessed++
	c.mu.Unlock()
}

// IncWindowsTriggered records one triggered aggregation or join window.
func (c *Collector) IncWindowsTriggered() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.windowsTriggered++
	c.mu.Unlock()
}

// IncChunksCollected records one sequence completed by the chunk collector.
func (c *Collector) IncChunksCollected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksCollected++
	c.mu.Unlock()
}

// SetBuffersInUse sets the current buffer-pool checkout count.
func (c *Collector) SetBuffersInUse(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.buffersInUse = n
	c.mu.Unlock()
}

// --- Drop accounting ---

// IncEventDropped records one dropped record for the given reason (e.g.
// "queue_full", "task_error").
func (c *Collector) IncEventDropped(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsDropped++
	c.droppedByType[reason]++
	c.mu.Unlock()
}

// --- External pipeline stage ---

// IncExecutorLaunchSuccess records a successful external stage launch.
func (c *Collector) IncExecutorLaunchSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.executorLaunchSuccess++
	c.mu.Unlock()
}

// IncExecutorLaunchFailure records a failed external stage launch.
func (c *Collector) IncExecutorLaunchFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.executorLaunchFailure++
	c.mu.Unlock()
}

// IncExecutorCrash records an external stage crash detected during ingestion.
func (c *Collector) IncExecutorCrash() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.executorCrash++
	c.mu.Unlock()
}

// IncIPCDecodeErrors records an IPC frame decode error.
func (c *Collector) IncIPCDecodeErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ipcDecodeErrors++
	c.mu.Unlock()
}

// --- Checkpoint ---

// IncCheckpointWriteSuccess records a successful checkpoint snapshot write.
func (c *Collector) IncCheckpointWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.checkpointWriteSuccess++
	c.mu.Unlock()
}

// IncCheckpointWriteFailure records a failed checkpoint snapshot write.
func (c *Collector) IncCheckpointWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.checkpointWriteFailure++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := make(map[string]int64, len(c.droppedByType))
	for k, v := range c.droppedByType {
		dropped[k] = v
	}

	return Snapshot{
		RunsStarted:   c.runsStarted,
		RunsCompleted: c.runsCompleted,
		RunsFailed:    c.runsFailed,
		RunsCrashed:   c.runsCrashed,

		TasksProcessed:   c.tasksProcessed,
		WindowsTriggered: c.windowsTriggered,
		ChunksCollected:  c.chunksCollected,
		BuffersInUse:     c.buffersInUse,

		EventsDropped: c.eventsDropped,
		DroppedByType: dropped,

		ExecutorLaunchSuccess: c.executorLaunchSuccess,
		ExecutorLaunchFailure: c.executorLaunchFailure,
		ExecutorCrash:         c.executorCrash,
		IPCDecodeErrors:       c.ipcDecodeErrors,

		CheckpointWriteSuccess: c.checkpointWriteSuccess,
		CheckpointWriteFailure: c.checkpointWriteFailure,

		QueryID:       c.queryID,
		PipelineCount: c.pipelineCount,
		WorkerCount:   c.workerCount,
	}
}
