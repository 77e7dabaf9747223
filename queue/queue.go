// Package queue implements the worker pool and task queue that drive
// pipeline execution: N worker goroutines pull (pipeline-handle, buffer)
// tasks from a shared queue, invoke the pipeline's compiled stage, and
// forward any emitted buffers back onto the same queue for successor
// pipelines.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nebulastream/nes-core/memory"
)

// Stage is the compiled function a pipeline runs over one input buffer. It
// receives the worker's context (scratch state, local buffer pool, task
// submission) and returns an error on failure; emitted output buffers are
// submitted through wc.Submit by the stage itself rather than returned, so a stage
// may emit zero, one, or many buffers per invocation.
type Stage func(ctx context.Context, buf memory.TupleBuffer, wc *WorkerContext) error

// PipelineHandle identifies the pipeline a task targets and carries its
// compiled stage and successor list. It is intentionally a minimal
// interface so the queue package does not depend on the pipeline package;
// pipeline.ExecutablePipeline implements this.
type PipelineHandle interface {
	// ID returns the pipeline's identity for logging/metrics.
	ID() uint64
	// Execute runs the pipeline's stage over buf using wc, forwarding any
	// emitted output to successor pipelines via wc.Submit.
	Execute(ctx context.Context, buf memory.TupleBuffer, wc *WorkerContext) error
}

// Task is a unit of work: a pipeline handle paired with its input buffer.
// The queue preserves FIFO order per producer only; cross-producer
// ordering is recovered downstream by (origin, sequence, chunk).
type Task struct {
	Pipeline PipelineHandle
	Buffer   memory.TupleBuffer
}

// WorkerContext is the per-worker-thread state passed to every stage
// invocation: worker identity, a thread-local buffer pool, per-pipeline
// scratch state, and the means to submit newly produced tasks back onto
// the queue.
type WorkerContext struct {
	WorkerID    int
	LocalBuffer *memory.LocalBufferPool

	scratchMu sync.Mutex
	scratch   map[uint64]any

	submit func(Task) bool
}

// Scratch returns the mutable per-pipeline state for pipelineID, creating
// it via newState if absent. Operators use this to stash hash maps, slice
// stores, or other long-lived state that must survive across invocations
// on the same worker.
func (wc *WorkerContext) Scratch(pipelineID uint64, newState func() any) any {
	wc.scratchMu.Lock()
	defer wc.scratchMu.Unlock()
	if wc.scratch == nil {
		wc.scratch = make(map[uint64]any)
	}
	if s, ok := wc.scratch[pipelineID]; ok {
		return s
	}
	s := newState()
	wc.scratch[pipelineID] = s
	return s
}

// Submit enqueues task for execution, returning false if the queue has
// been stopped and can no longer accept work.
func (wc *WorkerContext) Submit(task Task) bool { return wc.submit(task) }

// Pool is a fixed-size worker pool draining a shared task queue.
type Pool struct {
	tasks   chan Task
	workers int

	stopped atomic.Bool
	wg      sync.WaitGroup

	onTaskError func(Task, error)
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithTaskErrorHandler installs a callback invoked whenever a stage
// returns an error; the pipeline is responsible for transitioning itself
// to Failed and propagating, so this hook is purely for logging/metrics.
func WithTaskErrorHandler(fn func(Task, error)) Option {
	return func(p *Pool) { p.onTaskError = fn }
}

// NewPool creates a pool of numWorkers goroutines draining a queue of the
// given capacity. Capacity bounds memory use under backpressure; a full
// queue blocks Submit callers (admission control lives above this layer).
func NewPool(numWorkers, queueCapacity int, opts ...Option) *Pool {
	p := &Pool{
		tasks:   make(chan Task, queueCapacity),
		workers: numWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines. Each worker loops until ctx is
// cancelled or Stop is called, at which point cooperative cancellation:
// a worker observes ctx.Done() between tasks and while blocked inside a
// stage that itself respects ctx (e.g. a source's fillTupleBuffer).
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

func (p *Pool) runWorker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	wc := &WorkerContext{
		WorkerID: workerID,
		submit:   p.Submit,
	}
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			if err := task.Pipeline.Execute(ctx, task.Buffer, wc); err != nil && p.onTaskError != nil {
				p.onTaskError(task, err)
			}
		}
	}
}

// Submit enqueues task, blocking if the queue is full. Returns false if
// the pool has been stopped.
func (p *Pool) Submit(task Task) bool {
	if p.stopped.Load() {
		return false
	}
	p.tasks <- task
	return true
}

// TrySubmit enqueues task without blocking, returning false if the queue
// is full or the pool is stopped.
func (p *Pool) TrySubmit(task Task) bool {
	if p.stopped.Load() {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Stop marks the pool as no longer accepting new work, closes the task
// channel, and waits for all workers to exit; workers run the tasks still
// queued before exiting unless ctx is cancelled first. Callers must ensure
// no further Submit calls race with Stop.
func (p *Pool) Stop() {
	p.stopped.Store(true)
	close(p.tasks)
	p.wg.Wait()
}

// QueueLength reports the current number of queued tasks, for metrics.
func (p *Pool) QueueLength() int { return len(p.tasks) }
