// Package pipeline implements the ExecutablePipeline state machine: each
// pipeline wraps a compiled stage, tracks how many upstream producers feed
// it, and moves through Created -> Running -> Stopped/Failed in response to
// explicit stop requests, upstream end-of-stream, and operator errors.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nebulastream/nes-core/log"
	"github.com/nebulastream/nes-core/memory"
	"github.com/nebulastream/nes-core/queue"
)

// Status is a pipeline's lifecycle state.
type Status uint8

const (
	StatusCreated Status = iota
	StatusRunning
	StatusStopped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stage is the compiled computation a pipeline runs over one buffer. It may
// emit zero or more output buffers by calling emit.
type Stage func(ctx context.Context, buf memory.TupleBuffer, wc *queue.WorkerContext, emit func(memory.TupleBuffer)) error

// ReconfigurationKind distinguishes the reconfiguration messages a pipeline
// can receive.
type ReconfigurationKind uint8

const (
	// ReconfigSoftStop requests a drain-then-stop: the pipeline keeps
	// executing until its producer count and in-flight task count both
	// reach zero, then transitions to Stopped and propagates EOS.
	ReconfigSoftStop ReconfigurationKind = iota
	// ReconfigHardStop requests an immediate Running -> Stopped transition
	// with no further execution.
	ReconfigHardStop
	// ReconfigEOS signals that one upstream producer has finished; the
	// pipeline decrements its producer count.
	ReconfigEOS
)

// ReconfigurationMessage is delivered to a pipeline's Reconfigure method.
type ReconfigurationMessage struct {
	Kind ReconfigurationKind
}

// ExecutablePipeline is a single fragment of a query: a compiled stage plus
// the bookkeeping needed to know when it is safe to stop.
type ExecutablePipeline struct {
	id         uint64
	stage      Stage
	successors []*ExecutablePipeline

	status atomic.Int32

	activeProducers atomic.Int32
	inProgressTasks atomic.Int32

	failMu    sync.Mutex
	predecessors []*ExecutablePipeline

	logger *log.Logger
}

// New creates a pipeline in Created state with numProducers upstream
// producers; numProducers must be decremented to zero (via ReconfigEOS) or
// the pipeline explicitly hard-stopped before it can reach Stopped through
// the soft-stop path.
func New(id uint64, stage Stage, numProducers int, logger *log.Logger) *ExecutablePipeline {
	p := &ExecutablePipeline{id: id, stage: stage, logger: logger}
	p.activeProducers.Store(int32(numProducers))
	return p
}

// ID returns the pipeline's identity, satisfying queue.PipelineHandle.
func (p *ExecutablePipeline) ID() uint64 { return p.id }

// AddSuccessor registers a downstream pipeline to receive buffers this
// pipeline emits, and records this pipeline as one of the successor's
// producers.
func (p *ExecutablePipeline) AddSuccessor(successor *ExecutablePipeline) {
	p.successors = append(p.successors, successor)
	successor.predecessors = append(successor.predecessors, p)
}

// IncrementProducerCount atomically registers one more upstream producer,
// used when a query plan is reconfigured to add an additional source.
func (p *ExecutablePipeline) IncrementProducerCount() { p.activeProducers.Add(1) }

// Status returns the pipeline's current lifecycle state.
func (p *ExecutablePipeline) Status() Status { return Status(p.status.Load()) }

// Setup transitions Created -> Running. Called once all operator setup
// hooks (buffer manager wiring, state manager registration) complete.
func (p *ExecutablePipeline) Setup() error {
	if !p.status.CompareAndSwap(int32(StatusCreated), int32(StatusRunning)) {
		return fmt.Errorf("pipeline %d: Setup called from state %s", p.id, p.Status())
	}
	return nil
}

// Execute runs the pipeline's stage over buf if Running; otherwise the
// buffer is dropped (Stopped) or the call fails (Failed), satisfying
// queue.PipelineHandle so pipelines can be submitted directly to a
// queue.Pool.
func (p *ExecutablePipeline) Execute(ctx context.Context, buf memory.TupleBuffer, wc *queue.WorkerContext) error {
	// Reserve an in-progress slot before checking Status: SoftStop only
	// transitions once inProgressTasks is back to zero, so incrementing
	// first closes the window where a soft-stop could flip the pipeline to
	// Stopped between this check and the stage actually running.
	p.inProgressTasks.Add(1)
	defer p.inProgressTasks.Add(-1)

	switch p.Status() {
	case StatusStopped:
		buf.Release()
		return nil
	case StatusFailed:
		buf.Release()
		return fmt.Errorf("pipeline %d: execute called after failure", p.id)
	case StatusRunning:
	default:
		buf.Release()
		return fmt.Errorf("pipeline %d: execute called before setup (state %s)", p.id, p.Status())
	}

	err := p.stage(ctx, buf, wc, func(out memory.TupleBuffer) {
		p.forward(wc, out)
	})
	if err != nil {
		p.fail(err)
		return fmt.Errorf("pipeline %d: %w", p.id, err)
	}
	return nil
}

func (p *ExecutablePipeline) forward(wc *queue.WorkerContext, buf memory.TupleBuffer) {
	if len(p.successors) == 0 {
		buf.Release()
		return
	}
	for i, succ := range p.successors {
		b := buf
		if i < len(p.successors)-1 {
			b = buf.Retain()
		}
		if !wc.Submit(queue.Task{Pipeline: succ, Buffer: b}) {
			b.Release()
		}
	}
}

// HardStop immediately transitions Running -> Stopped with no further
// execution; in-flight invocations still complete, but new buffers are
// dropped.
func (p *ExecutablePipeline) HardStop() {
	p.status.CompareAndSwap(int32(StatusRunning), int32(StatusStopped))
}

// SoftStop requests a drain-then-stop: the pipeline transitions to Stopped
// only once every producer has signalled EOS and no task is in flight. If
// those conditions already hold, the transition happens immediately;
// otherwise the caller (typically ReconfigEOS handling) must retry the
// check as producers finish.
func (p *ExecutablePipeline) SoftStop() bool {
	if p.activeProducers.Load() != 0 || p.inProgressTasks.Load() != 0 {
		return false
	}
	return p.status.CompareAndSwap(int32(StatusRunning), int32(StatusStopped))
}

// Reconfigure applies a reconfiguration message, corresponding to the
// original's two-phase reconfigure/postReconfigurationCallback split:
// Reconfigure updates local state (producer count, stop requests) while
// PostReconfigurationCallback performs the side effect of propagating to
// neighbors once every worker thread has observed the message.
func (p *ExecutablePipeline) Reconfigure(msg ReconfigurationMessage, wc *queue.WorkerContext) {
	switch msg.Kind {
	case ReconfigEOS:
		if p.activeProducers.Add(-1) < 0 {
			p.activeProducers.Store(0)
		}
	case ReconfigHardStop:
		p.HardStop()
	case ReconfigSoftStop:
		p.SoftStop()
	}
}

// PostReconfigurationCallback propagates the lifecycle transition to
// successors once every worker has applied Reconfigure: a completed
// soft/hard stop sends ReconfigEOS downstream so successors can decrement
// their own producer counts, then soft-stops each successor whose producers
// have all finished. Failure propagation is done by fail, not here.
func (p *ExecutablePipeline) PostReconfigurationCallback(msg ReconfigurationMessage, wc *queue.WorkerContext) {
	switch msg.Kind {
	case ReconfigSoftStop, ReconfigHardStop:
		if p.Status() != StatusStopped {
			return
		}
		for _, succ := range p.successors {
			succ.Reconfigure(ReconfigurationMessage{Kind: ReconfigEOS}, wc)
			succ.SoftStop()
			succ.PostReconfigurationCallback(ReconfigurationMessage{Kind: ReconfigSoftStop}, wc)
		}
	}
}

// fail transitions the pipeline to Failed and propagates failure downstream
// (successors also fail, since they can no longer expect correct input) and
// notifies upstream producers to stop (they have nowhere to send buffers).
func (p *ExecutablePipeline) fail(cause error) {
	if !p.status.CompareAndSwap(int32(StatusRunning), int32(StatusFailed)) {
		return
	}
	if p.logger != nil {
		p.logger.Error("pipeline failed", map[string]any{"pipeline_id": p.id, "error": cause.Error()})
	}
	p.failMu.Lock()
	predecessors := append([]*ExecutablePipeline(nil), p.predecessors...)
	successors := append([]*ExecutablePipeline(nil), p.successors...)
	p.failMu.Unlock()

	for _, succ := range successors {
		succ.fail(fmt.Errorf("upstream pipeline %d failed", p.id))
	}
	for _, pred := range predecessors {
		pred.HardStop()
	}
}
