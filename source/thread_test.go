package source

import (
	"context"
	"testing"
	"time"

	"github.com/nebulastream/nes-core/log"
	"github.com/nebulastream/nes-core/memory"
	"github.com/nebulastream/nes-core/pipeline"
	"github.com/nebulastream/nes-core/queue"
	"github.com/nebulastream/nes-core/types"
)

// fixedSource emits n buffers (each with one tuple) then reports
// end-of-stream.
type fixedSource struct {
	remaining int
}

func (s *fixedSource) FillTupleBuffer(ctx context.Context, buf memory.TupleBuffer, stop *StopToken) (FillResult, error) {
	if s.remaining == 0 {
		return FillResult{EndOfStream: true}, nil
	}
	s.remaining--
	return FillResult{NumTuples: 1}, nil
}

type constWatermark struct{ ts types.Timestamp }

func (c constWatermark) Watermark(memory.TupleBuffer, types.Timestamp) types.Timestamp { return c.ts }

func TestThread_Run_EmitsAllBuffersThenStops(t *testing.T) {
	pool, err := memory.NewPool(8, 64)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	local := memory.NewLocalBufferPool(pool, 4)

	received := make(chan memory.TupleBuffer, 10)
	passthrough := pipeline.New(1, func(ctx context.Context, buf memory.TupleBuffer, wc *queue.WorkerContext, emit func(memory.TupleBuffer)) error {
		received <- buf
		return nil
	}, 1, log.NewLogger(log.Context{}))
	if err := passthrough.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	submitted := make(chan queue.Task, 10)
	submit := func(task queue.Task) bool {
		submitted <- task
		return true
	}

	th := NewThread(7, &fixedSource{remaining: 3}, local, constWatermark{ts: 42}, passthrough, submit, nil)
	if err := th.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	close(submitted)
	count := 0
	for task := range submitted {
		count++
		if task.Buffer.Origin() != 7 {
			t.Errorf("Origin = %d, want 7", task.Buffer.Origin())
		}
		if task.Buffer.Watermark() != 42 {
			t.Errorf("Watermark = %d, want 42", task.Buffer.Watermark())
		}
		if !task.Buffer.Sequence().LastChunk {
			t.Error("expected LastChunk=true on every source-stamped buffer")
		}
		task.Buffer.Release()
	}
	if count != 3 {
		t.Fatalf("submitted %d tasks, want 3", count)
	}
}

func TestThread_Run_SequenceNumbersAreDense(t *testing.T) {
	pool, _ := memory.NewPool(8, 64)
	local := memory.NewLocalBufferPool(pool, 4)

	passthrough := pipeline.New(1, func(ctx context.Context, buf memory.TupleBuffer, wc *queue.WorkerContext, emit func(memory.TupleBuffer)) error {
		return nil
	}, 1, log.NewLogger(log.Context{}))
	passthrough.Setup()

	var seqs []types.SequenceNumber
	submit := func(task queue.Task) bool {
		seqs = append(seqs, task.Buffer.Sequence().SequenceNumber)
		task.Buffer.Release()
		return true
	}

	th := NewThread(1, &fixedSource{remaining: 4}, local, constWatermark{}, passthrough, submit, nil)
	if err := th.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i, s := range seqs {
		want := types.InitialSequenceNumber + types.SequenceNumber(i)
		if s != want {
			t.Errorf("seq[%d] = %d, want %d", i, s, want)
		}
	}
}

func TestThread_Stop_HaltsLoopEarly(t *testing.T) {
	pool, _ := memory.NewPool(8, 64)
	local := memory.NewLocalBufferPool(pool, 4)

	passthrough := pipeline.New(1, func(ctx context.Context, buf memory.TupleBuffer, wc *queue.WorkerContext, emit func(memory.TupleBuffer)) error {
		return nil
	}, 1, log.NewLogger(log.Context{}))
	passthrough.Setup()

	th := NewThread(1, &fixedSource{remaining: 1000000}, local, constWatermark{}, passthrough, func(queue.Task) bool { return true }, nil)
	th.Stop()

	done := make(chan error, 1)
	go func() { done <- th.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop promptly after Stop()")
	}
}
