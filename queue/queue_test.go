package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nebulastream/nes-core/memory"
)

type countingPipeline struct {
	id  uint64
	got atomic.Int64
}

func (p *countingPipeline) ID() uint64 { return p.id }

func (p *countingPipeline) Execute(ctx context.Context, buf memory.TupleBuffer, wc *WorkerContext) error {
	p.got.Add(1)
	return nil
}

func TestPool_ExecutesSubmittedTasks(t *testing.T) {
	pool, _ := memory.NewPool(4, 64)
	p := NewPool(2, 8)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer cancel()

	pl := &countingPipeline{id: 1}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		buf, _ := pool.GetBufferNoWait()
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Submit(Task{Pipeline: pl, Buffer: buf})
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for pl.got.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := pl.got.Load(); got != 4 {
		t.Fatalf("executed %d tasks, want 4", got)
	}
}

func TestPool_Stop_DrainsThenExits(t *testing.T) {
	p := NewPool(1, 4)
	ctx := context.Background()
	p.Start(ctx)

	pl := &countingPipeline{id: 1}
	pool, _ := memory.NewPool(1, 64)
	buf, _ := pool.GetBufferNoWait()
	if !p.Submit(Task{Pipeline: pl, Buffer: buf}) {
		t.Fatal("Submit should succeed before Stop")
	}

	p.Stop()
	if pl.got.Load() != 1 {
		t.Fatalf("expected the queued task to run before shutdown, got %d", pl.got.Load())
	}
	if p.Submit(Task{Pipeline: pl, Buffer: buf}) {
		t.Fatal("Submit should fail after Stop")
	}
}

func TestWorkerContext_Scratch_CreatesOncePerPipeline(t *testing.T) {
	wc := &WorkerContext{}
	calls := 0
	newState := func() any {
		calls++
		return map[string]int{}
	}
	s1 := wc.Scratch(1, newState)
	s2 := wc.Scratch(1, newState)
	if calls != 1 {
		t.Fatalf("newState called %d times, want 1", calls)
	}
	if s1.(map[string]int) == nil || s2 == nil {
		t.Fatal("scratch state should not be nil")
	}
}
