// Package source implements the source thread: one detached loop per data
// source that fills buffers, stamps them with sequence and watermark
// identity, and hands them to the first pipeline of a query.
package source

import (
	"context"
	"sync/atomic"

	"github.com/nebulastream/nes-core/memory"
)

// StopToken is a cooperative cancellation flag checked by a source's
// FillTupleBuffer between I/O operations, per spec §5 ("Source
// fillTupleBuffer blocks on its I/O; woken by stop token").
type StopToken struct {
	stopped atomic.Bool
}

// Stop requests the source thread using this token to stop at its next
// opportunity.
func (t *StopToken) Stop() { t.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (t *StopToken) Stopped() bool { return t.stopped.Load() }

// FillResult is the outcome of one FillTupleBuffer call.
type FillResult struct {
	// NumTuples is the number of records written into the buffer.
	NumTuples int
	// EndOfStream reports that the source has no more data; buf may still
	// carry NumTuples records written before the source noticed EOS.
	EndOfStream bool
}

// Source fills a caller-supplied buffer with records. Implementations wrap
// a concrete data feed (file, socket, generator); stop is checked at
// blocking points so a source thread can shut down promptly.
type Source interface {
	FillTupleBuffer(ctx context.Context, buf memory.TupleBuffer, stop *StopToken) (FillResult, error)
}
