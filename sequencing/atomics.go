package sequencing

import (
	"sync/atomic"

	"github.com/nebulastream/nes-core/internal/invariant"
	"github.com/nebulastream/nes-core/types"
)

// chunkCounter is a chunk's lock-free arrival counter: decremented by one
// per non-last chunk, incremented by the chunk number minus one on the last chunk,
// reaching exactly zero once every chunk has been seen.
type chunkCounter struct {
	v atomic.Int64
}

// maxWatermark is a lock-free running maximum over watermarks observed for
// one sequence number.
type maxWatermark struct {
	v atomic.Uint64
}

func (m *maxWatermark) updateMax(candidate uint64) {
	for {
		current := m.v.Load()
		if candidate <= current {
			return
		}
		if m.v.CompareAndSwap(current, candidate) {
			return
		}
	}
}

// seenFlag guards the precondition that a sequence's last chunk arrives at
// most once.
type seenFlag struct {
	v atomic.Bool
}

// atomicInt is a lock-free down-counter used for node.missing, reclaiming a
// node only once the thread observing the final decrement to zero does so.
type atomicInt struct {
	v atomic.Int64
}

func (a *atomicInt) store(n int64) { a.v.Store(n) }

// decrementAndCheckZero decrements the counter and reports whether this
// call observed it reach zero (i.e. this caller is responsible for
// reclaiming the owning node).
func (a *atomicInt) decrementAndCheckZero() bool {
	return a.v.Add(-1) == 0
}

// update applies one chunk arrival to entry, returning (watermark, true)
// once the sequence's full chunk set has arrived.
func (e *chunkEntry) update(seq types.SequenceData, watermark uint64) (uint64, bool) {
	e.watermark.updateMax(watermark)

	if seq.LastChunk {
		invariant.Check(!e.seenLastChunk.v.Swap(true), "ChunkCollector: last chunk observed twice for one sequence number")
	}

	chunk := int64(seq.ChunkNumber) - int64(types.InitialChunkNumber)
	var updated int64
	if seq.LastChunk {
		// Go's atomic.Int64.Add returns the value after the add (unlike C++
		// fetch_add, which returns the value before), so no extra +chunk here.
		updated = e.counter.v.Add(chunk)
	} else {
		updated = e.counter.v.Add(-1)
	}

	if updated == 0 {
		return e.watermark.v.Load(), true
	}
	return 0, false
}
