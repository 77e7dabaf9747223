// Package memory implements the buffer manager: a pool of reference-counted
// fixed-size TupleBuffers with child-buffer chaining for variable-sized
// payloads, plus an unpooled allocator for oversized requests.
package memory

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nebulastream/nes-core/internal/invariant"
	"github.com/nebulastream/nes-core/types"
)

// recycler returns a segment to its owning pool once the last reference to
// its TupleBuffer is released. Implemented by *Pool and *LocalBufferPool.
type recycler interface {
	recycle(seg *segment)
}

// segment is the control block adjacent to a buffer's payload. Its address
// never moves for the lifetime of the arena; TupleBuffer handles hold a
// pointer to it rather than copying it, and reinterpretation from a raw
// pointer is only valid through this control block (per spec §3).
type segment struct {
	data []byte // payload slice into the arena (or a dedicated alloc if unpooled)

	refCount atomic.Int64
	pool     recycler

	numberOfTuples atomic.Uint64
	origin         atomic.Uint64
	sequenceNumber atomic.Uint64
	chunkNumber    atomic.Uint64
	lastChunk      atomic.Bool
	watermark      atomic.Uint64
	createdAtNanos int64

	childrenMu sync.Mutex
	children   []*TupleBuffer
}

// TupleBuffer is a handle to a live reference on a segment. Copying a handle
// does not increment the refcount — callers must call Retain explicitly when
// sharing a buffer across goroutines/queues, mirroring the original's
// explicit-retain discipline around raw TupleBuffer copies.
type TupleBuffer struct {
	seg *segment
}

// Release decrements the reference count; at zero the segment returns to its
// recycler. Releasing a buffer also releases every buffer it owns as a
// child (spec §3: "a buffer owns its child buffers").
func (b TupleBuffer) Release() {
	if b.seg == nil {
		return
	}
	if b.seg.refCount.Add(-1) == 0 {
		b.seg.childrenMu.Lock()
		children := b.seg.children
		b.seg.children = nil
		b.seg.childrenMu.Unlock()
		for _, c := range children {
			c.Release()
		}
		b.seg.pool.recycle(b.seg)
	}
}

// Retain increments the reference count and returns the same handle, for
// callers fanning a buffer out to multiple consumers (e.g. multiple
// successor pipelines).
func (b TupleBuffer) Retain() TupleBuffer {
	if b.seg != nil {
		b.seg.refCount.Add(1)
	}
	return b
}

// Bytes returns the buffer's payload region for direct reads/writes via a
// memory provider (row or column layout).
func (b TupleBuffer) Bytes() []byte { return b.seg.data }

// Capacity returns the fixed payload size in bytes.
func (b TupleBuffer) Capacity() int { return len(b.seg.data) }

func (b TupleBuffer) NumberOfTuples() uint64         { return b.seg.numberOfTuples.Load() }
func (b TupleBuffer) SetNumberOfTuples(n uint64)     { b.seg.numberOfTuples.Store(n) }
func (b TupleBuffer) Origin() types.OriginID         { return types.OriginID(b.seg.origin.Load()) }
func (b TupleBuffer) SetOrigin(o types.OriginID)     { b.seg.origin.Store(uint64(o)) }
func (b TupleBuffer) Watermark() types.Timestamp     { return types.Timestamp(b.seg.watermark.Load()) }
func (b TupleBuffer) SetWatermark(w types.Timestamp) { b.seg.watermark.Store(uint64(w)) }
func (b TupleBuffer) CreatedAtNanos() int64          { return b.seg.createdAtNanos }

// Sequence returns the buffer's full ordering identity.
func (b TupleBuffer) Sequence() types.SequenceData {
	return types.SequenceData{
		Origin:         b.Origin(),
		SequenceNumber: types.SequenceNumber(b.seg.sequenceNumber.Load()),
		ChunkNumber:    types.ChunkNumber(b.seg.chunkNumber.Load()),
		LastChunk:      b.seg.lastChunk.Load(),
	}
}

// SetSequence stamps the buffer's ordering identity. Called once by the
// emitting source or pipeline before the buffer is enqueued.
func (b TupleBuffer) SetSequence(seq types.SequenceData) {
	b.seg.sequenceNumber.Store(uint64(seq.SequenceNumber))
	b.seg.chunkNumber.Store(uint64(seq.ChunkNumber))
	b.seg.lastChunk.Store(seq.LastChunk)
}

// AttachChild increments child's reference count and records it as owned by
// b: this is the mechanism for transporting variable-sized payloads (text,
// sketches) inside fixed-size carriers. Returns the child's index for later
// retrieval via Child. Forbids attaching a buffer to one of its own
// ancestors when built with nes_debug (cycle prevention is a debug-only
// check per spec §9; release builds trust the caller).
func (b TupleBuffer) AttachChild(child TupleBuffer) (uint32, error) {
	if child.seg == b.seg {
		return 0, fmt.Errorf("memory: cannot attach buffer to itself")
	}
	invariant.Check(child.seg != nil, "AttachChild: child buffer is invalid")
	// b must not already be among child's descendants, or attaching would
	// close a cycle; invariant.Check panics on a hit only under nes_debug.
	pending := []*segment{child.seg}
	for len(pending) > 0 {
		s := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if s == nil {
			continue
		}
		invariant.Check(s != b.seg, "AttachChild: child is an ancestor of the parent buffer")
		s.childrenMu.Lock()
		for _, c := range s.children {
			pending = append(pending, c.seg)
		}
		s.childrenMu.Unlock()
	}
	retained := child.Retain()
	b.seg.childrenMu.Lock()
	idx := uint32(len(b.seg.children))
	b.seg.children = append(b.seg.children, &retained)
	b.seg.childrenMu.Unlock()
	return idx, nil
}

// Child retrieves a previously attached child buffer by index.
func (b TupleBuffer) Child(index uint32) (TupleBuffer, bool) {
	b.seg.childrenMu.Lock()
	defer b.seg.childrenMu.Unlock()
	if int(index) >= len(b.seg.children) {
		return TupleBuffer{}, false
	}
	return *b.seg.children[index], true
}

// ChildCount returns the number of attached child buffers.
func (b TupleBuffer) ChildCount() int {
	b.seg.childrenMu.Lock()
	defer b.seg.childrenMu.Unlock()
	return len(b.seg.children)
}

// Valid reports whether the handle refers to a live segment.
func (b TupleBuffer) Valid() bool { return b.seg != nil }
