// Package emit implements the emit operator: the final stage of a pipeline
// that materializes records into output buffers via a memory provider and
// stamps each buffer with its sequence identity before handing it to
// successor pipelines.
package emit

import (
	"sync"

	"github.com/nebulastream/nes-core/memory"
	"github.com/nebulastream/nes-core/types"
)

// BufferAllocator obtains a fresh output buffer of the pipeline's
// configured size, satisfied by memory.Pool/LocalBufferPool.
type BufferAllocator interface {
	GetBufferNoWait() (memory.TupleBuffer, bool)
}

// Handler is the pipeline-wide emit coordinator: it hands out dense,
// monotonically increasing per-sequence-number identities and tracks, per
// sequence, how many chunks have been emitted so the final chunk (emitted
// at close, when the total chunk count becomes known) carries the correct
// chunk number and seal flag.
type Handler struct {
	originID types.OriginID

	mu          sync.Mutex
	nextSeq     types.SequenceNumber
	chunkCounts map[types.SequenceNumber]uint32
}

// NewHandler creates a handler stamping buffers with originID.
func NewHandler(originID types.OriginID) *Handler {
	return &Handler{
		originID:    originID,
		nextSeq:     types.InitialSequenceNumber,
		chunkCounts: make(map[types.SequenceNumber]uint32),
	}
}

// nextSequenceNumber allocates the next dense sequence number for a new
// logical record batch (invoked once per Writer, not once per chunk).
func (h *Handler) nextSequenceNumber() types.SequenceNumber {
	h.mu.Lock()
	defer h.mu.Unlock()
	seq := h.nextSeq
	h.nextSeq++
	h.chunkCounts[seq] = 0
	return seq
}

// nextChunkNumber returns the next chunk number for seq and increments its
// tracked count.
func (h *Handler) nextChunkNumber(seq types.SequenceNumber) types.ChunkNumber {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chunkCounts[seq]++
	return types.ChunkNumber(h.chunkCounts[seq])
}

// removeSequenceState drops the tracked chunk count for seq once its final
// (lastChunk) buffer has been emitted, keeping the map bounded to in-flight
// sequences only.
func (h *Handler) removeSequenceState(seq types.SequenceNumber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.chunkCounts, seq)
}

// Writer is per-invocation emit state: the current output buffer being
// filled and its write index. A Writer is created once per logical record
// batch (e.g. once per input buffer a pipeline processes) and Close'd
// exactly once.
type Writer struct {
	handler   *Handler
	allocator BufferAllocator
	layout    *memory.LayoutProvider
	watermark types.Timestamp
	emit      func(memory.TupleBuffer)

	seq      types.SequenceNumber
	current  memory.TupleBuffer
	index    int
	capacity int
	closed   bool
}

// NewWriter creates a writer that allocates buffers from allocator, lays
// out records via layout, stamps them with watermark, and forwards sealed
// buffers to emitFn.
func NewWriter(h *Handler, allocator BufferAllocator, layout *memory.LayoutProvider, watermark types.Timestamp, emitFn func(memory.TupleBuffer)) *Writer {
	return &Writer{
		handler:   h,
		allocator: allocator,
		layout:    layout,
		watermark: watermark,
		emit:      emitFn,
		seq:       h.nextSequenceNumber(),
	}
}

// Execute appends rec to the current output buffer, rolling over to a
// fresh buffer (emitting the full one as a non-final chunk) when the
// current buffer reaches capacity.
func (w *Writer) Execute(rec types.Record) error {
	if !w.current.Valid() {
		if err := w.allocate(); err != nil {
			return err
		}
	}
	if w.index == w.capacity {
		w.sealChunk(false)
		if err := w.allocate(); err != nil {
			return err
		}
	}
	if err := w.layout.WriteRecord(w.current, w.index, rec); err != nil {
		return err
	}
	w.current.SetNumberOfTuples(uint64(w.index + 1))
	w.index++
	return nil
}

// Close emits the current (possibly partial) buffer with LastChunk=true and
// retires this writer's sequence state. If Execute was never called, Close
// still allocates and seals an empty final buffer: without one, this
// writer's sequence number would be freed with no LastChunk=true buffer
// ever sent, leaving downstream sequence/watermark tracking waiting on a
// sequence that never arrives.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.handler.removeSequenceState(w.seq)
	if !w.current.Valid() {
		if err := w.allocate(); err != nil {
			return err
		}
	}
	w.sealChunk(true)
	return nil
}

func (w *Writer) allocate() error {
	buf, ok := w.allocator.GetBufferNoWait()
	if !ok {
		return types.ErrCannotAllocateBuffer
	}
	w.current = buf
	w.index = 0
	w.capacity = w.layout.Capacity(buf.Capacity())
	return nil
}

func (w *Writer) sealChunk(last bool) {
	buf := w.current
	chunk := w.handler.nextChunkNumber(w.seq)
	buf.SetOrigin(w.handler.originID)
	buf.SetSequence(types.SequenceData{
		Origin:         w.handler.originID,
		SequenceNumber: w.seq,
		ChunkNumber:    chunk,
		LastChunk:      last,
	})
	buf.SetWatermark(w.watermark)
	w.emit(buf)
	w.current = memory.TupleBuffer{}
}
