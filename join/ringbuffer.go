package join

import (
	"sync"
	"sync/atomic"

	"github.com/nebulastream/nes-core/types"
)

// spanning-tuple state bitmap layout: a logical tuple can straddle two
// input buffers belonging to the same (origin, sequence) when a sequence's
// records are split across slices. Exactly one worker thread may claim that
// spanning tuple; the state packs four booleans and a generation counter
// into a single word so claims are CAS-guarded without a lock.
const (
	flagHasTupleDelimiter = 1 << 0
	flagUsedLeading       = 1 << 1
	flagUsedTrailing      = 1 << 2
	flagClaimedSpanning   = 1 << 3
	generationShift       = 8
)

// spanningState is the atomic per-(origin,sequence) bitmap: bits 0-3 are the
// flags above, bits 8+ are an ABA-guarding generation counter bumped every
// time the entry is recycled for a new sequence number.
type spanningState struct {
	v atomic.Uint32
}

func (s *spanningState) generation() uint32 { return s.v.Load() >> generationShift }

// markHasTupleDelimiter records that this buffer contains at least one full
// record boundary (as opposed to being entirely consumed by a spanning
// tuple on both ends).
func (s *spanningState) markHasTupleDelimiter() {
	for {
		cur := s.v.Load()
		next := cur | flagHasTupleDelimiter
		if s.v.CompareAndSwap(cur, next) {
			return
		}
	}
}

// claimSpanningTuple attempts to be the single thread responsible for
// stitching together the spanning tuple for this sequence. Returns false if
// another thread already claimed it, or if the generation has since moved
// on (ABA: this entry was recycled for a different sequence number before
// the caller got here).
func (s *spanningState) claimSpanningTuple(expectGeneration uint32) bool {
	for {
		cur := s.v.Load()
		if cur>>generationShift != expectGeneration {
			return false
		}
		if cur&flagClaimedSpanning != 0 {
			return false
		}
		next := cur | flagClaimedSpanning
		if s.v.CompareAndSwap(cur, next) {
			return true
		}
	}
}

func (s *spanningState) markUsedLeading() {
	for {
		cur := s.v.Load()
		next := cur | flagUsedLeading
		if s.v.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (s *spanningState) markUsedTrailing() {
	for {
		cur := s.v.Load()
		next := cur | flagUsedTrailing
		if s.v.CompareAndSwap(cur, next) {
			return
		}
	}
}

// recycle bumps the generation and clears all flags, preparing the entry to
// track a new sequence number.
func (s *spanningState) recycle() {
	for {
		cur := s.v.Load()
		gen := cur >> generationShift
		next := (gen + 1) << generationShift
		if s.v.CompareAndSwap(cur, next) {
			return
		}
	}
}

// sequenceKey identifies one (origin, sequence) pair.
type sequenceKey struct {
	origin types.OriginID
	seq    types.SequenceNumber
}

// SequenceRingBuffer tracks, per (origin, sequence), which leading/trailing
// buffer portions have been consumed and whether the spanning tuple that
// straddles two buffers has been claimed. It is the mechanism that lets
// stream-join handle a sequence's records being split across window
// slices: each worker processing a buffer either finds the boundary fully
// contained (markHasTupleDelimiter) or must claim the spanning tuple
// exactly once to avoid double-counting it across the two buffers it
// touches.
type SequenceRingBuffer struct {
	mu      sync.Mutex
	entries map[sequenceKey]*spanningState
}

// NewSequenceRingBuffer creates an empty tracker.
func NewSequenceRingBuffer() *SequenceRingBuffer {
	return &SequenceRingBuffer{entries: make(map[sequenceKey]*spanningState)}
}

func (r *SequenceRingBuffer) entryFor(origin types.OriginID, seq types.SequenceNumber) *spanningState {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := sequenceKey{origin, seq}
	e, ok := r.entries[key]
	if !ok {
		e = &spanningState{}
		r.entries[key] = e
	}
	return e
}

// MarkHasTupleDelimiter records that the buffer for (origin, seq) contains
// a full record boundary.
func (r *SequenceRingBuffer) MarkHasTupleDelimiter(origin types.OriginID, seq types.SequenceNumber) {
	r.entryFor(origin, seq).markHasTupleDelimiter()
}

// ClaimSpanningTuple attempts to claim the spanning tuple for (origin,
// seq); returns true exactly once across however many callers race for it.
func (r *SequenceRingBuffer) ClaimSpanningTuple(origin types.OriginID, seq types.SequenceNumber) bool {
	e := r.entryFor(origin, seq)
	return e.claimSpanningTuple(e.generation())
}

// MarkUsedLeading / MarkUsedTrailing record that the leading or trailing
// partial record of (origin, seq)'s buffer has been consumed by the
// adjacent buffer's processing.
func (r *SequenceRingBuffer) MarkUsedLeading(origin types.OriginID, seq types.SequenceNumber) {
	r.entryFor(origin, seq).markUsedLeading()
}

func (r *SequenceRingBuffer) MarkUsedTrailing(origin types.OriginID, seq types.SequenceNumber) {
	r.entryFor(origin, seq).markUsedTrailing()
}

// Release removes the tracking entry for (origin, seq) once both adjacent
// buffers have finished consuming it, allowing the map to stay bounded to
// in-flight sequences only.
func (r *SequenceRingBuffer) Release(origin types.OriginID, seq types.SequenceNumber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sequenceKey{origin, seq})
}
