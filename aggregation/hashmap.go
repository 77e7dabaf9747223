package aggregation

import (
	"bytes"

	"github.com/cespare/xxhash/v2"

	"github.com/nebulastream/nes-core/types"
)

// entry is one chained hash map bucket slot: a key, its aggregation state,
// and a pointer to the next entry sharing the bucket.
type entry struct {
	key   uint64
	raw   []byte // original key bytes, for collision resolution and output
	state State
	next  *entry
}

// HashMap is a single chained hash map used as one worker thread's
// per-slice aggregation state. It is not safe for concurrent use; each
// worker thread owns its own instance per slice, which is the mechanism
// that lets the lift path run lock-free.
type HashMap struct {
	buckets []*entry
	mask    uint64
	size    int
}

// NewHashMap creates a chained hash map with numBuckets slots, rounded up
// to the next power of two.
func NewHashMap(numBuckets int) *HashMap {
	n := 1
	for n < numBuckets {
		n <<= 1
	}
	if n == 0 {
		n = 1
	}
	return &HashMap{buckets: make([]*entry, n), mask: uint64(n - 1)}
}

// HashKey computes the bucket hash for key bytes. Exposed so callers (join
// partitioning, probe pipelines) can compute bucket ids consistently with
// how the map itself buckets keys.
func HashKey(key []byte) uint64 { return xxhash.Sum64(key) }

// Lift inserts or updates the state for key using fn's Lift function: an
// existing entry's state is folded with input, or a fresh zero state is
// created first.
func (h *HashMap) Lift(fn Function, key []byte, input types.Value) {
	hash := HashKey(key)
	idx := h.bucketIndex(hash)
	for e := h.buckets[idx]; e != nil; e = e.next {
		if e.key == hash && bytes.Equal(e.raw, key) {
			e.state = fn.Lift(e.state, input)
			return
		}
	}
	e := &entry{key: hash, raw: append([]byte(nil), key...), state: fn.Lift(fn.Zero(), input), next: h.buckets[idx]}
	h.buckets[idx] = e
	h.size++
}

// put inserts or overwrites the state for key directly, without folding
// through an aggregation function. Used when merging already-aggregated
// partial states from other maps (see Handler.combine).
func (h *HashMap) put(key []byte, state State) {
	hash := HashKey(key)
	idx := h.bucketIndex(hash)
	for e := h.buckets[idx]; e != nil; e = e.next {
		if e.key == hash && bytes.Equal(e.raw, key) {
			e.state = state
			return
		}
	}
	e := &entry{key: hash, raw: append([]byte(nil), key...), state: state, next: h.buckets[idx]}
	h.buckets[idx] = e
	h.size++
}

// Get returns the state stored for key, if present.
func (h *HashMap) Get(key []byte) (State, bool) {
	hash := HashKey(key)
	idx := h.bucketIndex(hash)
	for e := h.buckets[idx]; e != nil; e = e.next {
		if e.key == hash && bytes.Equal(e.raw, key) {
			return e.state, true
		}
	}
	return State{}, false
}

// Each calls fn for every (key, state) pair in the map, in no particular
// order.
func (h *HashMap) Each(fn func(key []byte, state State)) {
	for _, head := range h.buckets {
		for e := head; e != nil; e = e.next {
			fn(e.raw, e.state)
		}
	}
}

// bucketIndex returns the bucket slot for a precomputed hash.
func (h *HashMap) bucketIndex(hash uint64) uint64 { return hash & h.mask }

// Size returns the number of distinct keys held.
func (h *HashMap) Size() int { return h.size }

// Buckets exposes the raw bucket array for the probe pipeline to walk
// (e.g. partitioned join probe iterating bucket id b across multiple
// per-thread maps).
func (h *HashMap) Buckets() []*entry { return h.buckets }

// NumBuckets returns the bucket array width.
func (h *HashMap) NumBuckets() int { return len(h.buckets) }
