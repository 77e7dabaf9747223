// Package join implements the stream-join operator handler: each side
// builds its own per-worker-thread, per-slice hash map, and a partitioned
// probe pipeline matches left and right entries sharing a bucket id once
// their common window has triggered.
package join

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nebulastream/nes-core/aggregation"
	"github.com/nebulastream/nes-core/join/partition"
	"github.com/nebulastream/nes-core/types"
	"github.com/nebulastream/nes-core/window"
)

// Side identifies which input of a binary join a build/probe call concerns.
type Side uint8

const (
	Left Side = iota
	Right
)

// Handler owns the left- and right-side slice stores (one per worker
// thread, per spec §4.8: "holds numberOfWorkerThreads hash maps for the
// left and the same count for the right").
type Handler struct {
	def            types.WindowDefinition
	numWorkers     int
	selector       *partition.Selector
	outputOriginID types.OriginID

	mu          sync.Mutex
	leftStores  []*window.SliceStore
	rightStores []*window.SliceStore
	nextTrigger types.SequenceNumber

	// pendingLeft/pendingRight accumulate per-side build maps for windows
	// whose constituent slices have arrived but whose last slice hasn't
	// sealed yet (a sliding window's slices seal across several
	// AdvanceWatermark calls).
	pendingLeft  map[types.WindowInfo][]*buildMap
	pendingRight map[types.WindowInfo][]*buildMap
}

// NewHandler creates a handler with numWorkers per-side slice stores and a
// partition selector over numBuckets buckets.
func NewHandler(def types.WindowDefinition, numWorkers, numBuckets int, outputOriginID types.OriginID) (*Handler, error) {
	sel, err := partition.NewSelector(numBuckets)
	if err != nil {
		return nil, err
	}
	h := &Handler{
		def:            def,
		numWorkers:     numWorkers,
		selector:       sel,
		outputOriginID: outputOriginID,
		leftStores:     make([]*window.SliceStore, numWorkers),
		rightStores:    make([]*window.SliceStore, numWorkers),
		nextTrigger:    types.InitialSequenceNumber,
	}
	for i := 0; i < numWorkers; i++ {
		left, err := window.NewSliceStore(def, func() any { return newBuildMap(numBuckets) })
		if err != nil {
			return nil, fmt.Errorf("join: %w", err)
		}
		right, err := window.NewSliceStore(def, func() any { return newBuildMap(numBuckets) })
		if err != nil {
			return nil, fmt.Errorf("join: %w", err)
		}
		h.leftStores[i] = left
		h.rightStores[i] = right
	}
	return h, nil
}

// buildMap holds, per bucket id, the list of records inserted for that
// bucket in one slice on one worker thread's build side.
type buildMap struct {
	buckets [][]Record
}

func newBuildMap(numBuckets int) *buildMap {
	return &buildMap{buckets: make([][]Record, numBuckets)}
}

// Record is one build-side entry: its join key and an opaque payload
// (typically a reference into the source TupleBuffer; the buffer-level
// packaging of that reference is out of this package's scope).
type Record struct {
	Key     []byte
	Payload any
}

// Build inserts rec into the slice covering ts on side's store for
// workerID, bucketed by rec.Key so the probe pipeline can walk one bucket
// id across every contributing worker thread's map.
func (h *Handler) Build(side Side, workerID int, ts types.Timestamp, rec Record) error {
	store := h.storeFor(side, workerID)
	slice, err := store.FindSliceByTs(ts)
	if err != nil {
		return err
	}
	bm := slice.Payload.(*buildMap)
	bucket := h.selector.BucketFor(rec.Key)
	bm.buckets[bucket] = append(bm.buckets[bucket], rec)
	return nil
}

func (h *Handler) storeFor(side Side, workerID int) *window.SliceStore {
	if side == Left {
		return h.leftStores[workerID]
	}
	return h.rightStores[workerID]
}

// JoinedPair is one matched (left, right) record pair within a triggered
// window.
type JoinedPair struct {
	Left        Record
	Right       Record
	WindowStart types.Timestamp
	WindowEnd   types.Timestamp
}

// TriggeredWindow is a completed window's join result: every matched pair
// across all buckets, plus the sequence identity to stamp on the output
// buffer.
type TriggeredWindow struct {
	Start          types.Timestamp
	End            types.Timestamp
	Pairs          []JoinedPair
	SequenceNumber types.SequenceNumber
	OutputOriginID types.OriginID
}

// AdvanceWatermark removes every slice (on both sides, across all worker
// threads) sealed by watermark, unions each slice into every Size-wide
// window it is a constituent of (a window is the union of its constituent
// slices, per spec §4.6/§4.7; a tumbling window's slices always coincide
// 1:1 with windows), and probes each window whose last constituent slice
// has just sealed, bucket by bucket: for each bucket id b, every right-side
// entry is matched against every left-side entry with an equal key, per
// spec §4.8.
func (h *Handler) AdvanceWatermark(watermark types.Timestamp) []TriggeredWindow {
	h.mu.Lock()
	defer h.mu.Unlock()

	slide := h.def.EffectiveSlide()
	slicesPerWindow := h.def.Size / slide

	leftByStart := make(map[types.Timestamp][]*buildMap)
	rightByStart := make(map[types.Timestamp][]*buildMap)
	seen := make(map[types.Timestamp]bool)
	var starts []types.Timestamp

	collect := func(store *window.SliceStore, dst map[types.Timestamp][]*buildMap) {
		for _, slice := range store.RemoveSlicesUntilTs(watermark) {
			if !seen[slice.Start] {
				seen[slice.Start] = true
				starts = append(starts, slice.Start)
			}
			if bm, ok := slice.Payload.(*buildMap); ok {
				dst[slice.Start] = append(dst[slice.Start], bm)
			}
		}
		store.SetLastWatermark(watermark)
	}
	for _, store := range h.leftStores {
		collect(store, leftByStart)
	}
	for _, store := range h.rightStores {
		collect(store, rightByStart)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	if h.pendingLeft == nil {
		h.pendingLeft = make(map[types.WindowInfo][]*buildMap)
		h.pendingRight = make(map[types.WindowInfo][]*buildMap)
	}

	var results []TriggeredWindow
	for _, start := range starts {
		sliceIndex := int64(start) / int64(slide)
		lm, rm := leftByStart[start], rightByStart[start]

		// This slice is the last constituent of the window starting
		// slicesPerWindow-1 slices earlier; every other window it belongs
		// to (up to and including its own) still needs later slices.
		for windowIndex := sliceIndex - int64(slicesPerWindow) + 1; windowIndex <= sliceIndex; windowIndex++ {
			if windowIndex < 0 {
				continue
			}
			info := types.WindowInfo{
				Start: uint64(windowIndex) * uint64(slide),
				End:   uint64(windowIndex)*uint64(slide) + h.def.Size,
			}
			h.pendingLeft[info] = append(h.pendingLeft[info], lm...)
			h.pendingRight[info] = append(h.pendingRight[info], rm...)
		}

		sealedWindowIndex := sliceIndex - int64(slicesPerWindow) + 1
		if sealedWindowIndex < 0 {
			continue
		}
		info := types.WindowInfo{
			Start: uint64(sealedWindowIndex) * uint64(slide),
			End:   uint64(sealedWindowIndex)*uint64(slide) + h.def.Size,
		}
		pairs := h.probe(h.pendingLeft[info], h.pendingRight[info], types.Timestamp(info.Start), types.Timestamp(info.End))
		delete(h.pendingLeft, info)
		delete(h.pendingRight, info)
		results = append(results, TriggeredWindow{
			Start:          types.Timestamp(info.Start),
			End:            types.Timestamp(info.End),
			Pairs:          pairs,
			SequenceNumber: h.nextTrigger,
			OutputOriginID: h.outputOriginID,
		})
		h.nextTrigger++
	}
	return results
}

// probe matches every right-side record against every left-side record
// sharing a bucket id and an equal key, bucket by bucket.
func (h *Handler) probe(left, right []*buildMap, start, end types.Timestamp) []JoinedPair {
	var pairs []JoinedPair
	for bucket := 0; bucket < h.selector.NumBuckets(); bucket++ {
		var leftRecords, rightRecords []Record
		for _, bm := range left {
			leftRecords = append(leftRecords, bm.buckets[bucket]...)
		}
		for _, bm := range right {
			rightRecords = append(rightRecords, bm.buckets[bucket]...)
		}
		for _, r := range rightRecords {
			for _, l := range leftRecords {
				if aggregation.HashKey(l.Key) == aggregation.HashKey(r.Key) && bytesEqual(l.Key, r.Key) {
					pairs = append(pairs, JoinedPair{Left: l, Right: r, WindowStart: start, WindowEnd: end})
				}
			}
		}
	}
	return pairs
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
