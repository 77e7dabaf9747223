package aggregation

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nebulastream/nes-core/types"
	"github.com/nebulastream/nes-core/window"
)

// Handler is the keyed aggregation operator handler: it owns one
// window.SliceStore per worker thread and, on watermark advance, finds
// every window whose slices are now fully sealed and triggers it by
// merging the contributing per-thread maps into a single final map.
type Handler struct {
	fn             Function
	def            types.WindowDefinition
	numWorkers     int
	outputOriginID types.OriginID

	mu          sync.Mutex
	stores      []*window.SliceStore
	nextTrigger types.SequenceNumber

	// pending accumulates per-thread maps for windows whose constituent
	// slices have arrived but whose last slice hasn't sealed yet. A sliding
	// window's slices seal across several AdvanceWatermark calls, so this
	// has to survive between calls rather than living on the stack.
	pending map[types.WindowInfo][]*HashMap
}

// NewHandler creates a handler with one slice store per worker thread.
func NewHandler(fn Function, def types.WindowDefinition, numWorkers int, outputOriginID types.OriginID, numBuckets int) (*Handler, error) {
	h := &Handler{
		fn:             fn,
		def:            def,
		numWorkers:     numWorkers,
		outputOriginID: outputOriginID,
		stores:         make([]*window.SliceStore, numWorkers),
		nextTrigger:    types.InitialSequenceNumber,
	}
	for i := range h.stores {
		store, err := window.NewSliceStore(def, func() any { return NewHashMap(numBuckets) })
		if err != nil {
			return nil, fmt.Errorf("aggregation: %w", err)
		}
		h.stores[i] = store
	}
	return h, nil
}

// Lift folds one input value for key into the slice covering ts, in the
// map owned by workerID. Runs lock-free with respect to other worker
// threads since each owns a disjoint slice store.
func (h *Handler) Lift(workerID int, ts types.Timestamp, key []byte, input types.Value) error {
	store := h.stores[workerID]
	slice, err := store.FindSliceByTs(ts)
	if err != nil {
		return err
	}
	slice.Payload.(*HashMap).Lift(h.fn, key, input)
	return nil
}

// TriggeredWindow is the result of combining every per-thread map covering
// one completed window into a single final map.
type TriggeredWindow struct {
	Start          types.Timestamp
	End            types.Timestamp
	Final          *HashMap
	SequenceNumber types.SequenceNumber
	OutputOriginID types.OriginID
}

// AdvanceWatermark removes every slice across all worker-thread stores
// whose End is at or before watermark, unions each slice into every
// Size-wide window it is a constituent of (a window is the union of its
// constituent slices; for a tumbling window each slice is its own window),
// and returns one TriggeredWindow per window whose last constituent slice
// has just sealed, with a dense, monotonically increasing sequence number.
func (h *Handler) AdvanceWatermark(watermark types.Timestamp) []TriggeredWindow {
	h.mu.Lock()
	defer h.mu.Unlock()

	slide := h.def.EffectiveSlide()
	slicesPerWindow := h.def.Size / slide

	removedByStart := make(map[types.Timestamp][]*HashMap)
	seen := make(map[types.Timestamp]bool)
	var starts []types.Timestamp
	for _, store := range h.stores {
		removed := store.RemoveSlicesUntilTs(watermark)
		store.SetLastWatermark(watermark)
		for _, slice := range removed {
			if !seen[slice.Start] {
				seen[slice.Start] = true
				starts = append(starts, slice.Start)
			}
			if hm, ok := slice.Payload.(*HashMap); ok && hm.Size() > 0 {
				removedByStart[slice.Start] = append(removedByStart[slice.Start], hm)
			}
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	if h.pending == nil {
		h.pending = make(map[types.WindowInfo][]*HashMap)
	}

	var triggered []TriggeredWindow
	for _, start := range starts {
		sliceIndex := int64(start) / int64(slide)
		maps := removedByStart[start]

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
			h.pending[info] = append(h.pending[info], maps...)
		}

		sealedWindowIndex := sliceIndex - int64(slicesPerWindow) + 1
		if sealedWindowIndex < 0 {
			continue
		}
		info := types.WindowInfo{
			Start: uint64(sealedWindowIndex) * uint64(slide),
			End:   uint64(sealedWindowIndex)*uint64(slide) + h.def.Size,
		}
		final := h.combine(h.pending[info])
		delete(h.pending, info)
		triggered = append(triggered, TriggeredWindow{
			Start:          types.Timestamp(info.Start),
			End:            types.Timestamp(info.End),
			Final:          final,
			SequenceNumber: h.nextTrigger,
			OutputOriginID: h.outputOriginID,
		})
		h.nextTrigger++
	}
	return triggered
}

// combine merges every map in maps into a single final map, invariant (a):
// no two windows ever share a final map, since a fresh HashMap is allocated
// here per call.
func (h *Handler) combine(maps []*HashMap) *HashMap {
	if len(maps) == 0 {
		return NewHashMap(1)
	}
	final := NewHashMap(maps[0].NumBuckets())
	for _, m := range maps {
		m.Each(func(key []byte, state State) {
			if existing, ok := final.Get(key); ok {
				final.put(key, h.fn.Combine(existing, state))
			} else {
				final.put(key, state)
			}
		})
	}
	return final
}
