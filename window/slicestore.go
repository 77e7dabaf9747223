// Package window implements the slice store that backs keyed aggregation
// and stream-join windowing: slices are contiguous, non-overlapping
// intervals of event time, generalized so that tumbling windows are
// sliding windows with slide == size.
package window

import (
	"fmt"

	"github.com/nebulastream/nes-core/types"
)

// Slice is one interval [Start, End) of event time together with an opaque
// payload the caller attaches (an aggregation hash map, a join build-side
// hash map, ...). Slices never overlap and cover [Start, End-1] inclusive
// of event time, per the original slice-store semantics.
type Slice struct {
	Start   types.Timestamp
	End     types.Timestamp
	Payload any
}

// CoversTs reports whether ts falls within [Start, End).
func (s *Slice) CoversTs(ts types.Timestamp) bool { return s.Start <= ts && ts < s.End }

// SliceStore holds the live slices for one window definition, indexed by
// event time and kept sorted by Start. It is not safe for concurrent use by
// multiple goroutines without external synchronization, matching the
// original's thread-local placement: each worker thread owns one store per
// key partition.
type SliceStore struct {
	windowSize  uint64
	windowSlide uint64

	slices          []*Slice // sorted ascending by Start
	lastWatermarkTs types.Timestamp

	newPayload func() any
}

// NewSliceStore creates a store for a window definition. newPayload
// allocates a fresh payload for a newly created slice (e.g. an empty
// aggregation hash map); it may be nil if slices carry no payload.
func NewSliceStore(def types.WindowDefinition, newPayload func() any) (*SliceStore, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &SliceStore{
		windowSize:  def.Size,
		windowSlide: def.EffectiveSlide(),
		newPayload:  newPayload,
	}, nil
}

// sliceStartTs computes the start of the slice covering ts: the later of
// the previous slide boundary and the previous window boundary.
func (s *SliceStore) sliceStartTs(ts uint64) uint64 {
	prevSlideStart := ts - (ts % s.windowSlide)
	var prevWindowStart uint64
	if ts < s.windowSize {
		prevWindowStart = prevSlideStart
	} else {
		prevWindowStart = ts - ((ts - s.windowSize) % s.windowSlide)
	}
	if prevSlideStart > prevWindowStart {
		return prevSlideStart
	}
	return prevWindowStart
}

// sliceEndTs computes the end of the slice covering ts: the earlier of the
// next slide boundary and the next window boundary.
func (s *SliceStore) sliceEndTs(ts uint64) uint64 {
	nextSlideEnd := ts + s.windowSlide - (ts % s.windowSlide)
	var nextWindowEnd uint64
	if ts < s.windowSize {
		nextWindowEnd = nextSlideEnd
	} else {
		nextWindowEnd = ts + s.windowSlide - ((ts - s.windowSize) % s.windowSlide)
	}
	if nextSlideEnd < nextWindowEnd {
		return nextSlideEnd
	}
	return nextWindowEnd
}

// FindSliceByTs retrieves the slice covering ts, creating and inserting one
// at the correct position if none exists. ts must not be smaller than the
// last watermark advanced past this store (slices behind the watermark have
// already been triggered and removed).
func (s *SliceStore) FindSliceByTs(ts types.Timestamp) (*Slice, error) {
	if ts < s.lastWatermarkTs {
		return nil, fmt.Errorf("window: ts %d is behind the last watermark %d", ts, s.lastWatermarkTs)
	}

	// Reverse scan: ts is expected to fall in a recent slice most of the
	// time, so scanning from the end finds it in O(1) in the common case.
	for i := len(s.slices) - 1; i >= 0; i-- {
		slice := s.slices[i]
		if slice.CoversTs(ts) {
			return slice, nil
		}
		if slice.End <= ts {
			// Every remaining (earlier) slice ends even sooner; ts needs a
			// new slice inserted right after this one.
			return s.insertSliceAt(i+1, ts), nil
		}
	}
	// No slice starts at or before ts: prepend.
	return s.insertSliceAt(0, ts), nil
}

func (s *SliceStore) insertSliceAt(idx int, ts types.Timestamp) *Slice {
	start := s.sliceStartTs(uint64(ts))
	end := s.sliceEndTs(uint64(ts))
	var payload any
	if s.newPayload != nil {
		payload = s.newPayload()
	}
	slice := &Slice{Start: types.Timestamp(start), End: types.Timestamp(end), Payload: payload}

	s.slices = append(s.slices, nil)
	copy(s.slices[idx+1:], s.slices[idx:])
	s.slices[idx] = slice
	return slice
}

// RemoveSlicesUntilTs drops every slice whose End is at or before ts,
// returning the removed slices in ascending Start order so callers can
// trigger (emit) them before discarding.
func (s *SliceStore) RemoveSlicesUntilTs(ts types.Timestamp) []*Slice {
	i := 0
	for i < len(s.slices) && s.slices[i].End <= ts {
		i++
	}
	removed := s.slices[:i]
	s.slices = s.slices[i:]
	return removed
}

// LastWatermark returns the most recent watermark the store has advanced
// past.
func (s *SliceStore) LastWatermark() types.Timestamp { return s.lastWatermarkTs }

// SetLastWatermark records that the store has processed up to watermarkTs.
func (s *SliceStore) SetLastWatermark(watermarkTs types.Timestamp) { s.lastWatermarkTs = watermarkTs }

// Slices returns the currently live slices in ascending Start order. The
// returned slice header aliases internal storage and must not be mutated
// by the caller.
func (s *SliceStore) Slices() []*Slice { return s.slices }

// Len reports the number of live slices.
func (s *SliceStore) Len() int { return len(s.slices) }
