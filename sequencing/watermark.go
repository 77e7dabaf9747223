package sequencing

import (
	"sync"

	"github.com/nebulastream/nes-core/types"
)

// MultiOriginWatermarkProcessor tracks one watermark per origin; the
// effective global watermark is the minimum across non-retired origins. An
// origin is retired once its end-of-stream has been observed, and retired
// origins are excluded from the minimum so a finished source cannot pin the
// global watermark forever.
type MultiOriginWatermarkProcessor struct {
	mu      sync.RWMutex
	origins map[types.OriginID]*originState
}

type originState struct {
	watermark uint64
	retired   bool
}

// NewMultiOriginWatermarkProcessor creates a processor with no registered
// origins; origins are added lazily on first UpdateWatermark call.
func NewMultiOriginWatermarkProcessor() *MultiOriginWatermarkProcessor {
	return &MultiOriginWatermarkProcessor{origins: make(map[types.OriginID]*originState)}
}

// UpdateWatermark records a new watermark observation for origin. Updates
// only move a watermark forward; an out-of-order (lower) watermark is
// ignored, matching per-origin monotonicity.
func (p *MultiOriginWatermarkProcessor) UpdateWatermark(origin types.OriginID, watermark types.Timestamp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.origins[origin]
	if !ok {
		st = &originState{}
		p.origins[origin] = st
	}
	if uint64(watermark) > st.watermark {
		st.watermark = uint64(watermark)
	}
}

// Retire marks origin's end-of-stream as observed, removing it from the
// global minimum computation.
func (p *MultiOriginWatermarkProcessor) Retire(origin types.OriginID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.origins[origin]
	if !ok {
		st = &originState{}
		p.origins[origin] = st
	}
	st.retired = true
}

// CurrentWatermark returns the minimum watermark across all non-retired
// origins. With no live origins it returns types.MinTimestamp.
func (p *MultiOriginWatermarkProcessor) CurrentWatermark() types.Timestamp {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentWatermarkLocked()
}

func (p *MultiOriginWatermarkProcessor) currentWatermarkLocked() types.Timestamp {
	var (
		min   uint64
		found bool
	)
	for _, st := range p.origins {
		if st.retired {
			continue
		}
		if !found || st.watermark < min {
			min = st.watermark
			found = true
		}
	}
	if !found {
		return types.MinTimestamp
	}
	return types.Timestamp(min)
}

// HasAdvancedPast atomically reports whether the global watermark is
// strictly greater than threshold, giving callers (e.g. window triggers) a
// single consistent read instead of racing against concurrent updates.
func (p *MultiOriginWatermarkProcessor) HasAdvancedPast(threshold types.Timestamp) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentWatermarkLocked() > threshold
}

// LiveOriginCount returns the number of origins that have not yet retired,
// for metrics and tests.
func (p *MultiOriginWatermarkProcessor) LiveOriginCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, st := range p.origins {
		if !st.retired {
			n++
		}
	}
	return n
}
