package source

import (
	"time"

	"github.com/nebulastream/nes-core/memory"
	"github.com/nebulastream/nes-core/types"
)

// WatermarkStrategy computes the watermark to stamp on a freshly filled
// buffer, given the watermark this origin last emitted. Watermarks are
// monotonic per origin (spec §4.9): a strategy must never return a value
// below previous.
type WatermarkStrategy interface {
	Watermark(buf memory.TupleBuffer, previous types.Timestamp) types.Timestamp
}

// EventTimeStrategy derives the watermark from a per-record event-time
// field, allowing up to maxOutOfOrderness of lateness: the watermark trails
// the maximum observed event time by that margin.
type EventTimeStrategy struct {
	Layout           *memory.LayoutProvider
	FieldName        string
	MaxOutOfOrderness types.Timestamp
}

// Watermark scans buf's records for the maximum value of FieldName and
// returns (maxEventTime - MaxOutOfOrderness), clamped to never regress
// below previous.
func (s EventTimeStrategy) Watermark(buf memory.TupleBuffer, previous types.Timestamp) types.Timestamp {
	var maxTs types.Timestamp
	n := int(buf.NumberOfTuples())
	for i := 0; i < n; i++ {
		rec, err := s.Layout.ReadRecord(buf, i)
		if err != nil {
			continue
		}
		v, ok := rec.Get(s.FieldName)
		if !ok || v.IsNull {
			continue
		}
		ts := types.Timestamp(v.AsUint64())
		if ts > maxTs {
			maxTs = ts
		}
	}
	if maxTs < s.MaxOutOfOrderness {
		return previous
	}
	candidate := maxTs - s.MaxOutOfOrderness
	if candidate < previous {
		return previous
	}
	return candidate
}

// IngestionTimeStrategy stamps the wall-clock time the buffer was filled,
// for sources with no usable event-time field.
type IngestionTimeStrategy struct{}

// Watermark returns the current wall-clock time in milliseconds, clamped to
// be non-decreasing.
func (IngestionTimeStrategy) Watermark(_ memory.TupleBuffer, previous types.Timestamp) types.Timestamp {
	now := types.Timestamp(time.Now().UnixMilli())
	if now < previous {
		return previous
	}
	return now
}

// PunctuationStrategy advances the watermark only when a buffer contains a
// punctuation record (a sentinel marking "no event before this timestamp
// will arrive"), identified by Detect. Buffers without a punctuation leave
// the watermark unchanged.
type PunctuationStrategy struct {
	Layout *memory.LayoutProvider
	Detect func(rec types.Record) (types.Timestamp, bool)
}

// Watermark returns the punctuation timestamp found in buf, or previous if
// none is present or found values would regress the watermark.
func (s PunctuationStrategy) Watermark(buf memory.TupleBuffer, previous types.Timestamp) types.Timestamp {
	n := int(buf.NumberOfTuples())
	watermark := previous
	for i := 0; i < n; i++ {
		rec, err := s.Layout.ReadRecord(buf, i)
		if err != nil {
			continue
		}
		if ts, ok := s.Detect(rec); ok && ts > watermark {
			watermark = ts
		}
	}
	return watermark
}
