// Package aggregation implements the keyed aggregation operator handler:
// per-slice chained hash maps hold running aggregation state per key, and a
// trigger path combines the maps covering a completed window into a single
// final map before lowering to output records.
package aggregation

import "github.com/nebulastream/nes-core/types"

// Function is an aggregation function's combine/lower contract. State is an
// opaque accumulator (e.g. a running sum and count for Avg); Lift folds one
// input value into a fresh or existing state, Combine merges two partial
// states (used when more than one worker thread's map contributes to a
// final map), and Lower converts a finished state into the output value.
type Function interface {
	// Name identifies the function for logging and the emitted schema.
	Name() string
	// Zero returns a fresh identity state.
	Zero() State
	// Lift folds one input value into state, returning the updated state.
	Lift(state State, input types.Value) State
	// Combine merges two partial states from different per-thread maps.
	Combine(a, b State) State
	// Lower converts a finished state into the output value.
	Lower(state State) types.Value
}

// State is an aggregation function's accumulator. Concrete functions use
// the fields relevant to them; unused fields are left zero.
type State struct {
	Count    uint64
	Sum      float64
	Min      float64
	Max      float64
	First    types.Value
	Last     types.Value
	HasValue bool
	IsNull   bool
}

// Sum implements the running-total aggregation function.
type Sum struct{ OutputType types.PhysicalType }

func (Sum) Name() string { return "sum" }
func (Sum) Zero() State  { return State{} }
func (Sum) Lift(s State, v types.Value) State {
	if v.IsNull {
		return s
	}
	s.Sum += v.AsFloat64()
	s.HasValue = true
	return s
}
func (Sum) Combine(a, b State) State {
	return State{Sum: a.Sum + b.Sum, HasValue: a.HasValue || b.HasValue}
}
func (f Sum) Lower(s State) types.Value {
	return floatValue(f.OutputType, s.Sum, !s.HasValue)
}

// Count implements the tuple-count aggregation function.
type Count struct{}

func (Count) Name() string { return "count" }
func (Count) Zero() State  { return State{} }
func (Count) Lift(s State, v types.Value) State {
	if v.IsNull {
		return s
	}
	s.Count++
	return s
}
func (Count) Combine(a, b State) State { return State{Count: a.Count + b.Count} }
func (Count) Lower(s State) types.Value {
	return types.Value{Type: types.PhysicalUint64, Uint64: s.Count}
}

// Avg implements the mean aggregation function, carrying sum and count so
// partial states from different per-thread maps combine exactly (no
// averaging-of-averages error).
type Avg struct{ OutputType types.PhysicalType }

func (Avg) Name() string { return "avg" }
func (Avg) Zero() State  { return State{} }
func (Avg) Lift(s State, v types.Value) State {
	if v.IsNull {
		return s
	}
	s.Sum += v.AsFloat64()
	s.Count++
	return s
}
func (Avg) Combine(a, b State) State {
	return State{Sum: a.Sum + b.Sum, Count: a.Count + b.Count}
}
func (f Avg) Lower(s State) types.Value {
	if s.Count == 0 {
		return floatValue(f.OutputType, 0, true)
	}
	return floatValue(f.OutputType, s.Sum/float64(s.Count), false)
}

// Min implements the minimum-value aggregation function.
type Min struct{ OutputType types.PhysicalType }

func (Min) Name() string { return "min" }
func (Min) Zero() State  { return State{} }
func (Min) Lift(s State, v types.Value) State {
	if v.IsNull {
		return s
	}
	val := v.AsFloat64()
	if !s.HasValue || val < s.Min {
		s.Min = val
	}
	s.HasValue = true
	return s
}
func (Min) Combine(a, b State) State {
	if !a.HasValue {
		return b
	}
	if !b.HasValue {
		return a
	}
	if b.Min < a.Min {
		return b
	}
	return a
}
func (f Min) Lower(s State) types.Value { return floatValue(f.OutputType, s.Min, !s.HasValue) }

// Max implements the maximum-value aggregation function.
type Max struct{ OutputType types.PhysicalType }

func (Max) Name() string { return "max" }
func (Max) Zero() State  { return State{} }
func (Max) Lift(s State, v types.Value) State {
	if v.IsNull {
		return s
	}
	val := v.AsFloat64()
	if !s.HasValue || val > s.Max {
		s.Max = val
	}
	s.HasValue = true
	return s
}
func (Max) Combine(a, b State) State {
	if !a.HasValue {
		return b
	}
	if !b.HasValue {
		return a
	}
	if b.Max > a.Max {
		return b
	}
	return a
}
func (f Max) Lower(s State) types.Value { return floatValue(f.OutputType, s.Max, !s.HasValue) }

// First implements "first value seen" per key. Combine is not
// commutative in general since arrival order across maps is not tracked;
// callers that need deterministic first/last across merged maps must rely
// on slice-local ordering being preserved within one worker thread's map,
// matching the original engine's documented caveat for non-associative
// aggregations under merge.
type First struct{}

func (First) Name() string { return "first" }
func (First) Zero() State  { return State{} }
func (First) Lift(s State, v types.Value) State {
	if s.HasValue || v.IsNull {
		return s
	}
	s.First = v
	s.HasValue = true
	return s
}
func (First) Combine(a, b State) State {
	if a.HasValue {
		return a
	}
	return b
}
func (First) Lower(s State) types.Value {
	if !s.HasValue {
		return types.Value{IsNull: true}
	}
	return s.First
}

// Last implements "last value seen" per key.
type Last struct{}

func (Last) Name() string { return "last" }
func (Last) Zero() State  { return State{} }
func (Last) Lift(s State, v types.Value) State {
	if v.IsNull {
		return s
	}
	s.Last = v
	s.HasValue = true
	return s
}
func (Last) Combine(a, b State) State {
	if b.HasValue {
		return b
	}
	return a
}
func (Last) Lower(s State) types.Value {
	if !s.HasValue {
		return types.Value{IsNull: true}
	}
	return s.Last
}

func floatValue(t types.PhysicalType, f float64, isNull bool) types.Value {
	if isNull {
		return types.Value{Type: t, IsNull: true}
	}
	switch t {
	case types.PhysicalFloat32:
		return types.Value{Type: t, Float32: float32(f)}
	case types.PhysicalFloat64:
		return types.Value{Type: t, Float64: f}
	case types.PhysicalInt64:
		return types.Value{Type: t, Int64: int64(f)}
	case types.PhysicalUint64:
		return types.Value{Type: t, Uint64: uint64(f)}
	default:
		return types.Value{Type: t, Float64: f}
	}
}
