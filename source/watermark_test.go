package source

import (
	"testing"

	"github.com/nebulastream/nes-core/memory"
	"github.com/nebulastream/nes-core/types"
)

func eventTimeSchema() *types.Schema {
	return &types.Schema{
		Layout: types.LayoutRow,
		Fields: []types.Field{{Name: "ts", Type: types.PhysicalUint64}},
	}
}

func TestEventTimeStrategy_TracksMaxMinusOutOfOrderness(t *testing.T) {
	pool, _ := memory.NewPool(4, 4096)
	buf, ok := pool.GetBufferNoWait()
	if !ok {
		t.Fatal("GetBufferNoWait failed")
	}
	schema := eventTimeSchema()
	layout := memory.NewLayoutProvider(schema)

	for i, ts := range []uint64{100, 300, 200} {
		rec := types.NewRecord(schema)
		rec.Set("ts", types.Value{Uint64: ts})
		if err := layout.WriteRecord(buf, i, rec); err != nil {
			t.Fatalf("WriteRecord: %v", err)
		}
	}
	buf.SetNumberOfTuples(3)

	strategy := EventTimeStrategy{Layout: layout, FieldName: "ts", MaxOutOfOrderness: 50}
	got := strategy.Watermark(buf, 0)
	if got != 250 {
		t.Fatalf("Watermark = %d, want 250 (max 300 - 50)", got)
	}
}

func TestEventTimeStrategy_NeverRegresses(t *testing.T) {
	pool, _ := memory.NewPool(4, 4096)
	buf, _ := pool.GetBufferNoWait()
	schema := eventTimeSchema()
	layout := memory.NewLayoutProvider(schema)

	rec := types.NewRecord(schema)
	rec.Set("ts", types.Value{Uint64: 10})
	layout.WriteRecord(buf, 0, rec)
	buf.SetNumberOfTuples(1)

	strategy := EventTimeStrategy{Layout: layout, FieldName: "ts", MaxOutOfOrderness: 0}
	got := strategy.Watermark(buf, 500)
	if got != 500 {
		t.Fatalf("Watermark = %d, want 500 (must not regress)", got)
	}
}

func TestIngestionTimeStrategy_NonDecreasing(t *testing.T) {
	pool, _ := memory.NewPool(4, 4096)
	buf, _ := pool.GetBufferNoWait()

	s := IngestionTimeStrategy{}
	first := s.Watermark(buf, 0)
	second := s.Watermark(buf, first)
	if second < first {
		t.Fatalf("watermark regressed: %d then %d", first, second)
	}
}

func TestPunctuationStrategy_AdvancesOnlyOnSentinel(t *testing.T) {
	pool, _ := memory.NewPool(4, 4096)
	buf, _ := pool.GetBufferNoWait()
	schema := eventTimeSchema()
	layout := memory.NewLayoutProvider(schema)

	rec := types.NewRecord(schema)
	rec.Set("ts", types.Value{Uint64: 777})
	layout.WriteRecord(buf, 0, rec)
	buf.SetNumberOfTuples(1)

	detect := func(rec types.Record) (types.Timestamp, bool) {
		v, ok := rec.Get("ts")
		if !ok || v.Uint64 != 777 {
			return 0, false
		}
		return types.Timestamp(v.Uint64), true
	}
	strategy := PunctuationStrategy{Layout: layout, Detect: detect}
	got := strategy.Watermark(buf, 100)
	if got != 777 {
		t.Fatalf("Watermark = %d, want 777", got)
	}
}
