package external

import (
	"context"
	"testing"

	"github.com/nebulastream/nes-core/ipc"
	"github.com/nebulastream/nes-core/memory"
	"github.com/nebulastream/nes-core/types"
)

func testSchema() *types.Schema {
	return &types.Schema{
		Fields: []types.Field{
			{Name: "key", Type: types.PhysicalUint64},
			{Name: "value", Type: types.PhysicalFloat64},
			{Name: "flag", Type: types.PhysicalBool},
		},
		Layout: types.LayoutRow,
	}
}

func TestFlattenBuffer_RoundTripsThroughStageRecord(t *testing.T) {
	schema := testSchema()
	layout := memory.NewLayoutProvider(schema)

	pool, err := memory.NewPool(2, 4096)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	buf, ok := pool.GetBufferNoWait()
	if !ok {
		t.Fatal("expected buffer")
	}

	rec := types.NewRecord(schema)
	_ = rec.Set("key", types.Value{Type: types.PhysicalUint64, Uint64: 42})
	_ = rec.Set("value", types.Value{Type: types.PhysicalFloat64, Float64: 3.5})
	_ = rec.Set("flag", types.Value{Type: types.PhysicalBool, Bool: true})
	if err := layout.WriteRecord(buf, 0, rec); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	buf.SetNumberOfTuples(1)

	records, err := flattenBuffer(layout, buf)
	if err != nil {
		t.Fatalf("flattenBuffer: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0]["key"] != uint64(42) {
		t.Errorf("key = %v, want 42", records[0]["key"])
	}
	if records[0]["value"] != 3.5 {
		t.Errorf("value = %v, want 3.5", records[0]["value"])
	}
	if records[0]["flag"] != true {
		t.Errorf("flag = %v, want true", records[0]["flag"])
	}
}

func TestUnflattenRecords_WritesBackIntoBuffer(t *testing.T) {
	schema := testSchema()
	layout := memory.NewLayoutProvider(schema)

	pool, err := memory.NewPool(2, 4096)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	stageRecords := []ipc.StageRecord{
		{"key": uint64(7), "value": 1.25, "flag": false},
	}

	buf, err := unflattenRecords(context.Background(), pool, schema, layout, stageRecords)
	if err != nil {
		t.Fatalf("unflattenRecords: %v", err)
	}
	if buf.NumberOfTuples() != 1 {
		t.Fatalf("NumberOfTuples = %d, want 1", buf.NumberOfTuples())
	}

	rec, err := layout.ReadRecord(buf, 0)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	v, _ := rec.Get("key")
	if v.AsUint64() != 7 {
		t.Errorf("key = %d, want 7", v.AsUint64())
	}
	fv, _ := rec.Get("value")
	if fv.AsFloat64() != 1.25 {
		t.Errorf("value = %v, want 1.25", fv.AsFloat64())
	}
}

func TestValueOf_NullFieldRoundTrips(t *testing.T) {
	f := types.Field{Name: "value", Type: types.PhysicalFloat64}
	v := valueOf(f, nil)
	if !v.IsNull {
		t.Error("expected IsNull true for nil raw value")
	}
}
