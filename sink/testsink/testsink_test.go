package testsink

import (
	"context"
	"testing"

	"github.com/nebulastream/nes-core/sink"
)

func TestWrite_AccumulatesRecords(t *testing.T) {
	s := New()
	if err := s.Write(context.Background(), []sink.Record{{Fields: map[string]any{"a": 1}}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(context.Background(), []sink.Record{{Fields: map[string]any{"b": 2}}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	records := s.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Fields["a"] != 1 {
		t.Errorf("expected records[0].Fields[a] = 1, got %v", records[0].Fields["a"])
	}
}

func TestRecords_ReturnsCopyNotAliasedToInternalSlice(t *testing.T) {
	s := New()
	_ = s.Write(context.Background(), []sink.Record{{Fields: map[string]any{"a": 1}}})

	records := s.Records()
	records[0] = sink.Record{Fields: map[string]any{"mutated": true}}

	again := s.Records()
	if again[0].Fields["a"] != 1 {
		t.Errorf("internal state mutated via returned slice: %+v", again[0])
	}
}

func TestClose_MarksClosed(t *testing.T) {
	s := New()
	if s.Closed() {
		t.Fatal("expected not closed initially")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !s.Closed() {
		t.Fatal("expected closed after Close")
	}
}

func TestWrite_EmptyBatchIsNoop(t *testing.T) {
	s := New()
	if err := s.Write(context.Background(), nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(s.Records()) != 0 {
		t.Fatalf("expected no records, got %d", len(s.Records()))
	}
}
