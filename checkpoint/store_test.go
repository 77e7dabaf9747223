package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	s := sampleState()
	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(s.QueryID, s.PipelineID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LastWatermark != s.LastWatermark || len(got.Operators) != len(s.Operators) {
		t.Fatalf("loaded state mismatch: %+v vs %+v", got, s)
	}
}

func TestLocalStore_SaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	s := sampleState()
	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("leftover temp file after Save: %s", e.Name())
		}
	}
}

func TestLocalStore_OverwriteReplacesSnapshot(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	s := sampleState()
	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.LastWatermark = 99999
	if err := store.Save(s); err != nil {
		t.Fatalf("Save (overwrite): %v", err)
	}
	got, err := store.Load(s.QueryID, s.PipelineID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LastWatermark != 99999 {
		t.Fatalf("LastWatermark = %d, want 99999", got.LastWatermark)
	}
}

func TestLocalStore_LoadMissingReturnsError(t *testing.T) {
	store, _ := NewLocalStore(t.TempDir())
	if _, err := store.Load(1, 2); err == nil {
		t.Fatal("expected error loading a snapshot that was never saved")
	}
}
