package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusRegistry_HandlerServesCounters(t *testing.T) {
	r := NewPrometheusRegistry()
	r.IncTasksProcessed()
	r.IncTasksProcessed()
	r.IncWindowsTriggered()
	r.SetBuffersInUse(7)
	r.IncEventsDropped("queue_full")

	ts := httptest.NewServer(r.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body strings.Builder
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		body.Write(buf[:n])
		if readErr != nil {
			break
		}
	}
	out := body.String()

	for _, want := range []string{
		"nes_tasks_processed_total 2",
		"nes_windows_triggered_total 1",
		"nes_buffers_in_use 7",
		`nes_events_dropped_total{reason="queue_full"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected metrics output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestPrometheusRegistry_UpdateFromSnapshotAddsDelta(t *testing.T) {
	r := NewPrometheusRegistry()

	prev := Snapshot{}
	next := Snapshot{
		RunsCompleted:    2,
		RunsFailed:       1,
		TasksProcessed:   5,
		WindowsTriggered: 3,
		ChunksCollected:  4,
		BuffersInUse:     9,
		DroppedByType:    map[string]int64{"queue_full": 2},
	}
	r.UpdateFromSnapshot(next, prev)

	ts := httptest.NewServer(r.Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 8192)
	n, _ := resp.Body.Read(buf)
	out := string(buf[:n])

	for _, want := range []string{
		"nes_runs_completed_total 2",
		"nes_runs_failed_total 1",
		"nes_tasks_processed_total 5",
		"nes_windows_triggered_total 3",
		"nes_chunk_collector_completions_total 4",
		"nes_buffers_in_use 9",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected metrics output to contain %q, got:\n%s", want, out)
		}
	}

	// Second update only adds the delta, not the absolute value again.
	r.UpdateFromSnapshot(next, next)
	ts2 := httptest.NewServer(r.Handler())
	defer ts2.Close()
	resp2, err := http.Get(ts2.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	n2, _ := resp2.Body.Read(buf)
	out2 := string(buf[:n2])
	if !strings.Contains(out2, "nes_runs_completed_total 2") {
		t.Errorf("expected nes_runs_completed_total to stay at 2 after no-delta update, got:\n%s", out2)
	}
}

func TestNewPrometheusRegistry_IndependentInstancesDontConflict(t *testing.T) {
	r1 := NewPrometheusRegistry()
	r2 := NewPrometheusRegistry()
	r1.IncTasksProcessed()
	r2.IncTasksProcessed()
	r2.IncTasksProcessed()

	if r1.Handler() == nil || r2.Handler() == nil {
		t.Fatal("expected non-nil handlers")
	}
}
