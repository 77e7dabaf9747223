// Package testsink implements an in-memory sink.Sink for tests and local
// development, collecting every written record for later inspection.
package testsink

import (
	"context"
	"sync"

	"github.com/nebulastream/nes-core/sink"
)

// Sink collects written records in memory.
type Sink struct {
	mu      sync.Mutex
	records []sink.Record
	closed  bool
}

// New creates an empty test sink.
func New() *Sink { return &Sink{} }

// Write appends records to the in-memory collection.
func (s *Sink) Write(_ context.Context, records []sink.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

// Close marks the sink closed; subsequent state is still inspectable.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Records returns a copy of every record written so far.
func (s *Sink) Records() []sink.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sink.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Closed reports whether Close has been called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ sink.Sink = (*Sink)(nil)
