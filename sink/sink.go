// Package sink defines the output boundary: where a query's finalized
// records (triggered aggregation windows, joined pairs, or raw emitted
// buffers) are delivered once the Sequencing subsystem has restored order.
package sink

import "context"

// Record is one finalized output row, field-named for JSON/stream
// encoding. Concrete producers (aggregation.TriggeredWindow,
// join.TriggeredWindow) are flattened into this shape at the pipeline's
// sink stage rather than sinks depending on those packages directly.
type Record struct {
	Fields map[string]any
}

// Sink delivers finalized records to a downstream system. Implementations
// must be safe for concurrent Write calls from different worker threads.
type Sink interface {
	// Write delivers a batch of records. Must respect context cancellation.
	Write(ctx context.Context, records []Record) error
	// Close releases sink resources.
	Close() error
}
