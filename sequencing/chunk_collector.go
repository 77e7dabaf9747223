// Package sequencing provides the primitives that recover total order from
// a stream split across chunks and across origins: ChunkCollector detects
// when every chunk of one sequence number has arrived, and
// MultiOriginWatermarkProcessor tracks the minimum watermark across all live
// origins.
package sequencing

import (
	"sync"

	"github.com/nebulastream/nes-core/internal/invariant"
	"github.com/nebulastream/nes-core/types"
)

// nodeSize is the fixed width of one arena node in the chunk table. Larger
// nodes amortize the list-traversal lock at the cost of more memory held by
// a single in-flight sequence range.
const nodeSize = 1024

// chunkEntry is the per-sequence-number atomic record: counter and
// max-watermark-seen update lock-free; only locating the entry's owning
// node requires a lock.
type chunkEntry struct {
	counter        chunkCounter
	watermark      maxWatermark
	seenLastChunk  seenFlag
}

// node is one fixed-size array of chunkEntry plus a count of how many
// entries in it remain incomplete. Once missing reaches zero the node is
// unlinked from the list; addresses of entries already handed to in-flight
// callers stay valid because a node is unlinked only after every entry in
// it has completed (no further callers can reference it).
type node struct {
	start   uint64
	missing atomicInt // initialized to nodeSize
	data    [nodeSize]chunkEntry
}

// ChunkCollector tracks, per sequence number, how many chunks have arrived
// and the maximum watermark seen among them; it reports a sequence number
// complete exactly once, when the last chunk has been seen and every
// earlier chunk of that sequence has also arrived.
type ChunkCollector struct {
	mu    sync.RWMutex
	nodes []*node
}

// NewChunkCollector creates an empty collector.
func NewChunkCollector() *ChunkCollector {
	return &ChunkCollector{}
}

// CollectResult is returned by Collect when a sequence number completes.
type CollectResult struct {
	SequenceNumber types.SequenceNumber
	Watermark      types.Timestamp
}

// Collect records one chunk update and reports (result, true) if this
// update was the one that completed its sequence number's chunk set.
//
// Non-last chunk: counter -= 1, watermark = max(current, new).
// Last chunk: counter += chunkNumber-1 (the count of non-last chunks), so
// that once every chunk 1..chunkNumber has been seen the counter returns to
// zero. The last chunk for a given
// sequence number must be observed at most once; violating this is an
// invariant failure, not a runtime error, since it indicates a source bug.
func (c *ChunkCollector) Collect(data types.SequenceData, watermark types.Timestamp) (CollectResult, bool) {
	invariant.Check(data.SequenceNumber != types.InvalidSequenceNumber, "ChunkCollector.Collect: invalid sequence number")
	invariant.Check(data.ChunkNumber != types.InvalidChunkNumber, "ChunkCollector.Collect: invalid chunk number")

	seq := uint64(data.SequenceNumber) - uint64(types.InitialSequenceNumber)
	n := c.findOrCreateNode(seq)
	entry := &n.data[seq%nodeSize]

	final, completed := entry.update(data, uint64(watermark))
	if !completed {
		return CollectResult{}, false
	}

	if n.missing.decrementAndCheckZero() {
		c.unlinkNode(n.start)
	}
	return CollectResult{SequenceNumber: data.SequenceNumber, Watermark: types.Timestamp(final)}, true
}

func (c *ChunkCollector) findOrCreateNode(seq uint64) *node {
	start := (seq / nodeSize) * nodeSize

	c.mu.RLock()
	for _, n := range c.nodes {
		if n.start == start {
			c.mu.RUnlock()
			return n
		}
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		if n.start == start {
			return n
		}
	}
	n := &node{start: start}
	n.missing.store(nodeSize)
	c.nodes = append(c.nodes, n)
	return n
}

func (c *ChunkCollector) unlinkNode(start uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.nodes {
		if n.start == start {
			c.nodes = append(c.nodes[:i], c.nodes[i+1:]...)
			return
		}
	}
}

// InFlightNodes returns the number of arena nodes currently linked, for
// metrics and tests; a healthy collector keeps this small since nodes are
// reclaimed as soon as they fully drain.
func (c *ChunkCollector) InFlightNodes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}
