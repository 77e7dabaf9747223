package sequencing

import (
	"sync"
	"testing"

	"github.com/nebulastream/nes-core/types"
)

func TestChunkCollector_SingleChunkSequence(t *testing.T) {
	c := NewChunkCollector()
	data := types.SequenceData{Origin: 1, SequenceNumber: 1, ChunkNumber: 1, LastChunk: true}
	res, ok := c.Collect(data, 100)
	if !ok {
		t.Fatal("expected a single-chunk sequence to complete immediately")
	}
	if res.SequenceNumber != 1 || res.Watermark != 100 {
		t.Errorf("got %+v, want seq=1 watermark=100", res)
	}
}

func TestChunkCollector_MultiChunkSequence_CompletesOnLastArrival(t *testing.T) {
	c := NewChunkCollector()
	seqNum := types.SequenceNumber(5)

	if _, ok := c.Collect(types.SequenceData{SequenceNumber: seqNum, ChunkNumber: 1, LastChunk: false}, 10); ok {
		t.Fatal("first of three chunks should not complete the sequence")
	}
	if _, ok := c.Collect(types.SequenceData{SequenceNumber: seqNum, ChunkNumber: 2, LastChunk: false}, 20); ok {
		t.Fatal("second of three chunks should not complete the sequence")
	}
	res, ok := c.Collect(types.SequenceData{SequenceNumber: seqNum, ChunkNumber: 3, LastChunk: true}, 15)
	if !ok {
		t.Fatal("third (last) chunk should complete the sequence")
	}
	if res.Watermark != 20 {
		t.Errorf("watermark = %d, want max(10,20,15) = 20", res.Watermark)
	}
}

func TestChunkCollector_OutOfOrderChunkArrival(t *testing.T) {
	c := NewChunkCollector()
	seqNum := types.SequenceNumber(9)

	// Last chunk arrives first, then the two preceding chunks.
	if _, ok := c.Collect(types.SequenceData{SequenceNumber: seqNum, ChunkNumber: 3, LastChunk: true}, 30); ok {
		t.Fatal("should not complete until preceding chunks arrive")
	}
	if _, ok := c.Collect(types.SequenceData{SequenceNumber: seqNum, ChunkNumber: 1, LastChunk: false}, 10); ok {
		t.Fatal("still missing one chunk")
	}
	res, ok := c.Collect(types.SequenceData{SequenceNumber: seqNum, ChunkNumber: 2, LastChunk: false}, 20)
	if !ok {
		t.Fatal("final chunk arrival should complete the sequence")
	}
	if res.Watermark != 30 {
		t.Errorf("watermark = %d, want 30", res.Watermark)
	}
}

func TestChunkCollector_ReclaimsNodeOnceDrained(t *testing.T) {
	c := NewChunkCollector()
	for i := uint64(0); i < nodeSize; i++ {
		seq := types.SequenceNumber(types.InitialSequenceNumber) + types.SequenceNumber(i)
		if _, ok := c.Collect(types.SequenceData{SequenceNumber: seq, ChunkNumber: 1, LastChunk: true}, types.Timestamp(i)); !ok {
			t.Fatalf("sequence %d should complete immediately", seq)
		}
	}
	if got := c.InFlightNodes(); got != 0 {
		t.Fatalf("InFlightNodes() = %d, want 0 after draining a full node", got)
	}
}

func TestChunkCollector_ConcurrentChunksAcrossSequences(t *testing.T) {
	c := NewChunkCollector()
	const sequences = 50
	var wg sync.WaitGroup
	results := make(chan types.SequenceNumber, sequences)

	for s := 0; s < sequences; s++ {
		seqNum := types.SequenceNumber(types.InitialSequenceNumber) + types.SequenceNumber(s)
		for chunk := 1; chunk <= 3; chunk++ {
			wg.Add(1)
			go func(seqNum types.SequenceNumber, chunk int) {
				defer wg.Done()
				last := chunk == 3
				if res, ok := c.Collect(types.SequenceData{SequenceNumber: seqNum, ChunkNumber: types.ChunkNumber(chunk), LastChunk: last}, types.Timestamp(chunk*10)); ok {
					results <- res.SequenceNumber
				}
			}(seqNum, chunk)
		}
	}
	wg.Wait()
	close(results)

	seen := map[types.SequenceNumber]bool{}
	for r := range results {
		if seen[r] {
			t.Fatalf("sequence %d completed more than once", r)
		}
		seen[r] = true
	}
	if len(seen) != sequences {
		t.Fatalf("completed %d sequences, want %d", len(seen), sequences)
	}
}
