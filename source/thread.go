package source

import (
	"context"
	"fmt"

	"github.com/nebulastream/nes-core/log"
	"github.com/nebulastream/nes-core/memory"
	"github.com/nebulastream/nes-core/pipeline"
	"github.com/nebulastream/nes-core/queue"
	"github.com/nebulastream/nes-core/types"
)

// Thread is one detached source loop (spec §4.9): obtain a buffer, fill
// it, stamp its ordering identity and watermark, submit it to the first
// pipeline's task queue, and repeat until end-of-stream or a stop request.
type Thread struct {
	originID  types.OriginID
	source    Source
	pool      *memory.LocalBufferPool
	strategy  WatermarkStrategy
	firstStage *pipeline.ExecutablePipeline
	submit    func(queue.Task) bool
	logger    *log.Logger

	stop      *StopToken
	nextSeq   types.SequenceNumber
	watermark types.Timestamp
}

// NewThread creates a source thread for originID, pulling buffers from
// pool, filling them via src, and submitting stamped buffers to
// firstStage via submit (typically a queue.Pool's Submit/TrySubmit, or a
// queue.WorkerContext.Submit when running inline).
func NewThread(originID types.OriginID, src Source, pool *memory.LocalBufferPool, strategy WatermarkStrategy, firstStage *pipeline.ExecutablePipeline, submit func(queue.Task) bool, logger *log.Logger) *Thread {
	return &Thread{
		originID:   originID,
		source:     src,
		pool:       pool,
		strategy:   strategy,
		firstStage: firstStage,
		submit:     submit,
		logger:     logger,
		stop:       &StopToken{},
		nextSeq:    types.InitialSequenceNumber,
	}
}

// Stop requests the thread to stop at its next opportunity.
func (t *Thread) Stop() { t.stop.Stop() }

// Run executes the source loop until end-of-stream, a stop request, or an
// unrecoverable error, then propagates EOS to the first pipeline. Run is
// meant to be called on its own goroutine.
func (t *Thread) Run(ctx context.Context) error {
	for {
		if t.stop.Stopped() {
			break
		}
		buf, err := t.pool.GetBufferBlocking(ctx)
		if err != nil {
			break
		}

		result, err := t.source.FillTupleBuffer(ctx, buf, t.stop)
		if err != nil {
			buf.Release()
			t.propagateEOS(ctx)
			return fmt.Errorf("source %d: fill: %w", t.originID, err)
		}
		if result.EndOfStream {
			buf.Release()
			break
		}

		buf.SetNumberOfTuples(uint64(result.NumTuples))
		t.watermark = t.strategy.Watermark(buf, t.watermark)
		buf.SetWatermark(t.watermark)
		buf.SetOrigin(t.originID)
		buf.SetSequence(types.SequenceData{
			Origin:         t.originID,
			SequenceNumber: t.nextSeq,
			ChunkNumber:    types.InitialChunkNumber,
			LastChunk:      true,
		})
		t.nextSeq++

		if !t.submit(queue.Task{Pipeline: t.firstStage, Buffer: buf}) {
			buf.Release()
			if t.logger != nil {
				t.logger.Warn("source: dropped buffer, task queue rejected submission", map[string]any{"origin_id": uint64(t.originID)})
			}
		}
	}

	t.propagateEOS(ctx)
	return nil
}

// propagateEOS decrements the first pipeline's producer count and lets it
// cascade a soft-stop downstream once every producer (including this
// source) has signalled completion.
func (t *Thread) propagateEOS(ctx context.Context) {
	wc := &queue.WorkerContext{}
	t.firstStage.Reconfigure(pipeline.ReconfigurationMessage{Kind: pipeline.ReconfigEOS}, wc)
	t.firstStage.SoftStop()
	t.firstStage.PostReconfigurationCallback(pipeline.ReconfigurationMessage{Kind: pipeline.ReconfigSoftStop}, wc)
}
