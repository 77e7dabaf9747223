// Package external implements the out-of-process pipeline stage contract: a
// subprocess receives one input buffer's records as a single ipc frame on
// stdin and replies with zero or more ipc frames on stdout, each carrying a
// batch of emitted records. This is how a stage whose computation can't run
// in-process (a JVM/UDF-embedded operator, explicitly out of scope here)
// would plug into the core without the core knowing anything about it.
package external

import (
	"context"
	"fmt"
	"io"

	"github.com/nebulastream/nes-core/executor"
	"github.com/nebulastream/nes-core/ipc"
	"github.com/nebulastream/nes-core/memory"
	"github.com/nebulastream/nes-core/pipeline"
	"github.com/nebulastream/nes-core/queue"
	"github.com/nebulastream/nes-core/types"
)

// BufferAllocator obtains buffers to hold records decoded from stage
// output frames.
type BufferAllocator interface {
	GetBufferBlocking(ctx context.Context) (memory.TupleBuffer, error)
}

// Config configures the external stage subprocess and the schema used to
// flatten/unflatten records crossing the ipc boundary.
type Config struct {
	QueryID      string
	PipelineID   uint64
	Path         string
	Args         []string
	InputLayout  *memory.LayoutProvider
	OutputSchema *types.Schema
	OutputLayout *memory.LayoutProvider
	Allocator    BufferAllocator
}

// NewStage builds a pipeline.Stage that runs cfg.Path as a subprocess for
// every input buffer, writes its records as one StageInput frame, and turns
// every StageOutput frame read back into an emitted TupleBuffer.
func NewStage(cfg Config) pipeline.Stage {
	return func(ctx context.Context, buf memory.TupleBuffer, wc *queue.WorkerContext, emit func(memory.TupleBuffer)) error {
		mgr := executor.NewManager(executor.Config{Path: cfg.Path, Args: cfg.Args})
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("external: start subprocess: %w", err)
		}

		records, err := flattenBuffer(cfg.InputLayout, buf)
		if err != nil {
			_ = mgr.Kill()
			return fmt.Errorf("external: flatten input buffer: %w", err)
		}

		frame, err := ipc.EncodeStageInput(ipc.StageInput{
			QueryID:    cfg.QueryID,
			PipelineID: cfg.PipelineID,
			OriginID:   uint64(buf.Origin()),
			Watermark:  int64(buf.Watermark()),
			Records:    records,
		})
		if err != nil {
			_ = mgr.Kill()
			return fmt.Errorf("external: encode stage input: %w", err)
		}

		if _, err := mgr.Stdin().Write(frame); err != nil {
			_ = mgr.Kill()
			return fmt.Errorf("external: write stage input: %w", err)
		}
		if err := mgr.Stdin().Close(); err != nil {
			_ = mgr.Kill()
			return fmt.Errorf("external: close stdin: %w", err)
		}

		dec := ipc.NewFrameDecoder(mgr.Stdout())
		for {
			payload, err := dec.ReadFrame()
			if err != nil {
				if err == io.EOF {
					break
				}
				if ipc.IsFatalFrameError(err) {
					_ = mgr.Kill()
					return fmt.Errorf("external: read stage output: %w", err)
				}
				break
			}

			out, err := ipc.DecodeStageOutput(payload)
			if err != nil {
				_ = mgr.Kill()
				return fmt.Errorf("external: decode stage output: %w", err)
			}
			if out.Error != "" {
				_ = mgr.Kill()
				return fmt.Errorf("external: stage reported error: %s", out.Error)
			}

			if len(out.Records) > 0 {
				outBuf, err := unflattenRecords(ctx, cfg.Allocator, cfg.OutputSchema, cfg.OutputLayout, out.Records)
				if err != nil {
					_ = mgr.Kill()
					return fmt.Errorf("external: unflatten stage output: %w", err)
				}
				emit(outBuf)
			}
			if out.EndOfStream {
				break
			}
		}

		result, err := mgr.Wait()
		if err != nil {
			return fmt.Errorf("external: wait for subprocess: %w", err)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("external: subprocess exited with code %d: %s", result.ExitCode, result.StderrBytes)
		}
		return nil
	}
}

func flattenBuffer(layout *memory.LayoutProvider, buf memory.TupleBuffer) ([]ipc.StageRecord, error) {
	n := int(buf.NumberOfTuples())
	out := make([]ipc.StageRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, err := layout.ReadRecord(buf, i)
		if err != nil {
			return nil, err
		}
		out = append(out, recordToStageRecord(rec))
	}
	return out, nil
}

func recordToStageRecord(rec types.Record) ipc.StageRecord {
	schema := rec.Schema()
	sr := make(ipc.StageRecord, len(schema.Fields))
	for _, f := range schema.Fields {
		v, ok := rec.Get(f.Name)
		if !ok {
			continue
		}
		sr[f.Name] = scalarOf(f, v)
	}
	return sr
}

func scalarOf(f types.Field, v types.Value) any {
	if v.IsNull {
		return nil
	}
	switch f.Type {
	case types.PhysicalBool:
		return v.Bool
	case types.PhysicalFloat32, types.PhysicalFloat64:
		return v.AsFloat64()
	case types.PhysicalChar:
		return string(v.Char)
	default:
		return v.AsUint64()
	}
}

func unflattenRecords(ctx context.Context, allocator BufferAllocator, schema *types.Schema, layout *memory.LayoutProvider, records []ipc.StageRecord) (memory.TupleBuffer, error) {
	buf, err := allocator.GetBufferBlocking(ctx)
	if err != nil {
		return memory.TupleBuffer{}, err
	}

	capacity := layout.Capacity(buf.Capacity())
	if len(records) > capacity {
		records = records[:capacity]
	}

	for i, sr := range records {
		rec := types.NewRecord(schema)
		for _, f := range schema.Fields {
			if err := rec.Set(f.Name, valueOf(f, sr[f.Name])); err != nil {
				return memory.TupleBuffer{}, err
			}
		}
		if err := layout.WriteRecord(buf, i, rec); err != nil {
			return memory.TupleBuffer{}, err
		}
	}
	buf.SetNumberOfTuples(uint64(len(records)))
	return buf, nil
}

func valueOf(f types.Field, raw any) types.Value {
	if raw == nil {
		return types.Value{Type: f.Type, IsNull: true}
	}
	switch f.Type {
	case types.PhysicalBool:
		b, _ := raw.(bool)
		return types.Value{Type: f.Type, Bool: b}
	case types.PhysicalFloat32:
		return types.Value{Type: f.Type, Float32: float32(asFloat64(raw))}
	case types.PhysicalFloat64:
		return types.Value{Type: f.Type, Float64: asFloat64(raw)}
	case types.PhysicalChar:
		s, _ := raw.(string)
		return types.Value{Type: f.Type, Char: []byte(s)}
	default:
		return integerValue(f.Type, asUint64(raw))
	}
}

func integerValue(t types.PhysicalType, n uint64) types.Value {
	v := types.Value{Type: t}
	switch t {
	case types.PhysicalInt8:
		v.Int8 = int8(n)
	case types.PhysicalInt16:
		v.Int16 = int16(n)
	case types.PhysicalInt32:
		v.Int32 = int32(n)
	case types.PhysicalInt64:
		v.Int64 = int64(n)
	case types.PhysicalUint8:
		v.Uint8 = uint8(n)
	case types.PhysicalUint16:
		v.Uint16 = uint16(n)
	case types.PhysicalUint32:
		v.Uint32 = uint32(n)
	case types.PhysicalUint64:
		v.Uint64 = n
	}
	return v
}

func asUint64(raw any) uint64 {
	switch n := raw.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	case float64:
		return uint64(n)
	default:
		return 0
	}
}

func asFloat64(raw any) float64 {
	switch n := raw.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}
