// Package checkpoint implements the little-endian PipelineState snapshot
// format and local, atomic (write-tmp-then-rename) persistence of it.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// magic identifies a PipelineState snapshot file.
var magic = [4]byte{'N', 'E', 'S', 'P'}

// formatVersion is the on-disk format version written into every snapshot.
const formatVersion uint32 = 1

// OperatorState is one operator's serialized state blob within a snapshot
// (e.g. an aggregation handler's in-flight hash maps, a join handler's
// build-side slice stores).
type OperatorState struct {
	Kind         uint8
	OperatorID   uint64
	StateVersion uint32
	Blob         []byte
}

// OriginProgress records one input origin's delivery progress as of the
// snapshot.
type OriginProgress struct {
	OriginID         uint64
	ProcessedRecords uint64
	LastWatermark    uint64
}

// PipelineState is the full checkpoint of one pipeline at one point in
// time: per-operator state blobs plus per-origin progress, per spec's
// PipelineState framing.
type PipelineState struct {
	QueryID       uint64
	PipelineID    uint64
	CreatedAtNanos int64

	Operators []OperatorState

	ProgressVersion uint32
	LastWatermark   uint64
	Origins         []OriginProgress
}

// Serialize encodes s into the little-endian PipelineState wire format:
//
//	magic "NESP" | u32 version | u64 queryId | u64 pipelineId | u64 createdTsNs
//	u32 opCount
//	  repeated { u8 kind | 3 bytes padding | u64 operatorId | u32 stateVersion | u32 blobSize | blob[blobSize] }
//	u32 progressVersion | u64 lastWatermark | u32 originCount
//	  repeated { u64 originId | u64 processedRecords | u64 lastWatermark }
func Serialize(s *PipelineState) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	if err := binary.Write(&buf, binary.LittleEndian, formatVersion); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, s.QueryID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, s.PipelineID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint64(s.CreatedAtNanos)); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(s.Operators))); err != nil {
		return nil, err
	}
	var padding [3]byte
	for _, op := range s.Operators {
		buf.WriteByte(op.Kind)
		buf.Write(padding[:])
		if err := binary.Write(&buf, binary.LittleEndian, op.OperatorID); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, op.StateVersion); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(op.Blob))); err != nil {
			return nil, err
		}
		buf.Write(op.Blob)
	}

	if err := binary.Write(&buf, binary.LittleEndian, s.ProgressVersion); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, s.LastWatermark); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(s.Origins))); err != nil {
		return nil, err
	}
	for _, o := range s.Origins {
		if err := binary.Write(&buf, binary.LittleEndian, o.OriginID); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, o.ProcessedRecords); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, o.LastWatermark); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Deserialize decodes a PipelineState snapshot, rejecting input with
// trailing or truncated bytes.
func Deserialize(data []byte) (*PipelineState, error) {
	r := bytes.NewReader(data)

	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, fmt.Errorf("checkpoint: truncated magic: %w", err)
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("checkpoint: bad magic %q", gotMagic)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("checkpoint: truncated version: %w", err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("checkpoint: unsupported version %d", version)
	}

	s := &PipelineState{}
	var createdTsNs uint64
	if err := binary.Read(r, binary.LittleEndian, &s.QueryID); err != nil {
		return nil, fmt.Errorf("checkpoint: truncated queryId: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.PipelineID); err != nil {
		return nil, fmt.Errorf("checkpoint: truncated pipelineId: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &createdTsNs); err != nil {
		return nil, fmt.Errorf("checkpoint: truncated createdTsNs: %w", err)
	}
	s.CreatedAtNanos = int64(createdTsNs)

	var opCount uint32
	if err := binary.Read(r, binary.LittleEndian, &opCount); err != nil {
		return nil, fmt.Errorf("checkpoint: truncated opCount: %w", err)
	}
	s.Operators = make([]OperatorState, opCount)
	for i := range s.Operators {
		op := &s.Operators[i]
		kind, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("checkpoint: truncated operator kind: %w", err)
		}
		op.Kind = kind
		var padding [3]byte
		if _, err := io.ReadFull(r, padding[:]); err != nil {
			return nil, fmt.Errorf("checkpoint: truncated operator padding: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &op.OperatorID); err != nil {
			return nil, fmt.Errorf("checkpoint: truncated operatorId: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &op.StateVersion); err != nil {
			return nil, fmt.Errorf("checkpoint: truncated stateVersion: %w", err)
		}
		var blobSize uint32
		if err := binary.Read(r, binary.LittleEndian, &blobSize); err != nil {
			return nil, fmt.Errorf("checkpoint: truncated blobSize: %w", err)
		}
		blob := make([]byte, blobSize)
		if _, err := io.ReadFull(r, blob); err != nil {
			return nil, fmt.Errorf("checkpoint: truncated blob: %w", err)
		}
		op.Blob = blob
	}

	if err := binary.Read(r, binary.LittleEndian, &s.ProgressVersion); err != nil {
		return nil, fmt.Errorf("checkpoint: truncated progressVersion: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.LastWatermark); err != nil {
		return nil, fmt.Errorf("checkpoint: truncated lastWatermark: %w", err)
	}
	var originCount uint32
	if err := binary.Read(r, binary.LittleEndian, &originCount); err != nil {
		return nil, fmt.Errorf("checkpoint: truncated originCount: %w", err)
	}
	s.Origins = make([]OriginProgress, originCount)
	for i := range s.Origins {
		o := &s.Origins[i]
		if err := binary.Read(r, binary.LittleEndian, &o.OriginID); err != nil {
			return nil, fmt.Errorf("checkpoint: truncated originId: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &o.ProcessedRecords); err != nil {
			return nil, fmt.Errorf("checkpoint: truncated processedRecords: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &o.LastWatermark); err != nil {
			return nil, fmt.Errorf("checkpoint: truncated origin lastWatermark: %w", err)
		}
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("checkpoint: %d trailing bytes after valid snapshot", r.Len())
	}
	return s, nil
}
