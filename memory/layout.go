package memory

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nebulastream/nes-core/types"
)

// LayoutProvider flattens Records into a TupleBuffer's payload and reads
// them back out, according to a Schema's declared row or column layout
// (spec §3: "on the wire they are flattened per a Schema into row or
// column layout").
type LayoutProvider struct {
	schema *types.Schema
}

// NewLayoutProvider builds a provider for schema.
func NewLayoutProvider(schema *types.Schema) *LayoutProvider {
	return &LayoutProvider{schema: schema}
}

// Capacity returns the maximum number of records that fit in a buffer of
// bufferSize bytes under this schema's layout.
func (p *LayoutProvider) Capacity(bufferSize int) int {
	recordSize := p.schema.RecordSize()
	if recordSize == 0 {
		return 0
	}
	return bufferSize / recordSize
}

// WriteRecord writes rec at logical index idx into buf, using row layout
// (fields concatenated per record) or column layout (fields grouped into
// contiguous arrays, SoA) per the schema. Variable-sized fields store only
// the VariableSizedData handle inline; the caller is responsible for
// attaching the referenced child buffer via TupleBuffer.AttachChild.
func (p *LayoutProvider) WriteRecord(buf TupleBuffer, idx int, rec types.Record) error {
	if rec.Schema() != p.schema {
		return fmt.Errorf("memory: record schema does not match layout schema")
	}
	capacity := p.Capacity(buf.Capacity())
	if idx < 0 || idx >= capacity {
		return fmt.Errorf("memory: record index %d out of range (capacity %d)", idx, capacity)
	}

	data := buf.Bytes()
	switch p.schema.Layout {
	case types.LayoutRow:
		recordSize := p.schema.RecordSize()
		offset := idx * recordSize
		for _, f := range p.schema.Fields {
			v, ok := rec.Get(f.Name)
			if !ok {
				return fmt.Errorf("memory: record missing field %q", f.Name)
			}
			width := fieldWidth(f)
			if err := writeValue(data[offset:offset+width], f, v); err != nil {
				return err
			}
			offset += width
		}
	case types.LayoutColumnar:
		colOffset := 0
		for _, f := range p.schema.Fields {
			width := fieldWidth(f)
			v, ok := rec.Get(f.Name)
			if !ok {
				return fmt.Errorf("memory: record missing field %q", f.Name)
			}
			fieldOffset := colOffset + idx*width
			if err := writeValue(data[fieldOffset:fieldOffset+width], f, v); err != nil {
				return err
			}
			colOffset += width * capacity
		}
	default:
		return fmt.Errorf("memory: unknown layout %v", p.schema.Layout)
	}
	return nil
}

// ReadRecord reconstructs the record at logical index idx from buf.
func (p *LayoutProvider) ReadRecord(buf TupleBuffer, idx int) (types.Record, error) {
	capacity := p.Capacity(buf.Capacity())
	if idx < 0 || idx >= capacity {
		return types.Record{}, fmt.Errorf("memory: record index %d out of range (capacity %d)", idx, capacity)
	}

	rec := types.NewRecord(p.schema)
	data := buf.Bytes()

	switch p.schema.Layout {
	case types.LayoutRow:
		recordSize := p.schema.RecordSize()
		offset := idx * recordSize
		for _, f := range p.schema.Fields {
			width := fieldWidth(f)
			v := readValue(data[offset:offset+width], f)
			if err := rec.Set(f.Name, v); err != nil {
				return types.Record{}, err
			}
			offset += width
		}
	case types.LayoutColumnar:
		colOffset := 0
		for _, f := range p.schema.Fields {
			width := fieldWidth(f)
			fieldOffset := colOffset + idx*width
			v := readValue(data[fieldOffset:fieldOffset+width], f)
			if err := rec.Set(f.Name, v); err != nil {
				return types.Record{}, err
			}
			colOffset += width * capacity
		}
	default:
		return types.Record{}, fmt.Errorf("memory: unknown layout %v", p.schema.Layout)
	}
	return rec, nil
}

// fieldWidth returns a field's on-wire width including its null-flag byte,
// so that writers and readers walk the same offsets as Schema.RecordSize.
func fieldWidth(f types.Field) int {
	w := f.ByteSize()
	if f.Nullable {
		w++
	}
	return w
}

func writeValue(dst []byte, f types.Field, v types.Value) error {
	body := dst
	if f.Nullable {
		if v.IsNull {
			dst[0] = 1
			for i := 1; i < len(dst); i++ {
				dst[i] = 0
			}
			return nil
		}
		dst[0] = 0
		body = dst[1:]
	}
	switch f.Type {
	case types.PhysicalInt8:
		body[0] = byte(v.Int8)
	case types.PhysicalUint8:
		body[0] = v.Uint8
	case types.PhysicalBool:
		if v.Bool {
			body[0] = 1
		} else {
			body[0] = 0
		}
	case types.PhysicalInt16:
		binary.LittleEndian.PutUint16(body, uint16(v.Int16))
	case types.PhysicalUint16:
		binary.LittleEndian.PutUint16(body, v.Uint16)
	case types.PhysicalInt32:
		binary.LittleEndian.PutUint32(body, uint32(v.Int32))
	case types.PhysicalUint32:
		binary.LittleEndian.PutUint32(body, v.Uint32)
	case types.PhysicalInt64:
		binary.LittleEndian.PutUint64(body, uint64(v.Int64))
	case types.PhysicalUint64:
		binary.LittleEndian.PutUint64(body, v.Uint64)
	case types.PhysicalFloat32:
		binary.LittleEndian.PutUint32(body, math.Float32bits(v.Float32))
	case types.PhysicalFloat64:
		binary.LittleEndian.PutUint64(body, math.Float64bits(v.Float64))
	case types.PhysicalChar:
		copy(body, v.Char)
	case types.PhysicalVariableSized:
		binary.LittleEndian.PutUint32(body[0:4], v.VarSize.ChildIndex)
		binary.LittleEndian.PutUint64(body[4:12], v.VarSize.Length)
	default:
		return fmt.Errorf("memory: unsupported physical type %v", f.Type)
	}
	return nil
}

func readValue(src []byte, f types.Field) types.Value {
	var out types.Value
	out.Type = f.Type
	body := src
	if f.Nullable {
		if src[0] == 1 {
			out.IsNull = true
			return out
		}
		body = src[1:]
	}
	switch f.Type {
	case types.PhysicalInt8:
		out.Int8 = int8(body[0])
	case types.PhysicalUint8:
		out.Uint8 = body[0]
	case types.PhysicalBool:
		out.Bool = body[0] != 0
	case types.PhysicalInt16:
		out.Int16 = int16(binary.LittleEndian.Uint16(body))
	case types.PhysicalUint16:
		out.Uint16 = binary.LittleEndian.Uint16(body)
	case types.PhysicalInt32:
		out.Int32 = int32(binary.LittleEndian.Uint32(body))
	case types.PhysicalUint32:
		out.Uint32 = binary.LittleEndian.Uint32(body)
	case types.PhysicalInt64:
		out.Int64 = int64(binary.LittleEndian.Uint64(body))
	case types.PhysicalUint64:
		out.Uint64 = binary.LittleEndian.Uint64(body)
	case types.PhysicalFloat32:
		out.Float32 = math.Float32frombits(binary.LittleEndian.Uint32(body))
	case types.PhysicalFloat64:
		out.Float64 = math.Float64frombits(binary.LittleEndian.Uint64(body))
	case types.PhysicalChar:
		c := make([]byte, f.Size)
		copy(c, body)
		out.Char = c
	case types.PhysicalVariableSized:
		out.VarSize = types.VariableSizedData{
			ChildIndex: binary.LittleEndian.Uint32(body[0:4]),
			Length:     binary.LittleEndian.Uint64(body[4:12]),
		}
	}
	return out
}
