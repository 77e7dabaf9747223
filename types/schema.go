package types

import "fmt"

// PhysicalType is a fixed-width (or variable-sized-handle) wire type for a
// schema field.
type PhysicalType uint8

const (
	PhysicalInt8 PhysicalType = iota
	PhysicalInt16
	PhysicalInt32
	PhysicalInt64
	PhysicalUint8
	PhysicalUint16
	PhysicalUint32
	PhysicalUint64
	PhysicalFloat32
	PhysicalFloat64
	PhysicalBool
	PhysicalChar // fixed-size char[N]; size carried out-of-band in Field.Size
	PhysicalVariableSized
)

// SizeBytes returns the fixed on-wire width of t. PhysicalChar returns 0, as
// its size is field-specific (char[N], see Field.Size); PhysicalVariableSized
// returns VariableSizedDataSize, the width of its inline handle.
func (t PhysicalType) SizeBytes() int {
	switch t {
	case PhysicalInt8, PhysicalUint8, PhysicalBool:
		return 1
	case PhysicalInt16, PhysicalUint16:
		return 2
	case PhysicalInt32, PhysicalUint32, PhysicalFloat32:
		return 4
	case PhysicalInt64, PhysicalUint64, PhysicalFloat64:
		return 8
	case PhysicalVariableSized:
		return VariableSizedDataSize
	default:
		return 0
	}
}

// VariableSizedDataSize is the fixed width of a VariableSizedData handle as
// it appears inline in a row/column layout: a uint32 child-buffer index plus
// a uint64 byte length.
const VariableSizedDataSize = 12

// Field describes one column of a Schema.
type Field struct {
	Name     string
	Type     PhysicalType
	Size     int  // only meaningful for PhysicalChar; 0 otherwise
	Nullable bool
}

// ByteSize returns the on-wire width of the field, accounting for
// PhysicalChar's field-specific size.
func (f Field) ByteSize() int {
	if f.Type == PhysicalChar {
		return f.Size
	}
	return f.Type.SizeBytes()
}

// Layout selects how records are flattened into a TupleBuffer.
type Layout uint8

const (
	LayoutRow Layout = iota
	LayoutColumnar
)

// Schema is the ordered list of fields a TupleBuffer's tuples conform to.
type Schema struct {
	Fields []Field
	Layout Layout
}

// RecordSize returns the fixed per-tuple byte width of the schema under row
// layout (the per-field byte widths summed; a nullable field adds one
// null-flag byte, matching the aggregation state convention in §4.7).
func (s Schema) RecordSize() int {
	total := 0
	for _, f := range s.Fields {
		total += f.ByteSize()
		if f.Nullable {
			total++
		}
	}
	return total
}

// IndexOf returns the position of a field by name, or -1.
func (s Schema) IndexOf(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (s Schema) String() string {
	return fmt.Sprintf("Schema(%d fields, layout=%d)", len(s.Fields), s.Layout)
}

// VariableSizedData is a handle to a payload living in one of the owning
// TupleBuffer's attached child buffers: a blob too large or too irregular
// to live inline (text, sketches). ChildIndex indexes into the parent
// buffer's child list (see memory.TupleBuffer.AttachChild).
type VariableSizedData struct {
	ChildIndex uint32
	Length     uint64
}

// Value is a logical field value as it exists inside operator code. Records
// carry Values; on the wire a Schema flattens them into row or column bytes.
type Value struct {
	Int8    int8
	Int16   int16
	Int32   int32
	Int64   int64
	Uint8   uint8
	Uint16  uint16
	Uint32  uint32
	Uint64  uint64
	Float32 float32
	Float64 float64
	Bool    bool
	Char    []byte
	VarSize VariableSizedData
	Type    PhysicalType
	IsNull  bool
}

// AsUint64 coerces an integer-family value to uint64 for use as an
// aggregation/join key. Panics (invariant violation) if the value isn't an
// integer type; callers are expected to validate against the Schema first.
func (v Value) AsUint64() uint64 {
	switch v.Type {
	case PhysicalInt8:
		return uint64(v.Int8)
	case PhysicalInt16:
		return uint64(v.Int16)
	case PhysicalInt32:
		return uint64(v.Int32)
	case PhysicalInt64:
		return uint64(v.Int64)
	case PhysicalUint8:
		return uint64(v.Uint8)
	case PhysicalUint16:
		return uint64(v.Uint16)
	case PhysicalUint32:
		return uint64(v.Uint32)
	case PhysicalUint64:
		return v.Uint64
	default:
		panic(fmt.Sprintf("AsUint64: non-integer physical type %d", v.Type))
	}
}

// AsFloat64 coerces a numeric value to float64, used by aggregation
// functions operating on sum/avg/min/max over mixed-width numeric fields.
func (v Value) AsFloat64() float64 {
	switch v.Type {
	case PhysicalFloat32:
		return float64(v.Float32)
	case PhysicalFloat64:
		return v.Float64
	default:
		return float64(v.AsUint64())
	}
}

// Record is a logical tuple: an ordered mapping from field name to typed
// value. Records exist only inside operator code; a Schema flattens them
// to row or column bytes for storage in a TupleBuffer.
type Record struct {
	schema *Schema
	values []Value
}

// NewRecord creates a record bound to schema with zero values.
func NewRecord(schema *Schema) Record {
	return Record{schema: schema, values: make([]Value, len(schema.Fields))}
}

// Set assigns the value of the named field.
func (r *Record) Set(field string, v Value) error {
	idx := r.schema.IndexOf(field)
	if idx < 0 {
		return fmt.Errorf("record: unknown field %q", field)
	}
	v.Type = r.schema.Fields[idx].Type
	r.values[idx] = v
	return nil
}

// Get returns the value of the named field.
func (r Record) Get(field string) (Value, bool) {
	idx := r.schema.IndexOf(field)
	if idx < 0 {
		return Value{}, false
	}
	return r.values[idx], true
}

// Schema returns the record's bound schema.
func (r Record) Schema() *Schema { return r.schema }
