package frame

import (
	"fmt"
	"math"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Shared allocator for all frame conversions. The Go allocator is stateless
// so sharing avoids per-conversion allocation overhead.
var sharedAllocator = memory.NewGoAllocator()

// roleMetadataKey carries the column role through Arrow schema metadata
const roleMetadataKey = "arc:role"

// ToArrow converts the frame to an Arrow record. Column roles travel as
// field metadata so FromArrow can restore them. The caller must Release
// the returned record.
func (f *Frame) ToArrow(mem memory.Allocator) (arrow.Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if mem == nil {
		mem = sharedAllocator
	}

	fields := make([]arrow.Field, len(f.cols))
	for i, c := range f.cols {
		dt, err := inferArrowType(c)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{
			Name:     c.Name,
			Type:     dt,
			Nullable: true,
			Metadata: arrow.NewMetadata([]string{roleMetadataKey}, []string{c.Role.String()}),
		}
	}

	schema := arrow.NewSchema(fields, nil)
	rb := array.NewRecordBuilder(mem, schema)
	defer rb.Release()

	for i, c := range f.cols {
		if err := appendColumn(rb.Field(i), c); err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
	}

	return rb.NewRecord(), nil
}

// FromArrow rebuilds a frame from an Arrow record. Roles come from field
// metadata when present; timestamp-typed columns default to the time role.
func FromArrow(rec arrow.Record) (*Frame, error) {
	f := New()
	schema := rec.Schema()

	for i := 0; i < int(rec.NumCols()); i++ {
		field := schema.Field(i)
		values, err := columnValues(rec.Column(i), field.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", field.Name, err)
		}
		f.AddColumn(field.Name, fieldRole(field), values)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// FromArrowSchema builds an empty frame shaped like the schema, roles
// restored the same way FromArrow restores them.
func FromArrowSchema(schema *arrow.Schema) *Frame {
	f := New()
	for _, field := range schema.Fields() {
		f.AddColumn(field.Name, fieldRole(field), nil)
	}
	return f
}

func fieldRole(field arrow.Field) Role {
	if idx := field.Metadata.FindKey(roleMetadataKey); idx >= 0 {
		if role := ParseRole(field.Metadata.Values()[idx]); role != RoleUnset {
			return role
		}
	}
	if _, isTS := field.Type.(*arrow.TimestampType); isTS {
		return RoleTime
	}
	return RoleUnset
}

// AppendArrow appends all rows of an Arrow record to the frame. The record
// must match the frame's columns; an empty frame adopts the record's shape.
func (f *Frame) AppendArrow(rec arrow.Record) error {
	if f.NumCols() == 0 {
		other, err := FromArrow(rec)
		if err != nil {
			return err
		}
		f.cols = other.cols
		f.index = other.index
		return nil
	}

	if int(rec.NumCols()) != f.NumCols() {
		return fmt.Errorf("record has %d columns, frame has %d", rec.NumCols(), f.NumCols())
	}

	schema := rec.Schema()
	for i := 0; i < int(rec.NumCols()); i++ {
		field := schema.Field(i)
		col := f.Column(field.Name)
		if col == nil {
			return fmt.Errorf("record column %q not present in frame", field.Name)
		}
		values, err := columnValues(rec.Column(i), field.Type)
		if err != nil {
			return fmt.Errorf("column %q: %w", field.Name, err)
		}
		col.Values = append(col.Values, values...)
	}
	return nil
}

// inferArrowType picks the Arrow type from the column role and the first
// non-nil value. Columns with only nil values map to strings.
func inferArrowType(c *Column) (arrow.DataType, error) {
	if c.Role == RoleTime {
		return arrow.FixedWidthTypes.Timestamp_us, nil
	}

	var sample interface{}
	for _, v := range c.Values {
		if v != nil {
			sample = v
			break
		}
	}

	switch sample.(type) {
	case nil, string:
		return arrow.BinaryTypes.String, nil
	case bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return arrow.PrimitiveTypes.Int64, nil
	case float32, float64:
		return arrow.PrimitiveTypes.Float64, nil
	case time.Time:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", sample)
	}
}

func appendColumn(b array.Builder, c *Column) error {
	switch builder := b.(type) {
	case *array.TimestampBuilder:
		for _, v := range c.Values {
			if v == nil {
				builder.AppendNull()
				continue
			}
			t, ok := AsTime(v)
			if !ok {
				return fmt.Errorf("value %v is not a timestamp", v)
			}
			builder.Append(arrow.Timestamp(t.UnixMicro()))
		}
	case *array.Int64Builder:
		for _, v := range c.Values {
			n, ok := toInt64(v)
			if !ok {
				builder.AppendNull()
				continue
			}
			builder.Append(n)
		}
	case *array.Float64Builder:
		for _, v := range c.Values {
			n, ok := toFloat64(v)
			if !ok {
				builder.AppendNull()
				continue
			}
			builder.Append(n)
		}
	case *array.BooleanBuilder:
		for _, v := range c.Values {
			val, ok := v.(bool)
			if !ok {
				builder.AppendNull()
				continue
			}
			builder.Append(val)
		}
	case *array.StringBuilder:
		for _, v := range c.Values {
			if v == nil {
				builder.AppendNull()
				continue
			}
			builder.Append(fmt.Sprintf("%v", v))
		}
	default:
		return fmt.Errorf("unsupported builder type %T", b)
	}
	return nil
}

func columnValues(col arrow.Array, dt arrow.DataType) ([]interface{}, error) {
	values := make([]interface{}, col.Len())

	switch arr := col.(type) {
	case *array.Timestamp:
		unit := dt.(*arrow.TimestampType).Unit
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			values[i] = arr.Value(i).ToTime(unit).UTC()
		}
	case *array.Int64:
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			values[i] = arr.Value(i)
		}
	case *array.Float64:
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			values[i] = arr.Value(i)
		}
	case *array.Boolean:
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			values[i] = arr.Value(i)
		}
	case *array.String:
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			values[i] = arr.Value(i)
		}
	default:
		return nil, fmt.Errorf("unsupported arrow array type %T", col)
	}

	return values, nil
}

// toInt64 converts numeric values to int64, rejecting values that would
// overflow or truncate
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}
