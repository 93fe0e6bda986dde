// MessagePack wire codec for the native write endpoint. Three payload
// shapes exist on the wire:
//
//	row:      {m: "cpu", t: 1633024800000000, fields: {...}, tags: {...}}
//	columnar: {m: "cpu", columns: {time: [...], usage: [...], host: [...]}}
//	batch:    {batch: [row, row, ...]}
//
// Timestamps are written in microseconds. The decode side accepts seconds,
// milliseconds or microseconds and normalizes by magnitude.
package wire

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/basekick-labs/arc-go/pkg/frame"
	"github.com/basekick-labs/arc-go/pkg/models"
)

// TimeColumn is the reserved column name the server keys timestamps on
const TimeColumn = "time"

// Column is one named value column of a columnar payload
type Column struct {
	Name   string
	Values []interface{}
}

// EncodeColumnar builds a columnar msgpack payload for one measurement.
// All columns must have equal lengths.
func EncodeColumnar(measurement string, cols []Column) ([]byte, error) {
	if measurement == "" {
		return nil, fmt.Errorf("%w: columnar payload", models.ErrEmptyMeasurement)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("columnar payload has no columns")
	}

	rows := len(cols[0].Values)
	columns := make(map[string][]interface{}, len(cols))
	for _, c := range cols {
		if len(c.Values) != rows {
			return nil, fmt.Errorf("column %q has %d values, expected %d", c.Name, len(c.Values), rows)
		}
		if _, dup := columns[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		columns[c.Name] = c.Values
	}

	return msgpack.Marshal(map[string]interface{}{
		"m":       measurement,
		"columns": columns,
	})
}

// EncodeRows builds a batch msgpack payload from records. Record times of
// zero are stamped with the current time.
func EncodeRows(recs []models.Record) ([]byte, error) {
	batch, err := rowMaps(recs)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(map[string]interface{}{"batch": batch})
}

// EncodeRowList builds a bare msgpack array of rows. MQTT consumers expect
// this shape; the write endpoint accepts it as well.
func EncodeRowList(recs []models.Record) ([]byte, error) {
	rows, err := rowMaps(recs)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(rows)
}

func rowMaps(recs []models.Record) ([]map[string]interface{}, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("batch payload has no records")
	}

	rows := make([]map[string]interface{}, 0, len(recs))
	for i := range recs {
		if err := recs[i].Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		t := recs[i].Time
		if t.IsZero() {
			t = time.Now()
		}

		row := map[string]interface{}{
			"m":      recs[i].Measurement,
			"t":      t.UnixMicro(),
			"fields": recs[i].Fields,
		}
		if len(recs[i].Tags) > 0 {
			row["tags"] = recs[i].Tags
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FromFrame converts the row window [lo, hi) of a frame into wire columns.
// The time-role column is renamed to the reserved time column and converted
// to microseconds; ignore-role columns are dropped. Frames without any time
// column get one stamped with the current time, so spooled payloads keep
// their original timestamps on replay.
func FromFrame(f *frame.Frame, lo, hi int) ([]Column, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if lo < 0 || hi > f.Len() || lo >= hi {
		return nil, fmt.Errorf("bad row window [%d, %d) for %d rows", lo, hi, f.Len())
	}

	cols := make([]Column, 0, f.NumCols()+1)
	haveTime := false

	for _, c := range f.Cols() {
		if c.Role == frame.RoleIgnore {
			continue
		}

		name := c.Name
		isTime := c.Role == frame.RoleTime || (!haveTime && c.Name == TimeColumn)
		if isTime {
			name = TimeColumn
			haveTime = true
		}

		values := make([]interface{}, hi-lo)
		for i := lo; i < hi; i++ {
			values[i-lo] = wireValue(c.Values[i], isTime)
		}
		cols = append(cols, Column{Name: name, Values: values})
	}

	if !haveTime {
		nowMicros := time.Now().UnixMicro()
		values := make([]interface{}, hi-lo)
		for i := range values {
			values[i] = nowMicros
		}
		cols = append(cols, Column{Name: TimeColumn, Values: values})
	}

	return cols, nil
}

// wireValue converts a frame value to its wire representation. Timestamps
// travel as microsecond integers.
func wireValue(v interface{}, isTime bool) interface{} {
	if t, ok := v.(time.Time); ok {
		return t.UnixMicro()
	}
	if isTime && v != nil {
		if t, ok := frame.AsTime(v); ok {
			return t.UnixMicro()
		}
	}
	return v
}
