package wire

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/basekick-labs/arc-go/pkg/models"
)

// Payload is one decoded write unit: either a columnar set or a single
// record, never both
type Payload struct {
	Measurement string
	Columns     map[string][]interface{}
	Record      *models.Record
}

// RowCount returns the number of rows the payload carries
func (p *Payload) RowCount() int {
	if p.Columns != nil {
		for _, values := range p.Columns {
			return len(values)
		}
		return 0
	}
	if p.Record != nil {
		return 1
	}
	return 0
}

// Decode unpacks a msgpack write body into its payloads. Row, columnar,
// batch and top-level array encodings are all accepted; timestamps are
// normalized to microsecond precision.
func Decode(data []byte) ([]Payload, error) {
	// Decode to a generic value first: clients send both map and
	// array encoded payloads
	var raw interface{}
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal msgpack: %w", err)
	}

	switch payload := raw.(type) {
	case map[string]interface{}:
		return decodeMap(payload)
	case []interface{}:
		var out []Payload
		for i, item := range payload {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("array item %d: unsupported type %T", i, item)
			}
			decoded, err := decodeMap(m)
			if err != nil {
				return nil, fmt.Errorf("array item %d: %w", i, err)
			}
			out = append(out, decoded...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported msgpack payload type %T", raw)
	}
}

func decodeMap(m map[string]interface{}) ([]Payload, error) {
	if batch, ok := m["batch"]; ok {
		items, ok := batch.([]interface{})
		if !ok {
			return nil, fmt.Errorf("batch is not an array")
		}
		var out []Payload
		for i, item := range items {
			itemMap, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("batch item %d: unsupported type %T", i, item)
			}
			decoded, err := decodeMap(itemMap)
			if err != nil {
				return nil, fmt.Errorf("batch item %d: %w", i, err)
			}
			out = append(out, decoded...)
		}
		return out, nil
	}

	if _, ok := m["columns"]; ok {
		p, err := decodeColumnar(m)
		if err != nil {
			return nil, err
		}
		return []Payload{*p}, nil
	}

	p, err := decodeRow(m)
	if err != nil {
		return nil, err
	}
	return []Payload{*p}, nil
}

// decodeColumnar validates a columnar payload: equal column lengths and a
// time column, generated when absent
func decodeColumnar(m map[string]interface{}) (*Payload, error) {
	measurement, err := extractMeasurement(m["m"])
	if err != nil {
		return nil, err
	}

	rawCols, ok := m["columns"].(map[string]interface{})
	if !ok || len(rawCols) == 0 {
		return nil, fmt.Errorf("columnar format requires non-empty 'columns' dict")
	}

	columns := make(map[string][]interface{}, len(rawCols))
	numRows := -1
	for name, raw := range rawCols {
		values, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("column %q is not an array", name)
		}
		if numRows == -1 {
			numRows = len(values)
		} else if len(values) != numRows {
			return nil, fmt.Errorf("column length mismatch: expected %d, got %d for %q", numRows, len(values), name)
		}
		columns[name] = values
	}

	if timeCol, ok := columns[TimeColumn]; !ok || len(timeCol) == 0 {
		nowMicros := time.Now().UTC().UnixMicro()
		generated := make([]interface{}, numRows)
		for i := range generated {
			generated[i] = nowMicros
		}
		columns[TimeColumn] = generated
	} else {
		normalized := make([]interface{}, len(timeCol))
		for i, v := range timeCol {
			ts, ok := toMicroTimestamp(v)
			if !ok {
				return nil, fmt.Errorf("time column row %d: bad timestamp %v", i, v)
			}
			normalized[i] = ts
		}
		columns[TimeColumn] = normalized
	}

	return &Payload{Measurement: measurement, Columns: columns}, nil
}

// decodeRow flattens a row payload into a record. The legacy 'h' key is
// merged into tags as host.
func decodeRow(m map[string]interface{}) (*Payload, error) {
	measurement, err := extractMeasurement(m["m"])
	if err != nil {
		return nil, err
	}

	var t time.Time
	if rawT, ok := m["t"]; ok && rawT != nil {
		micros, ok := toMicroTimestamp(rawT)
		if !ok {
			return nil, fmt.Errorf("bad timestamp %v", rawT)
		}
		t = time.UnixMicro(micros).UTC()
	} else {
		t = time.Now().UTC()
	}

	fields, ok := m["fields"].(map[string]interface{})
	if !ok || len(fields) == 0 {
		return nil, fmt.Errorf("missing required 'fields'")
	}

	tags := make(map[string]string)
	if rawTags, ok := m["tags"].(map[string]interface{}); ok {
		for k, v := range rawTags {
			if s, ok := v.(string); ok {
				tags[k] = s
			} else {
				tags[k] = fmt.Sprintf("%v", v)
			}
		}
	}
	if host, ok := m["h"].(string); ok && host != "" {
		tags["host"] = host
	}

	return &Payload{
		Measurement: measurement,
		Record: &models.Record{
			Measurement: measurement,
			Time:        t,
			Fields:      fields,
			Tags:        tags,
		},
	}, nil
}

func extractMeasurement(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("missing or invalid measurement")
	}
	return s, nil
}

// toMicroTimestamp converts a raw timestamp to microseconds, inferring the
// unit by magnitude: seconds below 1e10, milliseconds below 1e13,
// microseconds otherwise.
func toMicroTimestamp(v interface{}) (int64, bool) {
	var ts int64
	switch n := v.(type) {
	case int64:
		ts = n
	case int32:
		ts = int64(n)
	case int16:
		ts = int64(n)
	case int8:
		ts = int64(n)
	case int:
		ts = int64(n)
	case uint64:
		ts = int64(n)
	case uint32:
		ts = int64(n)
	case uint16:
		ts = int64(n)
	case uint8:
		ts = int64(n)
	case uint:
		ts = int64(n)
	case float64:
		ts = int64(n)
	case float32:
		ts = int64(n)
	case time.Time:
		return n.UnixMicro(), true
	default:
		return 0, false
	}

	switch {
	case ts < 1e10:
		return ts * 1_000_000, true
	case ts < 1e13:
		return ts * 1_000, true
	default:
		return ts, true
	}
}
