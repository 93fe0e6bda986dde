// Line protocol codec used by the client write path and the CLI.
//
// Format:
//
//	measurement[,tag_key=tag_value...] field_key=field_value[,...] [timestamp]
//
// Examples:
//
//	cpu,host=server01,region=us-west usage_idle=90.5,usage_system=2.1 1609459200000000000
//	temperature,sensor=bedroom temp=22.5
//	http_requests,method=GET,status=200 count=1i
package lineprotocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/basekick-labs/arc-go/pkg/models"
)

// EncodeRecord renders a record as a single line-protocol line. Tag and
// field keys are emitted in sorted order so output is deterministic. A zero
// record time is stamped with the current time.
func EncodeRecord(rec models.Record, precision string) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(escapeMeasurement(rec.Measurement))

	tagKeys := make([]string, 0, len(rec.Tags))
	for k := range rec.Tags {
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	for _, k := range tagKeys {
		sb.WriteByte(',')
		sb.WriteString(escapeKey(k))
		sb.WriteByte('=')
		sb.WriteString(escapeKey(rec.Tags[k]))
	}

	fieldKeys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		if rec.Fields[k] != nil {
			fieldKeys = append(fieldKeys, k)
		}
	}
	if len(fieldKeys) == 0 {
		return "", fmt.Errorf("%w: record %q has only nil fields", models.ErrNoFields, rec.Measurement)
	}
	sort.Strings(fieldKeys)

	sb.WriteByte(' ')
	for i, k := range fieldKeys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(escapeKey(k))
		sb.WriteByte('=')
		sb.WriteString(formatFieldValue(rec.Fields[k]))
	}

	t := rec.Time
	if t.IsZero() {
		t = time.Now()
	}
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatInt(timestampIn(t, precision), 10))

	return sb.String(), nil
}

// EncodeBatch renders records as line-protocol lines, one per record
func EncodeBatch(recs []models.Record, precision string) ([]string, error) {
	lines := make([]string, 0, len(recs))
	for i, rec := range recs {
		line, err := EncodeRecord(rec, precision)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// timestampIn converts a time to the integer representation of the given
// precision. Unknown precisions fall back to nanoseconds.
func timestampIn(t time.Time, precision string) int64 {
	switch precision {
	case "us":
		return t.UnixMicro()
	case "ms":
		return t.UnixMilli()
	case "s":
		return t.Unix()
	default:
		return t.UnixNano()
	}
}

func formatFieldValue(v interface{}) string {
	switch val := v.(type) {
	case bool:
		if val {
			return "true"
		}
		return "false"
	case string:
		return quoteString(val)
	case int:
		return strconv.FormatInt(int64(val), 10) + "i"
	case int8:
		return strconv.FormatInt(int64(val), 10) + "i"
	case int16:
		return strconv.FormatInt(int64(val), 10) + "i"
	case int32:
		return strconv.FormatInt(int64(val), 10) + "i"
	case int64:
		return strconv.FormatInt(val, 10) + "i"
	case uint:
		return strconv.FormatUint(uint64(val), 10) + "u"
	case uint8:
		return strconv.FormatUint(uint64(val), 10) + "u"
	case uint16:
		return strconv.FormatUint(uint64(val), 10) + "u"
	case uint32:
		return strconv.FormatUint(uint64(val), 10) + "u"
	case uint64:
		return strconv.FormatUint(val, 10) + "u"
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case time.Time:
		return quoteString(val.UTC().Format(time.RFC3339Nano))
	default:
		return quoteString(fmt.Sprintf("%v", val))
	}
}

// escapeMeasurement escapes commas and spaces in measurement names
func escapeMeasurement(s string) string {
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, " ", `\ `)
	return strings.ReplaceAll(s, "\n", "")
}

// escapeKey escapes commas, spaces and equals in tag keys, tag values and
// field keys
func escapeKey(s string) string {
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, " ", `\ `)
	s = strings.ReplaceAll(s, "=", `\=`)
	return strings.ReplaceAll(s, "\n", "")
}

// quoteString wraps a string field value in double quotes, escaping
// backslashes and embedded quotes
func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", " ")
	return `"` + s + `"`
}
