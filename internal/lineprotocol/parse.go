package lineprotocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/basekick-labs/arc-go/pkg/models"
)

// ParseLine parses a single line-protocol line. Empty lines and comments
// return a zero record with ok=false. Malformed lines return an error so
// callers can reject bad input before transmission.
func ParseLine(line []byte, precision string) (models.Record, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == '#' {
		return models.Record{}, false, nil
	}

	parts := splitOnDelimiter(line, ' ')
	if len(parts) < 2 {
		return models.Record{}, false, fmt.Errorf("missing field set")
	}

	measurement, tags, err := parseMeasurementTags(parts[0])
	if err != nil {
		return models.Record{}, false, err
	}

	fields, err := parseFields(parts[1])
	if err != nil {
		return models.Record{}, false, err
	}

	t := time.Now()
	if len(parts) >= 3 {
		rawTS, err := strconv.ParseInt(string(bytes.TrimSpace(parts[2])), 10, 64)
		if err != nil {
			return models.Record{}, false, fmt.Errorf("bad timestamp %q", parts[2])
		}
		t = timestampFrom(rawTS, precision)
	}

	return models.Record{
		Measurement: measurement,
		Tags:        tags,
		Fields:      fields,
		Time:        t,
	}, true, nil
}

// ParseBatch parses newline-separated line-protocol data. The first
// malformed line aborts with its 1-based line number.
func ParseBatch(data []byte, precision string) ([]models.Record, error) {
	lines := bytes.Split(data, []byte{'\n'})
	records := make([]models.Record, 0, len(lines))

	for i, line := range lines {
		rec, ok, err := ParseLine(line, precision)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// timestampFrom interprets a raw integer timestamp in the given precision.
// Unknown precisions are treated as nanoseconds.
func timestampFrom(raw int64, precision string) time.Time {
	switch precision {
	case "us":
		return time.UnixMicro(raw).UTC()
	case "ms":
		return time.UnixMilli(raw).UTC()
	case "s":
		return time.Unix(raw, 0).UTC()
	default:
		return time.Unix(0, raw).UTC()
	}
}

// splitOnDelimiter splits on an unescaped delimiter, respecting escaped
// characters and quoted strings
func splitOnDelimiter(data []byte, delim byte) [][]byte {
	var parts [][]byte
	var current []byte
	inQuotes := false

	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+1 < len(data) {
			current = append(current, data[i], data[i+1])
			i++
		} else if data[i] == '"' {
			inQuotes = !inQuotes
			current = append(current, data[i])
		} else if data[i] == delim && !inQuotes {
			if len(current) > 0 {
				parts = append(parts, current)
				current = nil
			}
		} else {
			current = append(current, data[i])
		}
	}

	if len(current) > 0 {
		parts = append(parts, current)
	}
	return parts
}

// parseMeasurementTags parses the measurement[,tag=value...] section
func parseMeasurementTags(part []byte) (string, map[string]string, error) {
	components := splitOnDelimiter(part, ',')
	if len(components) == 0 {
		return "", nil, fmt.Errorf("missing measurement")
	}

	measurement := unescape(components[0])
	if measurement == "" {
		return "", nil, fmt.Errorf("missing measurement")
	}

	tags := make(map[string]string)
	for _, component := range components[1:] {
		idx := bytes.IndexByte(component, '=')
		if idx <= 0 {
			return "", nil, fmt.Errorf("malformed tag %q", component)
		}
		key := unescape(component[:idx])
		tags[key] = unescape(component[idx+1:])
	}
	return measurement, tags, nil
}

// parseFields parses the field_key=field_value[,...] section
func parseFields(part []byte) (map[string]interface{}, error) {
	fields := make(map[string]interface{})

	for _, fieldPart := range splitOnDelimiter(part, ',') {
		idx := bytes.IndexByte(fieldPart, '=')
		if idx <= 0 {
			return nil, fmt.Errorf("malformed field %q", fieldPart)
		}

		key := unescape(fieldPart[:idx])
		value, err := parseFieldValue(fieldPart[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		fields[key] = value
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("missing field set")
	}
	return fields, nil
}

// parseFieldValue parses a field value based on its type indicator:
// trailing 'i' for integers, 'u' for unsigned, quotes for strings,
// t/f/true/false for booleans, bare numbers for floats.
func parseFieldValue(value []byte) (interface{}, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return nil, fmt.Errorf("empty value")
	}

	strValue := string(value)
	switch strings.ToLower(strValue) {
	case "t", "true":
		return true, nil
	case "f", "false":
		return false, nil
	}

	if value[0] == '"' {
		if len(value) < 2 || value[len(value)-1] != '"' {
			return nil, fmt.Errorf("unterminated string %q", strValue)
		}
		return unquoteString(value[1 : len(value)-1]), nil
	}

	if last := value[len(value)-1]; last == 'i' {
		intVal, err := strconv.ParseInt(strValue[:len(strValue)-1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer %q", strValue)
		}
		return intVal, nil
	} else if last == 'u' {
		uintVal, err := strconv.ParseUint(strValue[:len(strValue)-1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad unsigned integer %q", strValue)
		}
		return uintVal, nil
	}

	floatVal, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return nil, fmt.Errorf("bad value %q", strValue)
	}
	return floatVal, nil
}

// unescape reverses key escaping (\, \  \=). Single pass, allocates only
// when escapes are present.
func unescape(data []byte) string {
	if !bytes.ContainsRune(data, '\\') {
		return string(data)
	}

	buf := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+1 < len(data) {
			next := data[i+1]
			if next == ',' || next == ' ' || next == '=' {
				buf = append(buf, next)
				i++
				continue
			}
		}
		buf = append(buf, data[i])
	}
	return strings.ToValidUTF8(string(buf), "�")
}

// unquoteString reverses string value escaping, which additionally covers
// embedded quotes and backslashes
func unquoteString(data []byte) string {
	if !bytes.ContainsRune(data, '\\') {
		return strings.ToValidUTF8(string(data), "�")
	}

	buf := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+1 < len(data) {
			next := data[i+1]
			if next == '"' || next == '\\' || next == ',' || next == ' ' || next == '=' {
				buf = append(buf, next)
				i++
				continue
			}
		}
		buf = append(buf, data[i])
	}
	return strings.ToValidUTF8(string(buf), "�")
}
