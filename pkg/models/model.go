package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/basekick-labs/arc-go/pkg/frame"
)

// ConfigIgnoreColumns lists columns the classifier must skip. The value
// may be a []string, a []interface{} of strings, or a comma-separated
// string.
const ConfigIgnoreColumns = "ignore_columns"

// DataModel pairs a measurement with exactly one tabular payload and the
// classified tag and field column names. Instances are built once via the
// Builder and are read-only afterward; they are handed to the client write
// path and then discarded.
type DataModel struct {
	measurement string
	configs     map[string]interface{}
	frame       *frame.Frame
	records     []Record
	tags        []string
	fields      []string
}

// Measurement returns the measurement name
func (m *DataModel) Measurement() string { return m.measurement }

// Configs returns a copy of the configuration mapping
func (m *DataModel) Configs() map[string]interface{} {
	out := make(map[string]interface{}, len(m.configs))
	for k, v := range m.configs {
		out[k] = v
	}
	return out
}

// Frame returns the columnar payload, or nil for record payloads. The
// returned frame must not be mutated.
func (m *DataModel) Frame() *frame.Frame { return m.frame }

// Records returns the row payload, or nil for columnar payloads. The
// returned slice must not be mutated.
func (m *DataModel) Records() []Record { return m.records }

// IsColumnar reports whether the payload is a frame
func (m *DataModel) IsColumnar() bool { return m.frame != nil }

// Tags returns a copy of the ordered tag column names
func (m *DataModel) Tags() []string {
	return append([]string(nil), m.tags...)
}

// Fields returns a copy of the ordered field column names
func (m *DataModel) Fields() []string {
	return append([]string(nil), m.fields...)
}

// Len returns the number of rows in the payload
func (m *DataModel) Len() int {
	if m.frame != nil {
		return m.frame.Len()
	}
	return len(m.records)
}

// Builder accumulates model configuration and validates it on Build.
// Zero value is not usable; create one with NewBuilder. Builders are not
// safe for concurrent use.
type Builder struct {
	measurement string
	configs     map[string]interface{}
	frame       *frame.Frame
	records     []Record
	recordsSet  bool
	tags        []string
	tagsSet     bool
	fields      []string
	fieldsSet   bool
}

// NewBuilder creates an empty model builder
func NewBuilder() *Builder {
	return &Builder{configs: make(map[string]interface{})}
}

// Measurement sets the measurement name
func (b *Builder) Measurement(name string) *Builder {
	b.measurement = name
	return b
}

// Config sets a single configuration option
func (b *Builder) Config(key string, value interface{}) *Builder {
	b.configs[key] = value
	return b
}

// Configs merges a configuration mapping
func (b *Builder) Configs(configs map[string]interface{}) *Builder {
	for k, v := range configs {
		b.configs[k] = v
	}
	return b
}

// Frame sets the columnar payload. Mutually exclusive with Records.
func (b *Builder) Frame(f *frame.Frame) *Builder {
	b.frame = f
	return b
}

// Records sets the row-oriented payload. Mutually exclusive with Frame.
func (b *Builder) Records(recs []Record) *Builder {
	b.records = recs
	b.recordsSet = true
	return b
}

// Tags sets the explicit tag column names, replacing earlier calls.
// Calling with no names declares the model tagless.
func (b *Builder) Tags(names ...string) *Builder {
	b.tags = append([]string(nil), names...)
	b.tagsSet = true
	return b
}

// Fields sets the explicit field column names, replacing earlier calls
func (b *Builder) Fields(names ...string) *Builder {
	b.fields = append([]string(nil), names...)
	b.fieldsSet = true
	return b
}

// Build validates the staged configuration and produces an immutable
// model. Tags and fields not given explicitly are derived: frame payloads
// classify by column metadata, record payloads derive from the union of
// record tag and field keys.
func (b *Builder) Build() (*DataModel, error) {
	measurement := strings.TrimSpace(b.measurement)
	if measurement == "" {
		return nil, ErrEmptyMeasurement
	}

	hasFrame := b.frame != nil
	hasRecords := b.recordsSet
	if !hasFrame && !hasRecords {
		return nil, ErrNoPayload
	}
	if hasFrame && hasRecords {
		return nil, ErrPayloadConflict
	}

	var tags, fields []string
	var err error
	if hasFrame {
		tags, fields, err = b.resolveFrameColumns()
	} else {
		tags, fields, err = b.resolveRecordColumns()
	}
	if err != nil {
		return nil, err
	}

	if overlap := intersect(tags, fields); len(overlap) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrTagFieldOverlap, strings.Join(overlap, ", "))
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: measurement %q", ErrNoFields, measurement)
	}

	configs := make(map[string]interface{}, len(b.configs))
	for k, v := range b.configs {
		configs[k] = v
	}

	return &DataModel{
		measurement: measurement,
		configs:     configs,
		frame:       b.frame,
		records:     b.records,
		tags:        tags,
		fields:      fields,
	}, nil
}

func (b *Builder) resolveFrameColumns() (tags, fields []string, err error) {
	if err := b.frame.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrColumnMismatch, err)
	}

	if missing := missingColumns(b.frame, b.tags); len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: tags %s not in payload", ErrColumnMismatch, strings.Join(missing, ", "))
	}
	if missing := missingColumns(b.frame, b.fields); len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: fields %s not in payload", ErrColumnMismatch, strings.Join(missing, ", "))
	}

	tags = b.tags
	fields = b.fields
	if b.tagsSet && b.fieldsSet {
		return tags, fields, nil
	}

	// One or both sides missing: classify from column metadata
	classifiedTags, classifiedFields, err := Classify(b.frame, b.ignoreList())
	if err != nil {
		return nil, nil, err
	}
	if !b.tagsSet {
		tags = subtract(classifiedTags, fields)
	}
	if !b.fieldsSet {
		fields = subtract(classifiedFields, tags)
	}
	return tags, fields, nil
}

func (b *Builder) resolveRecordColumns() (tags, fields []string, err error) {
	tagKeys := make(map[string]bool)
	fieldKeys := make(map[string]bool)
	for i := range b.records {
		// Records inside a model may omit the measurement; the model's
		// own name is stamped at write time. Fields are still required.
		if len(b.records[i].Fields) == 0 {
			return nil, nil, fmt.Errorf("%w: record %d", ErrNoFields, i)
		}
		for k := range b.records[i].Tags {
			tagKeys[k] = true
		}
		for k := range b.records[i].Fields {
			fieldKeys[k] = true
		}
	}

	if missing := missingKeys(tagKeys, b.tags); len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: tags %s not in payload", ErrColumnMismatch, strings.Join(missing, ", "))
	}
	if missing := missingKeys(fieldKeys, b.fields); len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: fields %s not in payload", ErrColumnMismatch, strings.Join(missing, ", "))
	}

	tags = b.tags
	fields = b.fields
	if !b.tagsSet {
		tags = sortedKeys(tagKeys)
	}
	if !b.fieldsSet {
		fields = sortedKeys(fieldKeys)
	}
	return tags, fields, nil
}

func (b *Builder) ignoreList() []string {
	raw, ok := b.configs[ConfigIgnoreColumns]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	default:
		return nil
	}
}

func missingColumns(f *frame.Frame, names []string) []string {
	var missing []string
	for _, n := range names {
		if !f.HasColumn(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

func missingKeys(keys map[string]bool, names []string) []string {
	var missing []string
	for _, n := range names {
		if !keys[n] {
			missing = append(missing, n)
		}
	}
	return missing
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	var both []string
	for _, s := range b {
		if set[s] {
			both = append(both, s)
		}
	}
	return both
}

func subtract(a, remove []string) []string {
	set := make(map[string]bool, len(remove))
	for _, s := range remove {
		set[s] = true
	}
	out := make([]string, 0, len(a))
	for _, s := range a {
		if !set[s] {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
