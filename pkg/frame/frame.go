package frame

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Role classifies a column within a frame
type Role int

const (
	RoleUnset Role = iota
	RoleTime
	RoleTag
	RoleField
	RoleIgnore
)

// String returns the string representation of the role
func (r Role) String() string {
	switch r {
	case RoleTime:
		return "time"
	case RoleTag:
		return "tag"
	case RoleField:
		return "field"
	case RoleIgnore:
		return "ignore"
	default:
		return ""
	}
}

// ParseRole converts a string representation back to a Role
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "time", "timestamp":
		return RoleTime
	case "tag":
		return RoleTag
	case "field":
		return RoleField
	case "ignore":
		return RoleIgnore
	default:
		return RoleUnset
	}
}

// Column is a named value column with its classification metadata
type Column struct {
	Name   string
	Role   Role
	Values []interface{}
}

// Frame is an ordered columnar table. Columns keep insertion order, which
// write encoding and classification both rely on. A Frame is not safe for
// concurrent mutation.
type Frame struct {
	cols  []*Column
	index map[string]int
}

// New creates an empty frame
func New() *Frame {
	return &Frame{index: make(map[string]int)}
}

// AddColumn appends a column. Adding a duplicate name replaces nothing and
// is reported by Validate.
func (f *Frame) AddColumn(name string, role Role, values []interface{}) *Frame {
	f.cols = append(f.cols, &Column{Name: name, Role: role, Values: values})
	if _, exists := f.index[name]; !exists {
		f.index[name] = len(f.cols) - 1
	}
	return f
}

// AddTimeColumn appends a timestamp column with the time role
func (f *Frame) AddTimeColumn(name string, times []time.Time) *Frame {
	values := make([]interface{}, len(times))
	for i, t := range times {
		values[i] = t
	}
	return f.AddColumn(name, RoleTime, values)
}

// NumCols returns the number of columns
func (f *Frame) NumCols() int {
	return len(f.cols)
}

// Len returns the number of rows
func (f *Frame) Len() int {
	if len(f.cols) == 0 {
		return 0
	}
	return len(f.cols[0].Values)
}

// Columns returns the ordered column names
func (f *Frame) Columns() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Cols returns the ordered columns
func (f *Frame) Cols() []*Column {
	return f.cols
}

// Column returns the named column, or nil when absent
func (f *Frame) Column(name string) *Column {
	i, ok := f.index[name]
	if !ok {
		return nil
	}
	return f.cols[i]
}

// HasColumn reports whether the named column exists
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

// HasMetadata reports whether any column carries a role classification
func (f *Frame) HasMetadata() bool {
	for _, c := range f.cols {
		if c.Role != RoleUnset {
			return true
		}
	}
	return false
}

// TimeColumn returns the first column with the time role, or nil
func (f *Frame) TimeColumn() *Column {
	for _, c := range f.cols {
		if c.Role == RoleTime {
			return c
		}
	}
	return nil
}

// Validate checks structural integrity: at least one column, unique names,
// equal column lengths, at most one time column
func (f *Frame) Validate() error {
	if len(f.cols) == 0 {
		return fmt.Errorf("frame has no columns")
	}

	seen := make(map[string]bool, len(f.cols))
	timeCols := 0
	rows := len(f.cols[0].Values)

	for _, c := range f.cols {
		if c.Name == "" {
			return fmt.Errorf("frame has an unnamed column")
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true

		if len(c.Values) != rows {
			return fmt.Errorf("column %q has %d values, expected %d", c.Name, len(c.Values), rows)
		}
		if c.Role == RoleTime {
			timeCols++
		}
	}
	if timeCols > 1 {
		return fmt.Errorf("frame has %d time columns, at most one allowed", timeCols)
	}
	return nil
}

// Row materializes row i as a column name to value map
func (f *Frame) Row(i int) map[string]interface{} {
	row := make(map[string]interface{}, len(f.cols))
	for _, c := range f.cols {
		if i >= 0 && i < len(c.Values) {
			row[c.Name] = c.Values[i]
		}
	}
	return row
}

// Value returns the value at the named column and row, or nil
func (f *Frame) Value(name string, i int) interface{} {
	c := f.Column(name)
	if c == nil || i < 0 || i >= len(c.Values) {
		return nil
	}
	return c.Values[i]
}

// SortByTime stably reorders all rows by the time column. Frames without a
// time column are left untouched.
func (f *Frame) SortByTime() {
	tc := f.TimeColumn()
	if tc == nil || f.Len() < 2 {
		return
	}

	order := make([]int, f.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, okA := AsTime(tc.Values[order[a]])
		tb, okB := AsTime(tc.Values[order[b]])
		if !okA || !okB {
			return false
		}
		return ta.Before(tb)
	})

	for _, c := range f.cols {
		sorted := make([]interface{}, len(c.Values))
		for i, j := range order {
			sorted[i] = c.Values[j]
		}
		c.Values = sorted
	}
}

// AsTime coerces a column value to a timestamp. Integer and float epochs
// are interpreted by magnitude: seconds below 1e10, milliseconds below
// 1e13, microseconds otherwise.
func AsTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case int64:
		return epochToTime(t), true
	case int:
		return epochToTime(int64(t)), true
	case uint64:
		return epochToTime(int64(t)), true
	case float64:
		return epochToTime(int64(t)), true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse("2006-01-02 15:04:05", t); err == nil {
			return parsed.UTC(), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func epochToTime(ts int64) time.Time {
	switch {
	case ts < 1e10:
		return time.Unix(ts, 0).UTC()
	case ts < 1e13:
		return time.UnixMilli(ts).UTC()
	default:
		return time.UnixMicro(ts).UTC()
	}
}
