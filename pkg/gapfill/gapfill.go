package gapfill

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/basekick-labs/arc-go/pkg/frame"
)

var (
	ErrNoTimeColumn = errors.New("gapfill: time column not found")
	ErrBadRange     = errors.New("gapfill: end must be after start")
	ErrBadColumn    = errors.New("gapfill: unknown column")
	ErrBadSeed      = errors.New("gapfill: invalid seed")
)

// DefaultStep is the grid interval used when Options.Step is zero.
const DefaultStep = time.Minute

// Options control how Fill regularizes a frame onto a fixed time grid.
type Options struct {
	// TimeColumn names the timestamp column. Empty selects the frame's
	// time-role column, falling back to a column named "time".
	TimeColumn string

	// GroupBy lists the columns whose distinct value combinations form
	// independent series. Empty treats the whole frame as one series.
	GroupBy []string

	// Start and End bound the output grid over the half-open range
	// [Start, End). Grid timestamps are truncated to Step.
	Start time.Time
	End   time.Time

	// Step is the grid interval. Zero means DefaultStep.
	Step time.Duration

	// FillColumns lists the columns to carry forward. Empty selects every
	// column that is neither the time column nor a group column.
	FillColumns []string

	// Seed maps a group key to the values a group reports before its first
	// observation. Groups absent from the input emit placeholder rows only
	// when seeded here. Keys are the group value for a single group column,
	// or group values joined with "," for compound groups.
	Seed map[string]map[string]interface{}
}

type series struct {
	key    string
	groups []interface{}
	obs    []observation
}

type observation struct {
	at     time.Time
	values map[string]interface{}
}

// Fill projects f onto a fixed time grid, emitting exactly one row per step
// per group over [Start, End). Each output row repeats the last value each
// fill column reported at or before the grid timestamp; observations outside
// the range still seed that state. The result carries time, tag and field
// roles so it classifies and writes without further annotation.
func Fill(f *frame.Frame, opts Options) (*frame.Frame, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrNoTimeColumn)
	}
	if !opts.End.After(opts.Start) {
		return nil, fmt.Errorf("%w: [%s, %s)", ErrBadRange,
			opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339))
	}
	step := opts.Step
	if step <= 0 {
		step = DefaultStep
	}
	if len(opts.Seed) > 0 && len(opts.GroupBy) == 0 {
		return nil, fmt.Errorf("%w: seed keys need group columns", ErrBadSeed)
	}

	timeCol, err := resolveTimeColumn(f, opts.TimeColumn)
	if err != nil {
		return nil, err
	}
	for _, name := range opts.GroupBy {
		if !f.HasColumn(name) {
			return nil, fmt.Errorf("%w: group column %q", ErrBadColumn, name)
		}
	}
	fillCols, err := resolveFillColumns(f, timeCol, opts)
	if err != nil {
		return nil, err
	}

	allSeries, err := collectSeries(f, timeCol, opts.GroupBy, fillCols)
	if err != nil {
		return nil, err
	}
	allSeries, err = appendSeededSeries(allSeries, opts)
	if err != nil {
		return nil, err
	}

	grid := gridTimestamps(opts.Start, opts.End, step)

	out := newOutput(timeCol, opts.GroupBy, fillCols)
	for _, s := range allSeries {
		state := make(map[string]interface{}, len(fillCols))
		for col, v := range opts.Seed[s.key] {
			state[col] = v
		}

		next := 0
		for _, t := range grid {
			for next < len(s.obs) && !s.obs[next].at.After(t) {
				for col, v := range s.obs[next].values {
					if v != nil {
						state[col] = v
					}
				}
				next++
			}
			out.appendRow(t, s.groups, state, fillCols)
		}
	}

	return out.frame(), nil
}

func resolveTimeColumn(f *frame.Frame, name string) (string, error) {
	if name != "" {
		c := f.Column(name)
		if c == nil {
			return "", fmt.Errorf("%w: %q", ErrNoTimeColumn, name)
		}
		return name, nil
	}
	if c := f.TimeColumn(); c != nil {
		return c.Name, nil
	}
	if f.HasColumn("time") {
		return "time", nil
	}
	return "", ErrNoTimeColumn
}

func resolveFillColumns(f *frame.Frame, timeCol string, opts Options) ([]string, error) {
	grouped := make(map[string]bool, len(opts.GroupBy))
	for _, name := range opts.GroupBy {
		grouped[name] = true
	}

	if len(opts.FillColumns) > 0 {
		for _, name := range opts.FillColumns {
			if !f.HasColumn(name) {
				return nil, fmt.Errorf("%w: fill column %q", ErrBadColumn, name)
			}
			if name == timeCol || grouped[name] {
				return nil, fmt.Errorf("%w: %q is not a value column", ErrBadColumn, name)
			}
		}
		return opts.FillColumns, nil
	}

	var cols []string
	for _, c := range f.Cols() {
		if c.Name == timeCol || grouped[c.Name] {
			continue
		}
		cols = append(cols, c.Name)
	}
	return cols, nil
}

// collectSeries splits the frame into per-group observation lists sorted by
// time, preserving the order groups first appear in.
func collectSeries(f *frame.Frame, timeCol string, groupBy, fillCols []string) ([]*series, error) {
	var (
		ordered []*series
		byKey   = make(map[string]*series)
	)

	for i := 0; i < f.Len(); i++ {
		at, ok := frame.AsTime(f.Value(timeCol, i))
		if !ok {
			return nil, fmt.Errorf("%w: row %d has no timestamp", ErrNoTimeColumn, i)
		}

		groups := make([]interface{}, len(groupBy))
		for gi, name := range groupBy {
			groups[gi] = f.Value(name, i)
		}
		key := groupKey(groups)

		s, seen := byKey[key]
		if !seen {
			s = &series{key: key, groups: groups}
			byKey[key] = s
			ordered = append(ordered, s)
		}

		values := make(map[string]interface{}, len(fillCols))
		for _, name := range fillCols {
			values[name] = f.Value(name, i)
		}
		s.obs = append(s.obs, observation{at: at, values: values})
	}

	for _, s := range ordered {
		obs := s.obs
		sort.SliceStable(obs, func(a, b int) bool { return obs[a].at.Before(obs[b].at) })
	}
	return ordered, nil
}

// appendSeededSeries adds an empty series for every seed key the input never
// produced, in sorted key order so output stays deterministic.
func appendSeededSeries(all []*series, opts Options) ([]*series, error) {
	if len(opts.Seed) == 0 {
		return all, nil
	}

	present := make(map[string]bool, len(all))
	for _, s := range all {
		present[s.key] = true
	}

	var missing []string
	for key := range opts.Seed {
		if !present[key] {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)

	for _, key := range missing {
		parts := strings.Split(key, ",")
		if len(parts) != len(opts.GroupBy) {
			return nil, fmt.Errorf("%w: key %q wants %d group values", ErrBadSeed, key, len(opts.GroupBy))
		}
		groups := make([]interface{}, len(parts))
		for i, p := range parts {
			groups[i] = p
		}
		all = append(all, &series{key: key, groups: groups})
	}
	return all, nil
}

func groupKey(groups []interface{}) string {
	if len(groups) == 0 {
		return ""
	}
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = fmt.Sprint(g)
	}
	return strings.Join(parts, ",")
}

// gridTimestamps expands [start, end) into step-aligned instants. The first
// instant is start truncated to the step, so a range opening mid-bucket
// still reports that bucket.
func gridTimestamps(start, end time.Time, step time.Duration) []time.Time {
	var grid []time.Time
	for t := start.Truncate(step); t.Before(end); t = t.Add(step) {
		grid = append(grid, t)
	}
	return grid
}

type output struct {
	timeCol  string
	groupBy  []string
	times    []time.Time
	groups   [][]interface{}
	fills    map[string][]interface{}
	fillCols []string
}

func newOutput(timeCol string, groupBy, fillCols []string) *output {
	o := &output{
		timeCol:  timeCol,
		groupBy:  groupBy,
		groups:   make([][]interface{}, len(groupBy)),
		fills:    make(map[string][]interface{}, len(fillCols)),
		fillCols: fillCols,
	}
	return o
}

func (o *output) appendRow(t time.Time, groups []interface{}, state map[string]interface{}, fillCols []string) {
	o.times = append(o.times, t)
	for i := range o.groupBy {
		o.groups[i] = append(o.groups[i], groups[i])
	}
	for _, name := range fillCols {
		o.fills[name] = append(o.fills[name], state[name])
	}
}

func (o *output) frame() *frame.Frame {
	f := frame.New().AddTimeColumn(o.timeCol, o.times)
	for i, name := range o.groupBy {
		vals := o.groups[i]
		if vals == nil {
			vals = []interface{}{}
		}
		f.AddColumn(name, frame.RoleTag, vals)
	}
	for _, name := range o.fillCols {
		vals := o.fills[name]
		if vals == nil {
			vals = make([]interface{}, len(o.times))
		}
		f.AddColumn(name, frame.RoleField, vals)
	}
	return f
}
