package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/basekick-labs/arc-go/internal/config"
	"github.com/basekick-labs/arc-go/pkg/arc"
	"github.com/basekick-labs/arc-go/pkg/frame"
	"github.com/basekick-labs/arc-go/pkg/gapfill"
	"github.com/basekick-labs/arc-go/pkg/mqtt"
)

// stringSliceFlag collects a repeatable flag value.
type stringSliceFlag []string

func (f *stringSliceFlag) String() string { return strings.Join(*f, ",") }

func (f *stringSliceFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func runGapfill(args []string) {
	fs := flag.NewFlagSet("gapfill", flag.ExitOnError)
	groupBy := fs.String("group-by", "", "Comma-separated columns forming independent series")
	fillColumns := fs.String("fill-columns", "", "Comma-separated columns to carry forward (default: every value column)")
	timeColumn := fs.String("time-column", "", "Timestamp column (default: the result's time column)")
	startFlag := fs.String("start", "", "Grid start, RFC3339 (default: first observation)")
	endFlag := fs.String("end", "", "Grid end, RFC3339, exclusive (default: one step past the last observation)")
	step := fs.Duration("step", gapfill.DefaultStep, "Grid interval")
	writeTo := fs.String("write-to", "", "Write the result to this measurement instead of printing")
	transport := fs.String("transport", "http", "Write-back transport: http or mqtt")
	topic := fs.String("topic", "", "MQTT topic (default from config)")
	output := fs.String("output", "table", "Output format when printing: table, json or csv")
	var seeds stringSliceFlag
	fs.Var(&seeds, "seed", "Placeholder values for an absent group, 'group:field=value,...' (repeatable)")
	cf := registerConnFlags(fs)
	fs.Parse(args)

	cfg := loadConfig(cf)

	sql, err := readSQL(fs.Args())
	if err != nil {
		fatal("%v", err)
	}
	seedMap, err := config.ParseSeeds(seeds)
	if err != nil {
		fatal("%v", err)
	}
	if *step <= 0 {
		*step = gapfill.DefaultStep
	}

	ctx, cancel := signalContext()
	defer cancel()

	err = arc.WithClient(ctx, clientConfig(cfg), func(c *arc.Client) error {
		rs, err := c.Query(ctx, sql)
		if err != nil {
			return err
		}
		f, err := rs.Frame()
		if err != nil {
			return err
		}

		opts := gapfill.Options{
			TimeColumn:  *timeColumn,
			GroupBy:     splitList(*groupBy),
			Step:        *step,
			FillColumns: splitList(*fillColumns),
			Seed:        seedMap,
		}
		opts.Start, opts.End, err = gridRange(f, *timeColumn, *startFlag, *endFlag, *step)
		if err != nil {
			return err
		}

		filled, err := gapfill.Fill(f, opts)
		if err != nil {
			return err
		}

		if *writeTo != "" {
			switch *transport {
			case "http":
				if err := c.WriteFrame(ctx, *writeTo, filled); err != nil {
					return err
				}
			case "mqtt":
				err := withPublisher(ctx, cfg, *topic, func(p *mqtt.Publisher) error {
					return p.PublishFrame(ctx, *writeTo, filled)
				})
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown transport %q (want http or mqtt)", *transport)
			}
			fmt.Printf("filled %d rows into %s\n", filled.Len(), *writeTo)
			return nil
		}

		cols, rows := frameTable(filled)
		return render(os.Stdout, *output, cols, rows)
	})
	if err != nil {
		fatal("gapfill failed: %v", err)
	}
}

// gridRange resolves the output range. Explicit flags win; the rest derives
// from the observations, with the end extended so the bucket holding the
// last observation is still emitted.
func gridRange(f *frame.Frame, timeColumn, startFlag, endFlag string, step time.Duration) (time.Time, time.Time, error) {
	var start, end time.Time

	if startFlag != "" {
		t, err := time.Parse(time.RFC3339, startFlag)
		if err != nil {
			return start, end, fmt.Errorf("bad -start: %v", err)
		}
		start = t
	}
	if endFlag != "" {
		t, err := time.Parse(time.RFC3339, endFlag)
		if err != nil {
			return start, end, fmt.Errorf("bad -end: %v", err)
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() {
		return start, end, nil
	}

	first, last, err := observedRange(f, timeColumn)
	if err != nil {
		return start, end, err
	}
	if start.IsZero() {
		start = first
	}
	if end.IsZero() {
		end = last.Truncate(step).Add(step)
	}
	return start, end, nil
}

// observedRange scans the time column for its first and last instants.
func observedRange(f *frame.Frame, timeColumn string) (time.Time, time.Time, error) {
	name := timeColumn
	if name == "" {
		switch {
		case f.TimeColumn() != nil:
			name = f.TimeColumn().Name
		case f.HasColumn("time"):
			name = "time"
		default:
			return time.Time{}, time.Time{}, errors.New("result has no time column; pass -time-column or -start/-end")
		}
	}

	var first, last time.Time
	for i := 0; i < f.Len(); i++ {
		at, ok := frame.AsTime(f.Value(name, i))
		if !ok {
			continue
		}
		if first.IsZero() || at.Before(first) {
			first = at
		}
		if last.IsZero() || at.After(last) {
			last = at
		}
	}
	if first.IsZero() {
		return first, last, errors.New("result has no observations; pass -start and -end")
	}
	return first, last, nil
}
