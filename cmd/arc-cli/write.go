package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/basekick-labs/arc-go/internal/config"
	"github.com/basekick-labs/arc-go/pkg/arc"
	"github.com/basekick-labs/arc-go/pkg/frame"
	"github.com/basekick-labs/arc-go/pkg/models"
	"github.com/basekick-labs/arc-go/pkg/mqtt"
)

func runWrite(args []string) {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	file := fs.String("file", "", "Input file, '-' or empty for stdin")
	format := fs.String("format", "auto", "Input format: line, csv or auto (csv by .csv extension)")
	measurement := fs.String("measurement", "", "Measurement CSV rows are written to")
	timeColumn := fs.String("time-column", "time", "CSV column holding timestamps")
	tagColumns := fs.String("tag-columns", "", "Comma-separated CSV columns written as tags")
	precision := fs.String("precision", "", "Line timestamp precision: ns, us, ms or s (default from config)")
	transport := fs.String("transport", "http", "Transport: http or mqtt")
	topic := fs.String("topic", "", "MQTT topic (default from config)")
	cf := registerConnFlags(fs)
	fs.Parse(args)

	cfg := loadConfig(cf)
	if *precision != "" {
		cfg.Client.Precision = *precision
	}

	in, name, err := openInput(*file)
	if err != nil {
		fatal("opening input: %v", err)
	}
	defer in.Close()

	kind := *format
	if kind == "auto" {
		kind = "line"
		if strings.HasSuffix(strings.ToLower(name), ".csv") {
			kind = "csv"
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	var written int
	var unit string

	switch kind {
	case "line":
		lines, err := readLines(in)
		if err != nil {
			fatal("reading input: %v", err)
		}
		if len(lines) == 0 {
			fatal("input has no lines")
		}
		if err := sendLines(ctx, cfg, *transport, *topic, lines); err != nil {
			fatal("write failed: %v", err)
		}
		written, unit = len(lines), "lines"

	case "csv":
		tags := make(map[string]bool)
		for _, col := range splitList(*tagColumns) {
			tags[col] = true
		}
		recs, err := readCSVRecords(in, csvMapping{
			measurement: *measurement,
			timeColumn:  *timeColumn,
			tagColumns:  tags,
		})
		if err != nil {
			fatal("%v", err)
		}
		if len(recs) == 0 {
			fatal("input has no rows")
		}
		if err := sendRecords(ctx, cfg, *transport, *topic, recs); err != nil {
			fatal("write failed: %v", err)
		}
		written, unit = len(recs), "rows"

	default:
		fatal("unknown format %q (want line or csv)", kind)
	}

	fmt.Printf("wrote %d %s via %s in %s\n",
		written, unit, *transport, time.Since(start).Round(time.Millisecond))
}

func openInput(path string) (io.ReadCloser, string, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

// readLines collects non-blank input lines. Lines up to 1MB.
func readLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

func sendLines(ctx context.Context, cfg *config.Config, transport, topic string, lines []string) error {
	switch transport {
	case "http":
		return arc.WithClient(ctx, clientConfig(cfg), func(c *arc.Client) error {
			return c.WriteLines(ctx, lines)
		})
	case "mqtt":
		return withPublisher(ctx, cfg, topic, func(p *mqtt.Publisher) error {
			return p.PublishLines(ctx, lines)
		})
	default:
		return fmt.Errorf("unknown transport %q (want http or mqtt)", transport)
	}
}

func sendRecords(ctx context.Context, cfg *config.Config, transport, topic string, recs []models.Record) error {
	switch transport {
	case "http":
		return arc.WithClient(ctx, clientConfig(cfg), func(c *arc.Client) error {
			return c.WriteRecords(ctx, recs)
		})
	case "mqtt":
		return withPublisher(ctx, cfg, topic, func(p *mqtt.Publisher) error {
			return p.PublishRecords(ctx, recs)
		})
	default:
		return fmt.Errorf("unknown transport %q (want http or mqtt)", transport)
	}
}

func sendFrame(ctx context.Context, cfg *config.Config, transport, topic, measurement string, f *frame.Frame) error {
	switch transport {
	case "http":
		return arc.WithClient(ctx, clientConfig(cfg), func(c *arc.Client) error {
			return c.WriteFrame(ctx, measurement, f)
		})
	case "mqtt":
		return withPublisher(ctx, cfg, topic, func(p *mqtt.Publisher) error {
			return p.PublishFrame(ctx, measurement, f)
		})
	default:
		return fmt.Errorf("unknown transport %q (want http or mqtt)", transport)
	}
}

// withPublisher connects, runs fn and always disconnects.
func withPublisher(ctx context.Context, cfg *config.Config, topic string, fn func(*mqtt.Publisher) error) error {
	p, err := mqtt.NewPublisher(publisherOptions(cfg, topic))
	if err != nil {
		return err
	}
	if err := p.Connect(ctx); err != nil {
		return err
	}
	defer p.Close()
	return fn(p)
}
