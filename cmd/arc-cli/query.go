package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/basekick-labs/arc-go/pkg/arc"
	"github.com/basekick-labs/arc-go/pkg/frame"
)

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	shape := fs.String("shape", "rows", "Result shape: rows, frame or raw")
	output := fs.String("output", "table", "Output format: table, json or csv")
	cf := registerConnFlags(fs)
	fs.Parse(args)

	cfg := loadConfig(cf)

	sql, err := readSQL(fs.Args())
	if err != nil {
		fatal("%v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	err = arc.WithClient(ctx, clientConfig(cfg), func(c *arc.Client) error {
		switch *shape {
		case "rows":
			rs, err := c.Query(ctx, sql)
			if err != nil {
				return err
			}
			return render(os.Stdout, *output, rs.Columns, rs.Rows)

		case "frame":
			f, err := c.QueryFrame(ctx, sql)
			if err != nil {
				return err
			}
			cols, rows := frameTable(f)
			return render(os.Stdout, *output, cols, rows)

		case "raw":
			raw, err := c.QueryRaw(ctx, sql)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(append(raw, '\n'))
			return err

		default:
			return fmt.Errorf("unknown shape %q (want rows, frame or raw)", *shape)
		}
	})
	if err != nil {
		fatal("query failed: %v", err)
	}
}

// readSQL takes the statement from the positional arguments, falling back to
// stdin so queries can be piped in.
func readSQL(args []string) (string, error) {
	sql := strings.TrimSpace(strings.Join(args, " "))
	if sql != "" {
		return sql, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading query from stdin: %w", err)
	}
	sql = strings.TrimSpace(string(data))
	if sql == "" {
		return "", errors.New("no query given (pass SQL as arguments or on stdin)")
	}
	return sql, nil
}

// frameTable flattens a frame into the column/row shape the renderers take.
func frameTable(f *frame.Frame) ([]string, [][]interface{}) {
	cols := f.Columns()
	rows := make([][]interface{}, f.Len())
	for i := range rows {
		row := make([]interface{}, len(cols))
		for j, name := range cols {
			row[j] = f.Value(name, i)
		}
		rows[i] = row
	}
	return cols, rows
}

func render(w io.Writer, output string, cols []string, rows [][]interface{}) error {
	switch output {
	case "table":
		return renderTable(w, cols, rows)
	case "json":
		return renderJSON(w, cols, rows)
	case "csv":
		return renderCSV(w, cols, rows)
	default:
		return fmt.Errorf("unknown output %q (want table, json or csv)", output)
	}
}

// renderTable prints an aligned table with a row count footer.
func renderTable(w io.Writer, cols []string, rows [][]interface{}) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
	cells := make([]string, len(cols))
	for _, row := range rows {
		for i := range cols {
			cells[i] = ""
			if i < len(row) {
				cells[i] = formatValue(row[i])
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d rows)\n", len(rows))
	return err
}

// renderJSON emits an array of objects keyed by column name.
func renderJSON(w io.Writer, cols []string, rows [][]interface{}) error {
	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		obj := make(map[string]interface{}, len(cols))
		for j, name := range cols {
			if j < len(row) {
				obj[name] = row[j]
			}
		}
		out[i] = obj
	}
	return json.NewEncoder(w).Encode(out)
}

func renderCSV(w io.Writer, cols []string, rows [][]interface{}) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	cells := make([]string, len(cols))
	for _, row := range rows {
		for i := range cols {
			cells[i] = ""
			if i < len(row) {
				cells[i] = formatValue(row[i])
			}
		}
		if err := cw.Write(cells); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// formatValue renders one cell: times as RFC3339Nano, floats in their
// shortest form, nil empty.
func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
