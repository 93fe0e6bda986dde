package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/basekick-labs/arc-go/pkg/frame"
	"github.com/basekick-labs/arc-go/pkg/models"
)

// csvMapping describes how CSV columns become record parts: one column holds
// the timestamp, listed columns become tags, everything else becomes fields.
type csvMapping struct {
	measurement string
	timeColumn  string
	tagColumns  map[string]bool
}

// readCSVRecords converts CSV rows into records. The first row is the
// header. Empty cells are skipped; rows whose cells are all empty or tags
// are rejected since a record needs at least one field.
func readCSVRecords(r io.Reader, m csvMapping) ([]models.Record, error) {
	if m.measurement == "" {
		return nil, errors.New("csv input needs -measurement")
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv input is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	timeIdx := slices.Index(header, m.timeColumn)
	if timeIdx < 0 {
		return nil, fmt.Errorf("csv header has no %q column", m.timeColumn)
	}
	for name := range m.tagColumns {
		if !slices.Contains(header, name) {
			return nil, fmt.Errorf("csv header has no tag column %q", name)
		}
	}

	var recs []models.Record
	for row := 2; ; row++ {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}

		at, ok := parseCSVTime(cells[timeIdx])
		if !ok {
			return nil, fmt.Errorf("csv row %d: bad timestamp %q", row, cells[timeIdx])
		}

		rec := models.Record{
			Measurement: m.measurement,
			Time:        at,
			Fields:      make(map[string]interface{}),
		}
		for i, name := range header {
			if i == timeIdx || i >= len(cells) {
				continue
			}
			val := strings.TrimSpace(cells[i])
			if val == "" {
				continue
			}
			if m.tagColumns[name] {
				if rec.Tags == nil {
					rec.Tags = make(map[string]string)
				}
				rec.Tags[name] = val
				continue
			}
			rec.Fields[name] = csvValue(val)
		}
		if len(rec.Fields) == 0 {
			return nil, fmt.Errorf("csv row %d has no field values", row)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// parseCSVTime accepts RFC3339 timestamps or epoch numbers, scaled by
// magnitude the way the wire decoder scales them.
func parseCSVTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return frame.AsTime(n)
	}
	return frame.AsTime(s)
}

// csvValue types a cell the way line protocol would: integers first so "0"
// stays an int, booleans only for the literal words, else string.
func csvValue(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
