package main

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestReadCSVRecords(t *testing.T) {
	input := `time,host,usage,online,note
2025-06-01T10:00:00Z,web-01,42.5,true,ok
1748772060,web-02,17,false,
`
	recs, err := readCSVRecords(strings.NewReader(input), csvMapping{
		measurement: "cpu",
		timeColumn:  "time",
		tagColumns:  map[string]bool{"host": true},
	})
	if err != nil {
		t.Fatalf("readCSVRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	first := recs[0]
	if first.Measurement != "cpu" {
		t.Errorf("measurement = %q, want cpu", first.Measurement)
	}
	want := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if !first.Time.Equal(want) {
		t.Errorf("time = %v, want %v", first.Time, want)
	}
	if first.Tags["host"] != "web-01" {
		t.Errorf("host tag = %q, want web-01", first.Tags["host"])
	}
	if v, ok := first.Fields["usage"].(float64); !ok || v != 42.5 {
		t.Errorf("usage = %#v, want 42.5", first.Fields["usage"])
	}
	if v, ok := first.Fields["online"].(bool); !ok || !v {
		t.Errorf("online = %#v, want true", first.Fields["online"])
	}
	if first.Fields["note"] != "ok" {
		t.Errorf("note = %#v, want ok", first.Fields["note"])
	}

	second := recs[1]
	if !second.Time.Equal(time.Unix(1748772060, 0)) {
		t.Errorf("epoch time = %v", second.Time)
	}
	if v, ok := second.Fields["usage"].(int64); !ok || v != 17 {
		t.Errorf("usage = %#v, want int64 17", second.Fields["usage"])
	}
	if _, ok := second.Fields["note"]; ok {
		t.Error("empty cell should be skipped")
	}
	if _, ok := second.Fields["host"]; ok {
		t.Error("tag column leaked into fields")
	}
}

func TestReadCSVRecordsErrors(t *testing.T) {
	valid := csvMapping{
		measurement: "cpu",
		timeColumn:  "time",
		tagColumns:  map[string]bool{"host": true},
	}

	tests := []struct {
		name    string
		input   string
		mapping csvMapping
	}{
		{"no measurement", "time,usage\n2025-06-01T10:00:00Z,1\n", csvMapping{timeColumn: "time"}},
		{"empty input", "", valid},
		{"missing time column", "ts,usage\n2025-06-01T10:00:00Z,1\n", valid},
		{"missing tag column", "time,usage\n2025-06-01T10:00:00Z,1\n", valid},
		{"bad timestamp", "time,host,usage\nyesterday,web-01,1\n", valid},
		{"no fields", "time,host,usage\n2025-06-01T10:00:00Z,web-01,\n", valid},
		{"ragged row", "time,host,usage\n2025-06-01T10:00:00Z,web-01,1,extra\n", valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := readCSVRecords(strings.NewReader(tt.input), tt.mapping); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCSVValue(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"3.14", 3.14},
		{"1e3", float64(1000)},
		{"true", true},
		{"False", false},
		{"web-01", "web-01"},
	}
	for _, tt := range tests {
		if got := csvValue(tt.in); got != tt.want {
			t.Errorf("csvValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestParseCSVTime(t *testing.T) {
	at, ok := parseCSVTime("2025-06-01T10:00:00.5Z")
	if !ok || at.Nanosecond() != 500000000 {
		t.Errorf("rfc3339 parse = %v, %v", at, ok)
	}
	at, ok = parseCSVTime("1748772000000")
	if !ok || !at.Equal(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("epoch millis parse = %v, %v", at, ok)
	}
	if _, ok := parseCSVTime("yesterday"); ok {
		t.Error("bad timestamp accepted")
	}
	if _, ok := parseCSVTime(""); ok {
		t.Error("empty timestamp accepted")
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"host", []string{"host"}},
		{"host, region ,", []string{"host", "region"}},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}
