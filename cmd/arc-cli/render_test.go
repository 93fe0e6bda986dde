package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRenderCSV(t *testing.T) {
	var buf bytes.Buffer
	cols := []string{"time", "host", "usage"}
	rows := [][]interface{}{
		{time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), "web-01", 42.5},
		{nil, "web-02", int64(7)},
	}
	if err := renderCSV(&buf, cols, rows); err != nil {
		t.Fatalf("renderCSV: %v", err)
	}
	want := "time,host,usage\n2025-06-01T10:00:00Z,web-01,42.5\n,web-02,7\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	err := renderJSON(&buf, []string{"host", "usage"}, [][]interface{}{{"web-01", 42.5}})
	if err != nil {
		t.Fatalf("renderJSON: %v", err)
	}
	var out []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(out) != 1 || out[0]["host"] != "web-01" || out[0]["usage"] != 42.5 {
		t.Errorf("unexpected output: %v", out)
	}
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	err := renderTable(&buf, []string{"host", "usage"}, [][]interface{}{
		{"web-01", 42.5},
	})
	if err != nil {
		t.Fatalf("renderTable: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "host") || !strings.Contains(out, "42.5") {
		t.Errorf("table missing content:\n%s", out)
	}
	if !strings.Contains(out, "(1 rows)") {
		t.Errorf("table missing footer:\n%s", out)
	}
}

func TestRenderUnknownOutput(t *testing.T) {
	if err := render(&bytes.Buffer{}, "yaml", nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{2.0, "2"},
		{42.5, "42.5"},
		{int64(7), "7"},
		{true, "true"},
		{time.Date(2025, 6, 1, 10, 0, 0, 500, time.UTC), "2025-06-01T10:00:00.0000005Z"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.in); got != tt.want {
			t.Errorf("formatValue(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
