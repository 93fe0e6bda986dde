package models

import (
	"errors"
	"testing"
	"time"

	"github.com/basekick-labs/arc-go/pkg/frame"
)

func metadataFrame() *frame.Frame {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return frame.New().
		AddTimeColumn("time", []time.Time{t0, t0.Add(time.Minute)}).
		AddColumn("host", frame.RoleTag, []interface{}{"web-01", "web-02"}).
		AddColumn("region", frame.RoleTag, []interface{}{"eu", "us"}).
		AddColumn("usage", frame.RoleField, []interface{}{42.5, 38.1}).
		AddColumn("temp", frame.RoleField, []interface{}{21.0, 22.5})
}

func TestBuildFromFrameMetadata(t *testing.T) {
	model, err := NewBuilder().
		Measurement("cpu").
		Frame(metadataFrame()).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if model.Measurement() != "cpu" {
		t.Errorf("unexpected measurement: %s", model.Measurement())
	}
	if !model.IsColumnar() {
		t.Error("expected columnar payload")
	}
	if model.Len() != 2 {
		t.Errorf("expected 2 rows, got %d", model.Len())
	}

	tags := model.Tags()
	if len(tags) != 2 || tags[0] != "host" || tags[1] != "region" {
		t.Errorf("unexpected tags: %v", tags)
	}
	fields := model.Fields()
	if len(fields) != 2 || fields[0] != "usage" || fields[1] != "temp" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestBuildValidation(t *testing.T) {
	recs := []Record{
		NewRecord("", map[string]interface{}{"usage": 1.0}, map[string]string{"host": "a"}, time.Now()),
	}

	tests := []struct {
		name    string
		builder *Builder
		wantErr error
	}{
		{
			name:    "empty measurement",
			builder: NewBuilder().Frame(metadataFrame()),
			wantErr: ErrEmptyMeasurement,
		},
		{
			name:    "whitespace measurement",
			builder: NewBuilder().Measurement("   ").Frame(metadataFrame()),
			wantErr: ErrEmptyMeasurement,
		},
		{
			name:    "no payload",
			builder: NewBuilder().Measurement("cpu"),
			wantErr: ErrNoPayload,
		},
		{
			name:    "both payloads",
			builder: NewBuilder().Measurement("cpu").Frame(metadataFrame()).Records(recs),
			wantErr: ErrPayloadConflict,
		},
		{
			name: "explicit tag not in columns",
			builder: NewBuilder().Measurement("cpu").Frame(metadataFrame()).
				Tags("host", "rack").Fields("usage"),
			wantErr: ErrColumnMismatch,
		},
		{
			name: "explicit field not in columns",
			builder: NewBuilder().Measurement("cpu").Frame(metadataFrame()).
				Tags("host").Fields("watts"),
			wantErr: ErrColumnMismatch,
		},
		{
			name: "tag field overlap",
			builder: NewBuilder().Measurement("cpu").Frame(metadataFrame()).
				Tags("host", "usage").Fields("usage"),
			wantErr: ErrTagFieldOverlap,
		},
		{
			name: "frame without metadata",
			builder: NewBuilder().Measurement("cpu").
				Frame(frame.New().AddColumn("usage", frame.RoleUnset, []interface{}{1.0})),
			wantErr: ErrNoSchema,
		},
		{
			name: "no field columns",
			builder: NewBuilder().Measurement("cpu").
				Frame(frame.New().AddColumn("host", frame.RoleTag, []interface{}{"a"})),
			wantErr: ErrNoFields,
		},
		{
			name: "record without fields",
			builder: NewBuilder().Measurement("cpu").
				Records([]Record{{Tags: map[string]string{"host": "a"}}}),
			wantErr: ErrNoFields,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBuildExplicitColumns(t *testing.T) {
	model, err := NewBuilder().
		Measurement("cpu").
		Frame(metadataFrame()).
		Tags("host").
		Fields("usage").
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if tags := model.Tags(); len(tags) != 1 || tags[0] != "host" {
		t.Errorf("unexpected tags: %v", tags)
	}
	if fields := model.Fields(); len(fields) != 1 || fields[0] != "usage" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestBuildTaglessModel(t *testing.T) {
	model, err := NewBuilder().
		Measurement("cpu").
		Frame(metadataFrame()).
		Tags().
		Fields("usage", "temp").
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(model.Tags()) != 0 {
		t.Errorf("expected no tags, got %v", model.Tags())
	}
}

func TestBuildPartialExplicit(t *testing.T) {
	// Tags explicit, fields classified from metadata
	model, err := NewBuilder().
		Measurement("cpu").
		Frame(metadataFrame()).
		Tags("region").
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if tags := model.Tags(); len(tags) != 1 || tags[0] != "region" {
		t.Errorf("unexpected tags: %v", tags)
	}
	if fields := model.Fields(); len(fields) != 2 || fields[0] != "usage" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestBuildIgnoreColumns(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
	}{
		{"string slice", []string{"region", "temp"}},
		{"interface slice", []interface{}{"region", "temp"}},
		{"comma string", "region, temp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := NewBuilder().
				Measurement("cpu").
				Config(ConfigIgnoreColumns, tt.value).
				Frame(metadataFrame()).
				Build()
			if err != nil {
				t.Fatalf("build failed: %v", err)
			}
			if tags := model.Tags(); len(tags) != 1 || tags[0] != "host" {
				t.Errorf("unexpected tags: %v", tags)
			}
			if fields := model.Fields(); len(fields) != 1 || fields[0] != "usage" {
				t.Errorf("unexpected fields: %v", fields)
			}
		})
	}
}

func TestBuildFromRecords(t *testing.T) {
	recs := []Record{
		NewRecord("", map[string]interface{}{"usage": 1.0, "temp": 20.0}, map[string]string{"host": "a"}, time.Now()),
		NewRecord("", map[string]interface{}{"usage": 2.0}, map[string]string{"region": "eu"}, time.Now()),
	}

	model, err := NewBuilder().Measurement("cpu").Records(recs).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if model.IsColumnar() {
		t.Error("expected record payload")
	}
	tags := model.Tags()
	if len(tags) != 2 || tags[0] != "host" || tags[1] != "region" {
		t.Errorf("unexpected tags: %v", tags)
	}
	fields := model.Fields()
	if len(fields) != 2 || fields[0] != "temp" || fields[1] != "usage" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestBuildRecordsExplicitMismatch(t *testing.T) {
	recs := []Record{
		NewRecord("", map[string]interface{}{"usage": 1.0}, map[string]string{"host": "a"}, time.Now()),
	}

	_, err := NewBuilder().Measurement("cpu").Records(recs).Tags("rack").Build()
	if !errors.Is(err, ErrColumnMismatch) {
		t.Errorf("expected ErrColumnMismatch, got %v", err)
	}
}

func TestModelAccessorsReturnCopies(t *testing.T) {
	model, err := NewBuilder().Measurement("cpu").Frame(metadataFrame()).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	tags := model.Tags()
	tags[0] = "mutated"
	if model.Tags()[0] == "mutated" {
		t.Error("Tags accessor leaked internal slice")
	}

	configs := model.Configs()
	configs["injected"] = true
	if _, ok := model.Configs()["injected"]; ok {
		t.Error("Configs accessor leaked internal map")
	}
}

// Every successful build must yield disjoint tag and field lists, whatever
// combination of explicit and classified columns produced them.
func TestBuildAlwaysDisjoint(t *testing.T) {
	recs := []Record{
		NewRecord("", map[string]interface{}{"usage": 1.0}, map[string]string{"host": "a"}, time.Now()),
	}

	builders := []*Builder{
		NewBuilder().Measurement("m").Frame(metadataFrame()),
		NewBuilder().Measurement("m").Frame(metadataFrame()).Tags("host"),
		NewBuilder().Measurement("m").Frame(metadataFrame()).Fields("usage"),
		NewBuilder().Measurement("m").Frame(metadataFrame()).Tags("usage"),
		NewBuilder().Measurement("m").Frame(metadataFrame()).Tags("host", "region").Fields("usage", "temp"),
		NewBuilder().Measurement("m").Frame(metadataFrame()).Config(ConfigIgnoreColumns, "host"),
		NewBuilder().Measurement("m").Records(recs),
		NewBuilder().Measurement("m").Records(recs).Tags("host").Fields("usage"),
	}

	for i, b := range builders {
		model, err := b.Build()
		if err != nil {
			continue
		}
		seen := make(map[string]bool)
		for _, tag := range model.Tags() {
			seen[tag] = true
		}
		for _, field := range model.Fields() {
			if seen[field] {
				t.Errorf("builder %d produced overlapping column %q", i, field)
			}
		}
	}
}

func TestRecordValidate(t *testing.T) {
	ok := NewRecord("cpu", map[string]interface{}{"usage": 1.0}, nil, time.Now())
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	noMeasurement := NewRecord("", map[string]interface{}{"usage": 1.0}, nil, time.Now())
	if err := noMeasurement.Validate(); !errors.Is(err, ErrEmptyMeasurement) {
		t.Errorf("expected ErrEmptyMeasurement, got %v", err)
	}

	noFields := NewRecord("cpu", nil, nil, time.Now())
	if err := noFields.Validate(); !errors.Is(err, ErrNoFields) {
		t.Errorf("expected ErrNoFields, got %v", err)
	}
}
