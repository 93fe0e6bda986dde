package models

import (
	"errors"
	"testing"
	"time"

	"github.com/basekick-labs/arc-go/pkg/frame"
)

func TestClassify(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	f := frame.New().
		AddTimeColumn("time", []time.Time{t0}).
		AddColumn("host", frame.RoleTag, []interface{}{"web-01"}).
		AddColumn("usage", frame.RoleField, []interface{}{42.5}).
		AddColumn("region", frame.RoleTag, []interface{}{"eu"}).
		AddColumn("debug", frame.RoleIgnore, []interface{}{"x"}).
		AddColumn("note", frame.RoleUnset, []interface{}{"n"})

	tags, fields, err := Classify(f, nil)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}

	if len(tags) != 2 || tags[0] != "host" || tags[1] != "region" {
		t.Errorf("unexpected tags: %v", tags)
	}
	if len(fields) != 1 || fields[0] != "usage" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestClassifyIgnoreList(t *testing.T) {
	f := frame.New().
		AddColumn("host", frame.RoleTag, []interface{}{"a"}).
		AddColumn("region", frame.RoleTag, []interface{}{"eu"}).
		AddColumn("usage", frame.RoleField, []interface{}{1.0}).
		AddColumn("temp", frame.RoleField, []interface{}{2.0})

	tags, fields, err := Classify(f, []string{"region", "temp"})
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if len(tags) != 1 || tags[0] != "host" {
		t.Errorf("unexpected tags: %v", tags)
	}
	if len(fields) != 1 || fields[0] != "usage" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestClassifyNoMetadata(t *testing.T) {
	f := frame.New().
		AddColumn("a", frame.RoleUnset, []interface{}{1.0}).
		AddColumn("b", frame.RoleUnset, []interface{}{2.0})

	_, _, err := Classify(f, nil)
	if !errors.Is(err, ErrNoSchema) {
		t.Errorf("expected ErrNoSchema, got %v", err)
	}
}

func TestClassifyNilFrame(t *testing.T) {
	_, _, err := Classify(nil, nil)
	if !errors.Is(err, ErrNoSchema) {
		t.Errorf("expected ErrNoSchema, got %v", err)
	}
}

func TestClassifyInvalidFrame(t *testing.T) {
	f := frame.New().
		AddColumn("a", frame.RoleField, []interface{}{1.0, 2.0}).
		AddColumn("b", frame.RoleField, []interface{}{1.0})

	_, _, err := Classify(f, nil)
	if !errors.Is(err, ErrColumnMismatch) {
		t.Errorf("expected ErrColumnMismatch, got %v", err)
	}
}

func TestTagAndFieldColumns(t *testing.T) {
	f := frame.New().
		AddColumn("host", frame.RoleTag, []interface{}{"a"}).
		AddColumn("usage", frame.RoleField, []interface{}{1.0})

	tags, err := TagColumns(f, nil)
	if err != nil || len(tags) != 1 || tags[0] != "host" {
		t.Errorf("unexpected tags: %v (err %v)", tags, err)
	}
	fields, err := FieldColumns(f, nil)
	if err != nil || len(fields) != 1 || fields[0] != "usage" {
		t.Errorf("unexpected fields: %v (err %v)", fields, err)
	}
}
