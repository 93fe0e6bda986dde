package models

import (
	"fmt"

	"github.com/basekick-labs/arc-go/pkg/frame"
)

// Classify derives the tag and field column names of a frame from its
// column metadata, in payload column order. Columns named in ignore are
// skipped, as are time columns and columns with the ignore role. Columns
// without a role are left unclassified.
//
// Fails with ErrNoSchema when no column carries any metadata at all.
func Classify(f *frame.Frame, ignore []string) (tags, fields []string, err error) {
	if f == nil {
		return nil, nil, fmt.Errorf("%w: nil frame", ErrNoSchema)
	}
	if err := f.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrColumnMismatch, err)
	}
	if !f.HasMetadata() {
		return nil, nil, ErrNoSchema
	}

	ignored := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		ignored[name] = true
	}

	tags = []string{}
	fields = []string{}
	for _, c := range f.Cols() {
		if ignored[c.Name] {
			continue
		}
		switch c.Role {
		case frame.RoleTag:
			tags = append(tags, c.Name)
		case frame.RoleField:
			fields = append(fields, c.Name)
		}
	}
	return tags, fields, nil
}

// TagColumns returns only the tag side of Classify
func TagColumns(f *frame.Frame, ignore []string) ([]string, error) {
	tags, _, err := Classify(f, ignore)
	return tags, err
}

// FieldColumns returns only the field side of Classify
func FieldColumns(f *frame.Frame, ignore []string) ([]string, error) {
	_, fields, err := Classify(f, ignore)
	return fields, err
}
