package models

import (
	"fmt"
	"time"
)

// Record represents a single time-series data point in row form. This is
// the shape WriteRecords transmits and the shape the builder accepts as a
// row-oriented payload.
type Record struct {
	Measurement string                 `json:"measurement"`
	Time        time.Time              `json:"time"`
	Fields      map[string]interface{} `json:"fields"`
	Tags        map[string]string      `json:"tags,omitempty"`
}

// NewRecord creates a record stamped with the given time. A zero time is
// filled in at encode time.
func NewRecord(measurement string, fields map[string]interface{}, tags map[string]string, t time.Time) Record {
	return Record{
		Measurement: measurement,
		Time:        t,
		Fields:      fields,
		Tags:        tags,
	}
}

// Validate checks the record can be transmitted
func (r *Record) Validate() error {
	if r.Measurement == "" {
		return fmt.Errorf("%w: record has no measurement", ErrEmptyMeasurement)
	}
	if len(r.Fields) == 0 {
		return fmt.Errorf("%w: record %q has no fields", ErrNoFields, r.Measurement)
	}
	return nil
}
