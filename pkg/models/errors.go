package models

import "errors"

// Sentinel errors for model construction and classification. Callers check
// them with errors.Is for differentiated handling:
//
//	if errors.Is(err, models.ErrNoSchema) {
//	    // supply explicit tags/fields instead
//	}
var (
	// ErrEmptyMeasurement is returned when the measurement name is empty
	ErrEmptyMeasurement = errors.New("models: measurement name is empty")

	// ErrNoPayload is returned when Build is called with neither a frame
	// nor a record payload
	ErrNoPayload = errors.New("models: no payload set")

	// ErrPayloadConflict is returned when both a frame and a record
	// payload were set; exactly one is allowed
	ErrPayloadConflict = errors.New("models: frame and record payloads are mutually exclusive")

	// ErrColumnMismatch is returned when explicit tag or field names do
	// not match the payload's columns
	ErrColumnMismatch = errors.New("models: tags/fields do not match payload columns")

	// ErrTagFieldOverlap is returned when a column is listed both as a
	// tag and as a field
	ErrTagFieldOverlap = errors.New("models: tag and field lists overlap")

	// ErrNoSchema is returned when classification is requested on a
	// payload that carries no column metadata
	ErrNoSchema = errors.New("models: payload carries no column metadata")

	// ErrNoFields is returned when a model or record ends up with no
	// field columns to write
	ErrNoFields = errors.New("models: no field columns")
)
