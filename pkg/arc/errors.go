package arc

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds the client reports. Wrapped with
// fmt.Errorf("%w: ...") so callers branch with errors.Is.
var (
	// ErrNotConnected is returned when a method is called on a closed or
	// zero-value client.
	ErrNotConnected = errors.New("arc: client not connected")

	// ErrConnectionFailed covers transport failures where no HTTP response
	// arrived. Retry candidates.
	ErrConnectionFailed = errors.New("arc: connection failed")

	// ErrWriteFailed covers write requests the server rejected.
	ErrWriteFailed = errors.New("arc: write failed")

	// ErrQueryFailed covers query requests the server rejected and
	// unusable query responses.
	ErrQueryFailed = errors.New("arc: query failed")

	// ErrValidation covers client-side validation failures. Nothing was
	// transmitted; fix or drop the data.
	ErrValidation = errors.New("arc: validation failed")

	// ErrNotImplemented is returned when the server build lacks a
	// requested capability, such as the Arrow query endpoint.
	ErrNotImplemented = errors.New("arc: not implemented")

	// ErrEngineEnvironment is returned by engine entry points invoked
	// outside an Arc Flow task process.
	ErrEngineEnvironment = errors.New("arc: not running under Arc Flow")
)

// maxErrBody caps how much of an error response body is kept.
const maxErrBody = 512

// APIError carries the HTTP response the server answered a failed request
// with. Retrieve it with errors.As from errors wrapping ErrWriteFailed or
// ErrQueryFailed.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

func newAPIError(status int, body []byte) *APIError {
	if len(body) > maxErrBody {
		body = body[:maxErrBody]
	}
	return &APIError{StatusCode: status, Body: string(body)}
}
