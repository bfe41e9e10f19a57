package llm

import (
	"fmt"
	"strings"
)

// maxErrorBody bounds how much of an upstream error body is kept.
const maxErrorBody = 4096

// StatusError is an upstream HTTP failure with the raw response body preserved.
// Providers return it (possibly wrapped) for any non-2xx response so that
// callers can classify the failure without knowing the SDK in use.
type StatusError struct {
	// StatusCode is the HTTP status code returned by the upstream API.
	StatusCode int

	// Body is the (possibly truncated) response body. It may be JSON, plain
	// text, or an HTML page served by a proxy in front of the API.
	Body string

	// Err is the SDK error that reported the failure, if any.
	Err error
}

// NewStatusError builds a StatusError, truncating body to a bounded size.
func NewStatusError(status int, body []byte, err error) *StatusError {
	b := string(body)
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return &StatusError{StatusCode: status, Body: b, Err: err}
}

// Error implements error.
func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if e.Err != nil && msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("llm: upstream status %d: %s", e.StatusCode, msg)
}

// Unwrap returns the underlying SDK error.
func (e *StatusError) Unwrap() error { return e.Err }
