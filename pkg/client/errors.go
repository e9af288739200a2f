package client

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled while
	// a fetch is waiting or retrying.
	ErrContextCancelled = errors.New("context cancelled")
)

// APIError represents an application-level error: the server answered but
// reported a non-zero status code.
type APIError struct {
	Endpoint string
	Code     int
	Message  string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned error %d: %s", e.Endpoint, e.Code, e.Message)
}

// RequestFailedError is returned when a page request exhausted its retry
// budget. It carries the endpoint name and the final underlying error.
type RequestFailedError struct {
	Endpoint string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request to %s failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestFailedError) Unwrap() error {
	return e.Err
}

// ProbeError is returned when limit discovery hits an unexpected error that
// the probe's default-value fallback does not swallow.
type ProbeError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	return fmt.Sprintf("limit probe for %s failed: %v", e.Endpoint, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Application status codes worth retrying. Anything else reported by the
// server is treated as permanent (bad parameters, permissions and the like).
const (
	codeGenericError       = -1
	codeRateExceeded       = 40203
	codeInternalError      = 500
	codeServiceUnavailable = 503
)

// shouldRetry reports whether an application status code is transient.
// Transport-level errors are always retryable and never reach this check.
func shouldRetry(code int) bool {
	switch code {
	case codeGenericError, codeRateExceeded, codeInternalError, codeServiceUnavailable:
		return true
	default:
		return false
	}
}

// isOffsetOutOfRange reports whether an error says the requested offset lies
// beyond the endpoint's data. Concurrent pagination treats such a page as an
// empty success rather than a hard failure.
func isOffsetOutOfRange(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "offset") || strings.Contains(msg, "超出范围")
}
