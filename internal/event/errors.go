package event

import (
	"errors"
	"fmt"
)

// Common translation error types
var (
	ErrUnknownSchema          = errors.New("unknown invocation event schema")
	ErrMalformedEvent         = errors.New("malformed invocation event")
	ErrMalformedBody          = errors.New("malformed request body")
	ErrMissingForwardedHeader = errors.New("missing forwarded header")
	ErrInvalidURL             = errors.New("invalid request url")
)

// TranslateError represents a failure to turn an invocation event into a request
type TranslateError struct {
	Op    string // Step that failed (e.g., "decode", "body", "url")
	Field string // Event field involved, if any
	Err   error  // Underlying error
}

func (e *TranslateError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("event %s failed for %s: %v", e.Op, e.Field, e.Err)
	}
	return fmt.Sprintf("event %s failed: %v", e.Op, e.Err)
}

func (e *TranslateError) Unwrap() error {
	return e.Err
}

func newTranslateError(op, field string, err error) *TranslateError {
	return &TranslateError{Op: op, Field: field, Err: err}
}
