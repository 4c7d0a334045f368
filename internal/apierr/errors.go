// Package apierr defines the error taxonomy shared by the ingestion and
// query APIs. Every error surfaced to a caller carries a machine-readable
// kind; internal detail never leaks beyond the detail string actually set.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable error category returned in error bodies.
type Kind string

const (
	KindMissingField     Kind = "MissingField"
	KindInvalidSeverity  Kind = "InvalidSeverity"
	KindInvalidTimestamp Kind = "InvalidTimestamp"
	KindInvalidArgument  Kind = "InvalidArgument"
	KindDuplicateEvent   Kind = "DuplicateEvent"
	KindOverloaded       Kind = "Overloaded"
	KindTimeout          Kind = "Timeout"
	KindNotFound         Kind = "NotFound"
	KindInternal         Kind = "Internal"
)

// Sentinel errors for errors.Is checks across package boundaries.
var (
	ErrOverloaded = errors.New("apierr: overloaded")
	ErrTimeout    = errors.New("apierr: timeout")
	ErrDuplicate  = errors.New("apierr: duplicate event")
	ErrNotFound   = errors.New("apierr: not found")
)

// Error is a categorized error with optional field context.
type Error struct {
	Kind   Kind
	Field  string // offending field for validation errors, if known
	Detail string
	Err    error // underlying error, not exposed to callers
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a categorized error.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf creates a categorized error with a formatted detail message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// MissingField reports a required field absent from the input.
func MissingField(field string) *Error {
	return &Error{Kind: KindMissingField, Field: field, Detail: "required field is missing"}
}

// InvalidSeverity reports a severity outside the allowed set.
func InvalidSeverity(got string) *Error {
	return &Error{
		Kind:   KindInvalidSeverity,
		Field:  "severity",
		Detail: fmt.Sprintf("%q is not one of Critical, High, Medium, Low, Info", got),
	}
}

// InvalidTimestamp reports an unparsable or out-of-bounds timestamp.
func InvalidTimestamp(detail string) *Error {
	return &Error{Kind: KindInvalidTimestamp, Field: "timestamp", Detail: detail}
}

// InvalidArgument reports a bad query parameter.
func InvalidArgument(detail string) *Error {
	return &Error{Kind: KindInvalidArgument, Detail: detail}
}

// KindOf extracts the Kind from an error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrOverloaded):
		return KindOverloaded
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrDuplicate):
		return KindDuplicateEvent
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}
	return KindInternal
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindMissingField, KindInvalidSeverity, KindInvalidTimestamp, KindInvalidArgument:
		return http.StatusBadRequest
	case KindDuplicateEvent:
		return http.StatusConflict
	case KindOverloaded:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether the caller should retry with backoff.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindOverloaded || k == KindTimeout
}
