// Package apperr defines the error taxonomy shared by all Arbiter
// components. Errors are classified by Kind, carry a stable short code,
// an optional cause chain, and the correlation ID of the originating
// request.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for propagation policy decisions.
type Kind int

// Error kinds, in rough order of caller fault → system fault.
const (
	KindValidation Kind = iota
	KindUnauthorized
	KindForbidden
	KindRateLimited
	KindNotFound
	KindConflict
	KindUnavailable
	KindTimeout
	KindExhausted
	KindInternal
)

// Code returns the stable short code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindExhausted:
		return "exhausted"
	default:
		return "internal"
	}
}

// Error is the concrete error type used across component boundaries.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string

	// RetryAfter is populated for KindRateLimited so callers can back off.
	RetryAfter time.Duration

	cause error
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind with a cause chain.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithCorrelation returns a copy of the error carrying the correlation ID.
func (e *Error) WithCorrelation(id string) *Error {
	clone := *e
	clone.CorrelationID = id
	return &clone
}

// WithRetryAfter returns a copy of the error carrying the retry-after hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	clone := *e
	clone.RetryAfter = d
	return &clone
}

// Error returns the formatted error message including the stable code.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// Retryable reports whether err may be retried on an idempotent operation.
// Only Unavailable and Timeout qualify; validation and authorization
// failures never do.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}

// CorrelationOf returns the correlation ID attached to err, if any.
func CorrelationOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.CorrelationID
	}
	return ""
}

// RetryAfterOf returns the retry-after hint attached to err, if any.
func RetryAfterOf(err error) time.Duration {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}
