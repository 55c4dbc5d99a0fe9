// Package errs defines the error taxonomy shared by the recommendation core.
//
// The classification drives retry behavior: validation and permanent provider
// errors are never retried, transient errors are retried with backoff up to a
// bounded count, and resource exhaustion tells the caller to apply
// backpressure instead of queuing further work.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and propagation decisions.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation marks bad caller input (e.g. dimension mismatch).
	KindValidation
	// KindTransient marks timeouts and rate limits worth retrying.
	KindTransient
	// KindPermanentProvider marks content the provider rejected for good.
	KindPermanentProvider
	// KindResourceExhausted marks a full pool or queue; caller should back off.
	KindResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindPermanentProvider:
		return "permanent_provider"
	case KindResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the classification of the error.
func (e *Error) Kind() Kind { return e.kind }

// Validation wraps err as a validation error.
func Validation(format string, args ...any) error {
	return &Error{kind: KindValidation, err: fmt.Errorf(format, args...)}
}

// Transient wraps err as a retryable error.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: KindTransient, err: err}
}

// PermanentProvider wraps err as a non-retryable provider rejection.
func PermanentProvider(err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: KindPermanentProvider, err: err}
}

// ResourceExhausted wraps err as a backpressure signal.
func ResourceExhausted(format string, args ...any) error {
	return &Error{kind: KindResourceExhausted, err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsPermanentProvider reports whether the provider rejected the content.
func IsPermanentProvider(err error) bool { return KindOf(err) == KindPermanentProvider }

// IsResourceExhausted reports whether err is a backpressure signal.
func IsResourceExhausted(err error) bool { return KindOf(err) == KindResourceExhausted }
