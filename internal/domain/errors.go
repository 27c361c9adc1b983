package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleResponse marks a response whose load cycle was superseded by a
	// reset. It is an expected race outcome, not a user-visible failure.
	ErrStaleResponse = errors.New("stale response")

	// ErrStaleWrite is returned when a page is merged into a feed that no
	// longer exists (never created, deleted or evicted).
	ErrStaleWrite = errors.New("no feed entry for query key")

	// ErrInvalidPageSequence is returned when a page is merged out of order.
	// It indicates a programming error in the caller.
	ErrInvalidPageSequence = errors.New("invalid page sequence")

	// ErrLocationUnavailable is returned by geo feeds when no device
	// coordinates could be acquired.
	ErrLocationUnavailable = errors.New("location unavailable")
)

// FetchErrorKind distinguishes transport failures from backend failures.
type FetchErrorKind string

const (
	FetchNetwork FetchErrorKind = "network"
	FetchServer  FetchErrorKind = "server"
)

// FetchError is a failure of the page-fetching collaborator.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int // set for server errors with an HTTP status
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch error: status %d: %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch error: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether retrying the same request may succeed.
// Network errors and 5xx/429 responses are retryable; other 4xx are not.
func (e *FetchError) Retryable() bool {
	if e.Kind == FetchNetwork {
		return true
	}
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// AsFetchError returns err as a *FetchError, wrapping unknown errors as
// network errors.
func AsFetchError(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Kind: FetchNetwork, Err: err}
}

// LocationReason explains why a location request failed.
type LocationReason string

const (
	ReasonPermissionDenied LocationReason = "permission_denied"
	ReasonUnavailable      LocationReason = "unavailable"
	ReasonTimeout          LocationReason = "timeout"
	ReasonUnsupported      LocationReason = "unsupported"
)

// LocationError is a failed location acquisition. It matches
// ErrLocationUnavailable with errors.Is.
type LocationError struct {
	Reason LocationReason
	Err    error
}

func (e *LocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("location unavailable (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("location unavailable (%s)", e.Reason)
}

func (e *LocationError) Unwrap() error { return e.Err }

func (e *LocationError) Is(target error) bool { return target == ErrLocationUnavailable }

// ValidationError is an invalid caller-supplied parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
