package domain

import (
	"errors"
	"fmt"
)

// Store failure kinds. NotFound is an expected outcome, not a fault.
var (
	ErrNotFound        = errors.New("document not found")
	ErrUnauthenticated = errors.New("missing or rejected credential")
	ErrConflict        = errors.New("version conflict")
	ErrTransport       = errors.New("transport failure")
)

// Workflow rejections.
var (
	ErrNoSession        = errors.New("no active session")
	ErrAlreadyBorrowed  = errors.New("user already holds an umbrella")
	ErrNotBorrowed      = errors.New("user holds no umbrella")
	ErrPointNotFound    = errors.New("point not found")
	ErrNoUmbrellas      = errors.New("no umbrellas available at point")
	ErrWrongReturnPoint = errors.New("umbrella must be returned to the point it was borrowed from")
	ErrInvalidIdentity  = errors.New("invalid phone or student id")
)

// StoreError describes a failed document store operation.
type StoreError struct {
	Op         string // "get" or "put"
	Key        string
	Kind       error // one of ErrNotFound, ErrUnauthenticated, ErrConflict, ErrTransport
	StatusCode int   // 0 when no HTTP response was received
	Err        error
}

func (e *StoreError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Kind)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsRetryable reports whether a store failure may succeed on a fresh attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTransport)
}
