package authn

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrMalformed    = errors.New("malformed token")
	ErrInactive     = errors.New("user inactive")
	ErrConflict     = errors.New("conflict")
	ErrWeakPassword = errors.New("weak password")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")

	// ErrUnavailable marks retryable storage faults.
	ErrUnavailable = errors.New("auth backend unavailable")
)

// Error is the typed outcome of a failed Service call.
type Error struct {
	Op   string
	Kind error

	// RetryAfter is set for ErrRateLimited.
	RetryAfter time.Duration

	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.cause)
}

// Unwrap exposes the kind, the kinds it implies and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	switch e.Kind {
	case ErrMalformed, ErrInactive:
		errs = append(errs, ErrUnauthorized)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

func fail(op string, kind error, cause error) error {
	return &Error{Op: op, Kind: kind, cause: cause}
}

func unauthorized(op string) error {
	return &Error{Op: op, Kind: ErrUnauthorized}
}

func unavailable(op string, cause error) error {
	return &Error{Op: op, Kind: ErrUnavailable, cause: cause}
}

// KindOf returns the Kind of err, or nil when err is not an *Error.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
