package session

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected is returned by Rotate for every refusal: bad token, unknown,
	// revoked or expired session, or a refresh token that is no longer current.
	ErrRejected = errors.New("refresh rejected")

	// ErrNotFound is returned by Store.Get for an unknown session id.
	ErrNotFound = errors.New("session not found")

	// ErrUnavailable wraps backend faults. Callers treat it as retryable.
	ErrUnavailable = errors.New("session store unavailable")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// RejectReason says why a rotation was refused. It is for logs and metrics
// only; callers must not vary their response by it.
type RejectReason string

const (
	ReasonInvalidToken RejectReason = "invalid_token"
	ReasonNotFound     RejectReason = "not_found"
	ReasonRevoked      RejectReason = "revoked"
	ReasonExpired      RejectReason = "expired"
	ReasonStale        RejectReason = "stale"
)

// RejectedError carries the session a refused refresh token named, when the
// token was authentic enough to tell.
type RejectedError struct {
	SessionID string
	UserID    string
	Reason    RejectReason
}

func (e *RejectedError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("%s: %s", ErrRejected, e.Reason)
	}
	return fmt.Sprintf("%s: %s (session %s)", ErrRejected, e.Reason, e.SessionID)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

func rejected(sessionID, userID string, reason RejectReason) error {
	return &RejectedError{SessionID: sessionID, UserID: userID, Reason: reason}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
