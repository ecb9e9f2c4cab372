package session

import (
	"context"
	"time"
)

// Revocation reasons recorded on the session.
const (
	RevokeLogout         = "logout"
	RevokeLogoutAll      = "logout_all"
	RevokeReuse          = "refresh_reuse"
	RevokePasswordChange = "password_change"
	RevokeDeactivated    = "deactivated"
)

// Record is the persisted state of one session.
type Record struct {
	ID     string
	UserID string

	// Digests of the current access and refresh token strings.
	AccessDigest  string
	RefreshDigest string

	IssuedAt  time.Time
	RotatedAt *time.Time

	// ExpiresAt tracks the current refresh token's expiry.
	ExpiresAt time.Time

	RevokedAt        *time.Time
	RevocationReason string
}

// LiveAt reports whether the session is neither revoked nor expired at now.
func (r Record) LiveAt(now time.Time) bool {
	return r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

// RotateInput is one compare-and-swap on a session's refresh digest.
type RotateInput struct {
	SessionID string
	UserID    string

	// PresentedDigest must equal the stored refresh digest for the swap to happen.
	PresentedDigest string

	NewAccessDigest  string
	NewRefreshDigest string
	NewExpiresAt     time.Time
	Now              time.Time
}

// Store persists session records.
//
// Rotate must be atomic: of any number of concurrent calls presenting the same
// digest, at most one succeeds. Refusals are returned as *RejectedError.
// Backend faults wrap ErrUnavailable.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, sessionID string) (Record, error)
	Rotate(ctx context.Context, in RotateInput) error

	// Revoke is idempotent; revoking a missing or already revoked session is not an error.
	Revoke(ctx context.Context, sessionID, reason string, now time.Time) error
	RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int, error)

	// DeleteStale removes records revoked or expired before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int, error)
}

// classify explains why a CAS on rec failed. ok is true when the swap may proceed.
func classify(rec Record, in RotateInput, matches func(a, b string) bool) (RejectReason, bool) {
	switch {
	case rec.UserID != in.UserID:
		return ReasonNotFound, false
	case rec.RevokedAt != nil:
		return ReasonRevoked, false
	case !in.Now.Before(rec.ExpiresAt):
		return ReasonExpired, false
	case !matches(rec.RefreshDigest, in.PresentedDigest):
		return ReasonStale, false
	}
	return "", true
}
