package tokens

import (
	"fmt"
	"time"

	"github.com/appenteng/ai-assistant/cmd/identity/ids"
)

// Kind distinguishes short-lived access tokens from long-lived refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindAccess || k == KindRefresh }

// ClaimSet is the payload carried by every token.
type ClaimSet struct {
	Subject   string // user id
	SessionID string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time

	// ID is a per-token nonce so two tokens minted in the same second differ.
	ID string
}

// Codec signs and verifies ClaimSets.
type Codec interface {
	Issue(c ClaimSet) (string, error)

	// Decode verifies token at instant now.
	// On ErrExpired the returned claims are authentic and populated.
	Decode(token string, now time.Time) (ClaimSet, error)
}

// NewClaimSet builds claims valid from now for ttl, with a fresh nonce.
func NewClaimSet(kind Kind, subject, sessionID string, now time.Time, ttl time.Duration) (ClaimSet, error) {
	if !kind.Valid() {
		return ClaimSet{}, fmt.Errorf("tokens: unknown kind %q", kind)
	}
	now = now.UTC().Truncate(time.Second)

	jti, err := ids.NewULID(now)
	if err != nil {
		return ClaimSet{}, fmt.Errorf("tokens: nonce: %w", err)
	}

	return ClaimSet{
		Subject:   subject,
		SessionID: sessionID,
		Kind:      kind,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl).Truncate(time.Second),
		ID:        jti,
	}, nil
}

func (c ClaimSet) validate() error {
	if c.Subject == "" || c.SessionID == "" || !c.Kind.Valid() {
		return ErrMalformed
	}
	// Every jti this package mints is a ULID.
	if !ids.Valid(c.ID) {
		return ErrMalformed
	}
	if c.IssuedAt.IsZero() || c.ExpiresAt.IsZero() {
		return ErrMalformed
	}
	return nil
}

// expiredAt follows the JWT rule: a token is dead from its exp second onward.
func (c ClaimSet) expiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
