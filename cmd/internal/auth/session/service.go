package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/appenteng/ai-assistant/cmd/identity/ids"
	"github.com/appenteng/ai-assistant/cmd/internal/auth/tokens"
	"github.com/appenteng/ai-assistant/cmd/security/token"
)

// maxTokenLen bounds presented token strings before any parsing.
const maxTokenLen = 4096

// Service issues, rotates and revokes sessions.
//
// Token strings never reach the Store; only their digests do. Rotation is a
// compare-and-swap on the refresh digest, so a refresh token works once.
type Service struct {
	cfg      Config
	store    Store
	codec    tokens.Codec
	digester token.Digester
	log      *slog.Logger
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Issued is the result of creating or rotating a session.
type Issued struct {
	SessionID string
	UserID    string

	AccessToken  string
	RefreshToken string

	Access  tokens.ClaimSet
	Refresh tokens.ClaimSet
}

// NewService wires a Service. logger may be nil.
func NewService(cfg Config, store Store, codec tokens.Codec, digester token.Digester, logger *slog.Logger, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || codec == nil {
		return nil, fmt.Errorf("%w: store and codec are required", ErrConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:      cfg,
		store:    store,
		codec:    codec,
		digester: digester,
		log:      logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the lifetimes the service issues tokens with.
func (s *Service) Config() Config { return s.cfg }

// Create starts a new session for userID and returns its first token pair.
func (s *Service) Create(ctx context.Context, userID string) (Issued, error) {
	if strings.TrimSpace(userID) == "" {
		return Issued{}, errors.New("session: empty user id")
	}
	now := s.now().UTC()

	sessionID, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, fmt.Errorf("session: id: %w", err)
	}

	out, err := s.mint(userID, sessionID, now)
	if err != nil {
		return Issued{}, err
	}

	rec := Record{
		ID:            sessionID,
		UserID:        userID,
		AccessDigest:  s.digester.Digest(out.AccessToken),
		RefreshDigest: s.digester.Digest(out.RefreshToken),
		IssuedAt:      out.Refresh.IssuedAt,
		ExpiresAt:     out.Refresh.ExpiresAt,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return Issued{}, err
	}

	s.log.Info("session.create", "session_id", sessionID, "user_id", userID)
	return out, nil
}

// Rotate exchanges a refresh token for a new access and refresh token on the
// same session. Every refusal is a *RejectedError matching ErrRejected; store
// faults match ErrUnavailable.
func (s *Service) Rotate(ctx context.Context, refresh string) (Issued, error) {
	now := s.now().UTC()

	refresh = strings.TrimSpace(refresh)
	if refresh == "" || len(refresh) > maxTokenLen {
		return Issued{}, s.reject(rejected("", "", ReasonInvalidToken))
	}

	claims, err := s.codec.Decode(refresh, now)
	switch {
	case errors.Is(err, tokens.ErrExpired):
		return Issued{}, s.reject(rejected(claims.SessionID, claims.Subject, ReasonExpired))
	case err != nil:
		return Issued{}, s.reject(rejected("", "", ReasonInvalidToken))
	case claims.Kind != tokens.KindRefresh:
		return Issued{}, s.reject(rejected(claims.SessionID, claims.Subject, ReasonInvalidToken))
	}

	out, err := s.mint(claims.Subject, claims.SessionID, now)
	if err != nil {
		return Issued{}, err
	}

	err = s.store.Rotate(ctx, RotateInput{
		SessionID:        claims.SessionID,
		UserID:           claims.Subject,
		PresentedDigest:  s.digester.Digest(refresh),
		NewAccessDigest:  s.digester.Digest(out.AccessToken),
		NewRefreshDigest: s.digester.Digest(out.RefreshToken),
		NewExpiresAt:     out.Refresh.ExpiresAt,
		Now:              now,
	})
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return Issued{}, s.reject(err)
		}
		return Issued{}, err
	}

	s.log.Info("session.rotate", "session_id", claims.SessionID, "user_id", claims.Subject)
	return out, nil
}

func (s *Service) reject(err error) error {
	var re *RejectedError
	if errors.As(err, &re) {
		s.log.Warn("session.rotate.rejected",
			"session_id", re.SessionID,
			"user_id", re.UserID,
			"reason", string(re.Reason),
		)
	}
	return err
}

// Revoke marks the session dead. Unknown and already revoked sessions are fine.
func (s *Service) Revoke(ctx context.Context, sessionID, reason string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.store.Revoke(ctx, sessionID, reason, s.now().UTC()); err != nil {
		return err
	}
	s.log.Info("session.revoke", "session_id", sessionID, "reason", reason)
	return nil
}

// RevokeAllForUser revokes every live session of userID and reports how many.
func (s *Service) RevokeAllForUser(ctx context.Context, userID, reason string) (int, error) {
	n, err := s.store.RevokeAllForUser(ctx, userID, reason, s.now().UTC())
	if err != nil {
		return n, err
	}
	s.log.Info("session.revoke_all", "user_id", userID, "reason", reason, "count", n)
	return n, nil
}

// IsLive reports whether the session exists and is neither revoked nor expired.
func (s *Service) IsLive(ctx context.Context, sessionID string) (bool, error) {
	rec, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.LiveAt(s.now().UTC()), nil
}

// Sweep deletes records that died more than SweepRetention ago.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.cfg.SweepRetention)
	n, err := s.store.DeleteStale(ctx, cutoff)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.log.Info("session.sweep", "deleted", n)
	}
	return n, nil
}

func (s *Service) mint(userID, sessionID string, now time.Time) (Issued, error) {
	access, err := tokens.NewClaimSet(tokens.KindAccess, userID, sessionID, now, s.cfg.AccessTTL)
	if err != nil {
		return Issued{}, err
	}
	refresh, err := tokens.NewClaimSet(tokens.KindRefresh, userID, sessionID, now, s.cfg.RefreshTTL)
	if err != nil {
		return Issued{}, err
	}

	accessStr, err := s.codec.Issue(access)
	if err != nil {
		return Issued{}, fmt.Errorf("session: issue access: %w", err)
	}
	refreshStr, err := s.codec.Issue(refresh)
	if err != nil {
		return Issued{}, fmt.Errorf("session: issue refresh: %w", err)
	}

	return Issued{
		SessionID:    sessionID,
		UserID:       userID,
		AccessToken:  accessStr,
		RefreshToken: refreshStr,
		Access:       access,
		Refresh:      refresh,
	}, nil
}
