package authn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/appenteng/ai-assistant/cmd/identity"
	"github.com/appenteng/ai-assistant/cmd/internal/auth/session"
	"github.com/appenteng/ai-assistant/cmd/internal/auth/tokens"
	"github.com/appenteng/ai-assistant/cmd/security/password"
)

const dummySecret = "dummy-password-for-timing-only"

// PasswordHasher is satisfied by *password.Hasher.
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) bool
	NeedsRehash(encoded string) bool
}

// Sessions is satisfied by *session.Service.
type Sessions interface {
	Create(ctx context.Context, userID string) (session.Issued, error)
	Rotate(ctx context.Context, refresh string) (session.Issued, error)
	Revoke(ctx context.Context, sessionID, reason string) error
	RevokeAllForUser(ctx context.Context, userID, reason string) (int, error)
	IsLive(ctx context.Context, sessionID string) (bool, error)
}

// Deps are the collaborators a Service orchestrates.
type Deps struct {
	Users    identity.Store
	Hasher   PasswordHasher
	Policy   password.Policy
	Codec    tokens.Codec
	Sessions Sessions
}

// Session is an issued access/refresh pair.
type Session struct {
	UserID    string
	SessionID string

	AccessToken     string
	AccessExpiresAt time.Time

	RefreshToken     string
	RefreshExpiresAt time.Time
}

// CurrentUser is the identity a valid access token resolves to.
type CurrentUser struct {
	UserID    string
	Username  string
	IsActive  bool
	SessionID string
}

// RegisterInput is a new account request.
type RegisterInput struct {
	Email    string
	Username string
	Password string
	FullName *string
}

// Service implements the authentication flows.
type Service struct {
	users    identity.Store
	hasher   PasswordHasher
	policy   password.Policy
	codec    tokens.Codec
	sessions Sessions

	throttle Throttle
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time

	dummyHash string
}

// Option customizes a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithThrottle enables login failure throttling.
func WithThrottle(t Throttle) Option {
	return func(s *Service) {
		if t != nil {
			s.throttle = t
		}
	}
}

// WithClock replaces time.Now. Pass the same clock to the session service.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService validates deps and precomputes the hash used to equalize login
// timing for unknown identifiers.
func NewService(d Deps, opts ...Option) (*Service, error) {
	if d.Users == nil || d.Hasher == nil || d.Codec == nil || d.Sessions == nil {
		return nil, errors.New("authn: users, hasher, codec and sessions are required")
	}

	s := &Service{
		users:    d.Users,
		hasher:   d.Hasher,
		policy:   d.Policy,
		codec:    d.Codec,
		sessions: d.Sessions,
		throttle: noThrottle{},
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	dummy, err := s.hasher.Hash(dummySecret)
	if err != nil {
		return nil, fmt.Errorf("authn: dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Register creates an account. It does not log the user in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (identity.User, error) {
	const op = "auth.register"

	if err := identity.ValidateEmail(in.Email); err != nil {
		return identity.User{}, fail(op, ErrInvalidInput, err)
	}
	if err := identity.ValidateUsername(in.Username); err != nil {
		return identity.User{}, fail(op, ErrInvalidInput, err)
	}
	if err := s.policy.Validate(in.Password); err != nil {
		return identity.User{}, fail(op, ErrWeakPassword, err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return identity.User{}, fail(op, ErrInvalidInput, err)
	}

	u, err := s.users.CreateUser(ctx, identity.CreateUserInput{
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
		FullName:     in.FullName,
		Now:          s.now().UTC(),
	})
	switch {
	case err == nil:
	case identity.IsStoreFault(err):
		return identity.User{}, unavailable(op, err)
	case identity.IsConflict(err):
		return identity.User{}, fail(op, ErrConflict, err)
	default:
		return identity.User{}, fail(op, ErrInvalidInput, err)
	}

	s.log.Info("auth.register.ok", "user_id", u.ID)
	return u, nil
}

// Login verifies credentials and starts a session. Unknown identifiers,
// wrong secrets and inactive users are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, identifier, secret string) (Session, error) {
	const op = "auth.login"

	identifier = strings.TrimSpace(identifier)
	byEmail := identity.LooksLikeEmail(identifier)
	key := identity.NormalizeUsername(identifier)
	if byEmail {
		key = identity.NormalizeEmail(identifier)
	}
	if key == "" || secret == "" {
		s.metrics.login(outcomeFailure)
		return Session{}, unauthorized(op)
	}

	retryAfter, err := s.throttle.Blocked(ctx, key)
	if err != nil {
		s.metrics.login(outcomeError)
		return Session{}, unavailable(op, err)
	}
	if retryAfter > 0 {
		s.metrics.login(outcomeRateLimited)
		s.log.Warn("auth.login.rate_limited", "retry_after", retryAfter)
		return Session{}, &Error{Op: op, Kind: ErrRateLimited, RetryAfter: retryAfter}
	}

	var u identity.User
	if byEmail {
		u, err = s.users.GetUserByEmail(ctx, identifier)
	} else {
		u, err = s.users.GetUserByUsername(ctx, identifier)
	}
	// A lookup the store rejects as invalid counts as an unknown identifier.
	if identity.IsStoreFault(err) {
		s.metrics.login(outcomeError)
		return Session{}, unavailable(op, err)
	}

	found := err == nil
	hash := s.dummyHash
	if found {
		hash = u.PasswordHash
	}
	start := time.Now()
	ok := s.hasher.Verify(secret, hash)
	s.metrics.verified(start)

	reason := ""
	switch {
	case !found:
		reason = "unknown_identifier"
	case !ok:
		reason = "bad_password"
	case !u.IsActive:
		reason = "inactive"
	}
	if reason != "" {
		if ferr := s.throttle.Fail(ctx, key); ferr != nil {
			s.log.Error("auth.login.throttle.fail", "err", ferr)
		}
		s.metrics.login(outcomeFailure)
		s.log.Info("auth.login.fail", "reason", reason, "user_id", u.ID)
		return Session{}, unauthorized(op)
	}

	issued, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		s.metrics.login(outcomeError)
		return Session{}, unavailable(op, err)
	}

	if err := s.throttle.Reset(ctx, key); err != nil {
		s.log.Error("auth.login.throttle.fail", "err", err)
	}
	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		s.log.Warn("auth.login.touch.fail", "user_id", u.ID, "err", err)
	}
	s.upgradeHash(ctx, u, secret, now)

	s.metrics.login(outcomeSuccess)
	s.log.Info("auth.login.ok", "user_id", u.ID, "session_id", issued.SessionID)
	return toSession(issued), nil
}

// upgradeHash re-hashes secret when the stored hash predates the current
// cost parameters. Failures only cost the upgrade.
func (s *Service) upgradeHash(ctx context.Context, u identity.User, secret string, now time.Time) {
	if !s.hasher.NeedsRehash(u.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		s.log.Warn("auth.login.rehash.fail", "user_id", u.ID, "err", err)
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, u.ID, hash, now); err != nil {
		s.log.Warn("auth.login.rehash.fail", "user_id", u.ID, "err", err)
		return
	}
	s.log.Info("auth.login.rehash", "user_id", u.ID)
}

// Refresh rotates a refresh token. A rejected token revokes its session:
// whoever presents a stale token, the legitimate holder or a thief, ends it.
func (s *Service) Refresh(ctx context.Context, refresh string) (Session, error) {
	const op = "auth.refresh"

	claims, err := s.decode(op, refresh, tokens.KindRefresh)
	if err != nil {
		s.metrics.refresh(outcomeFailure)
		return Session{}, err
	}

	issued, err := s.sessions.Rotate(ctx, refresh)
	if err == nil {
		s.metrics.refresh(outcomeSuccess)
		return toSession(issued), nil
	}
	if !errors.Is(err, session.ErrRejected) {
		s.metrics.refresh(outcomeError)
		return Session{}, unavailable(op, err)
	}

	if rerr := s.sessions.Revoke(ctx, claims.SessionID, session.RevokeReuse); rerr != nil {
		s.log.Error("auth.refresh.revoke.fail", "session_id", claims.SessionID, "err", rerr)
	}
	s.metrics.refresh(outcomeFailure)
	s.metrics.reuse()
	s.log.Warn("auth.refresh.reuse", "session_id", claims.SessionID, "user_id", claims.Subject)
	return Session{}, fail(op, ErrUnauthorized, err)
}

// Authenticate resolves an access token to the user behind it.
func (s *Service) Authenticate(ctx context.Context, access string) (CurrentUser, error) {
	const op = "auth.authenticate"

	cu, err := s.authenticate(ctx, op, access)
	switch {
	case err == nil:
		s.metrics.authenticate(outcomeSuccess)
	case errors.Is(err, ErrUnavailable):
		s.metrics.authenticate(outcomeError)
	default:
		s.metrics.authenticate(outcomeFailure)
	}
	return cu, err
}

func (s *Service) authenticate(ctx context.Context, op, access string) (CurrentUser, error) {
	claims, err := s.decode(op, access, tokens.KindAccess)
	if err != nil {
		return CurrentUser{}, err
	}

	live, err := s.sessions.IsLive(ctx, claims.SessionID)
	if err != nil {
		return CurrentUser{}, unavailable(op, err)
	}
	if !live {
		return CurrentUser{}, unauthorized(op)
	}

	u, err := s.users.GetUserByID(ctx, claims.Subject)
	switch {
	case identity.IsNotFound(err):
		return CurrentUser{}, unauthorized(op)
	case err != nil:
		return CurrentUser{}, unavailable(op, err)
	case !u.IsActive:
		return CurrentUser{}, fail(op, ErrInactive, nil)
	}

	return CurrentUser{
		UserID:    u.ID,
		Username:  u.Username,
		IsActive:  u.IsActive,
		SessionID: claims.SessionID,
	}, nil
}

// Logout revokes the session named by token. Undecodable, expired and already
// revoked tokens all succeed; only a storage fault is reported.
func (s *Service) Logout(ctx context.Context, token string) error {
	const op = "auth.logout"

	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	claims, err := s.codec.Decode(token, s.now().UTC())
	if err != nil && !errors.Is(err, tokens.ErrExpired) {
		return nil
	}

	if err := s.sessions.Revoke(ctx, claims.SessionID, session.RevokeLogout); err != nil {
		return unavailable(op, err)
	}
	s.log.Info("auth.logout", "session_id", claims.SessionID, "user_id", claims.Subject)
	return nil
}

// LogoutAll revokes every session of the token's owner. The token must be valid.
func (s *Service) LogoutAll(ctx context.Context, access string) (int, error) {
	const op = "auth.logout_all"

	cu, err := s.authenticate(ctx, op, access)
	if err != nil {
		return 0, err
	}
	n, err := s.sessions.RevokeAllForUser(ctx, cu.UserID, session.RevokeLogoutAll)
	if err != nil {
		return 0, unavailable(op, err)
	}
	s.log.Info("auth.logout_all", "user_id", cu.UserID, "count", n)
	return n, nil
}

// ChangePassword replaces the user's password and revokes all their sessions.
func (s *Service) ChangePassword(ctx context.Context, userID, oldSecret, newSecret string) error {
	const op = "auth.change_password"

	u, err := s.users.GetUserByID(ctx, userID)
	switch {
	case identity.IsNotFound(err):
		s.hasher.Verify(oldSecret, s.dummyHash)
		return unauthorized(op)
	case err != nil:
		return unavailable(op, err)
	}

	if !s.hasher.Verify(oldSecret, u.PasswordHash) {
		s.log.Info("auth.change_password.fail", "user_id", u.ID, "reason", "bad_password")
		return unauthorized(op)
	}
	if !u.IsActive {
		return fail(op, ErrInactive, nil)
	}
	if err := s.policy.Validate(newSecret); err != nil {
		return fail(op, ErrWeakPassword, err)
	}

	hash, err := s.hasher.Hash(newSecret)
	if err != nil {
		return fail(op, ErrInvalidInput, err)
	}
	if err := s.users.UpdatePasswordHash(ctx, u.ID, hash, s.now().UTC()); err != nil {
		if identity.IsNotFound(err) {
			return unauthorized(op)
		}
		return unavailable(op, err)
	}

	n, err := s.sessions.RevokeAllForUser(ctx, u.ID, session.RevokePasswordChange)
	if err != nil {
		return unavailable(op, err)
	}
	s.log.Info("auth.change_password.ok", "user_id", u.ID, "revoked", n)
	return nil
}

// Profile returns the stored user.
func (s *Service) Profile(ctx context.Context, userID string) (identity.User, error) {
	const op = "auth.profile"

	u, err := s.users.GetUserByID(ctx, userID)
	switch {
	case identity.IsNotFound(err):
		return identity.User{}, fail(op, ErrNotFound, err)
	case err != nil:
		return identity.User{}, unavailable(op, err)
	}
	return u, nil
}

// UpdateProfile replaces the user's display name and returns the stored
// user. A nil or blank name clears it.
func (s *Service) UpdateProfile(ctx context.Context, userID string, fullName *string) (identity.User, error) {
	const op = "auth.update_profile"

	if err := identity.ValidateFullName(fullName); err != nil {
		return identity.User{}, fail(op, ErrInvalidInput, err)
	}

	err := s.users.UpdateProfile(ctx, userID, fullName, s.now().UTC())
	switch {
	case err == nil:
	case identity.IsStoreFault(err):
		return identity.User{}, unavailable(op, err)
	case identity.IsNotFound(err):
		return identity.User{}, fail(op, ErrNotFound, err)
	default:
		return identity.User{}, fail(op, ErrInvalidInput, err)
	}

	s.log.Info("auth.profile.updated", "user_id", userID)
	return s.Profile(ctx, userID)
}

// SetActive (de)activates a user. Deactivation revokes every session.
func (s *Service) SetActive(ctx context.Context, userID string, active bool) error {
	const op = "auth.set_active"

	if err := s.users.SetActive(ctx, userID, active, s.now().UTC()); err != nil {
		if identity.IsNotFound(err) {
			return fail(op, ErrNotFound, err)
		}
		return unavailable(op, err)
	}
	if active {
		s.log.Info("auth.user.activated", "user_id", userID)
		return nil
	}

	n, err := s.sessions.RevokeAllForUser(ctx, userID, session.RevokeDeactivated)
	if err != nil {
		return unavailable(op, err)
	}
	s.log.Info("auth.user.deactivated", "user_id", userID, "revoked", n)
	return nil
}

// decode verifies token and its kind, collapsing every failure to Unauthorized.
func (s *Service) decode(op, token string, want tokens.Kind) (tokens.ClaimSet, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return tokens.ClaimSet{}, fail(op, ErrMalformed, nil)
	}

	claims, err := s.codec.Decode(token, s.now().UTC())
	switch {
	case errors.Is(err, tokens.ErrMalformed):
		return tokens.ClaimSet{}, fail(op, ErrMalformed, err)
	case err != nil:
		return tokens.ClaimSet{}, fail(op, ErrUnauthorized, err)
	case claims.Kind != want:
		return tokens.ClaimSet{}, unauthorized(op)
	}
	return claims, nil
}

func toSession(in session.Issued) Session {
	return Session{
		UserID:           in.UserID,
		SessionID:        in.SessionID,
		AccessToken:      in.AccessToken,
		AccessExpiresAt:  in.Access.ExpiresAt,
		RefreshToken:     in.RefreshToken,
		RefreshExpiresAt: in.Refresh.ExpiresAt,
	}
}
