package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It backs the no-database runtime mode
// and unit tests. Safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]User
	byEmail    map[string]string
	byUsername map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if err := in.validate(op); err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	emailNorm := NormalizeEmail(in.Email)
	usernameNorm := NormalizeUsername(in.Username)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[emailNorm]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	if _, taken := s.byUsername[usernameNorm]; taken {
		return User{}, ConflictError{Op: op, Field: "username"}
	}

	u := User{
		ID:           id,
		Email:        strings.TrimSpace(in.Email),
		Username:     strings.TrimSpace(in.Username),
		PasswordHash: in.PasswordHash,
		IsActive:     true,
		FullName:     trimPtr(in.FullName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[id] = u
	s.byEmail[emailNorm] = id
	s.byUsername[usernameNorm] = id

	return cloneUser(u), nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, notFound("identity.GetUserByID")
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getByIndex(ctx, "identity.GetUserByEmail", func() (string, bool) {
		id, ok := s.byEmail[NormalizeEmail(email)]
		return id, ok
	})
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getByIndex(ctx, "identity.GetUserByUsername", func() (string, bool) {
		id, ok := s.byUsername[NormalizeUsername(username)]
		return id, ok
	})
}

func (s *MemoryStore) getByIndex(ctx context.Context, op string, lookup func() (string, bool)) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := lookup()
	if !ok {
		return User{}, notFound(op)
	}
	return cloneUser(s.byID[id]), nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"
	if hash == "" {
		return invalid(op, "password hash is required")
	}
	return s.update(ctx, op, id, func(u *User) {
		u.PasswordHash = hash
		u.UpdatedAt = now.UTC()
	})
}

func (s *MemoryStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	return s.update(ctx, "identity.SetActive", id, func(u *User) {
		u.IsActive = active
		u.UpdatedAt = now.UTC()
	})
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id string, fullName *string, now time.Time) error {
	const op = "identity.UpdateProfile"
	if err := ValidateFullName(fullName); err != nil {
		return err
	}
	name := trimPtr(fullName)
	return s.update(ctx, op, id, func(u *User) {
		u.FullName = name
		u.UpdatedAt = now.UTC()
	})
}

func (s *MemoryStore) TouchLastLogin(ctx context.Context, id string, now time.Time) error {
	return s.update(ctx, "identity.TouchLastLogin", id, func(u *User) {
		t := now.UTC()
		u.LastLoginAt = &t
	})
}

func (s *MemoryStore) update(ctx context.Context, op, id string, fn func(*User)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	u, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}
	fn(&u)
	s.byID[id] = u
	return nil
}

// cloneUser detaches pointer fields so callers cannot mutate stored state.
func cloneUser(u User) User {
	if u.FullName != nil {
		v := *u.FullName
		u.FullName = &v
	}
	if u.LastLoginAt != nil {
		v := *u.LastLoginAt
		u.LastLoginAt = &v
	}
	return u
}
