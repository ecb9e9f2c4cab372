package identity

import (
	"context"
	"strings"
	"time"
)

// User is the canonical security principal.
type User struct {
	ID       string
	Email    string
	Username string

	// PasswordHash is an encoded Argon2id string, never the plaintext.
	PasswordHash string
	IsActive     bool
	FullName     *string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// CreateUserInput describes a new account. Email and Username are stored as
// given (trimmed) and indexed by their normalized forms.
type CreateUserInput struct {
	Email        string
	Username     string
	PasswordHash string
	FullName     *string
	Now          time.Time
}

// Store is the credential persistence boundary.
//
// Lookups return ErrNotFound (via NotFoundError) for missing users.
// Uniqueness violations return ConflictError. Any other error is a
// storage fault and is returned as-is.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)

	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
	SetActive(ctx context.Context, id string, active bool, now time.Time) error
	// UpdateProfile sets the display name; nil or blank clears it.
	UpdateProfile(ctx context.Context, id string, fullName *string, now time.Time) error
	TouchLastLogin(ctx context.Context, id string, now time.Time) error
}

func (in CreateUserInput) validate(op string) error {
	if NormalizeEmail(in.Email) == "" {
		return invalid(op, "email is required")
	}
	if NormalizeUsername(in.Username) == "" {
		return invalid(op, "username is required")
	}
	if in.PasswordHash == "" {
		return invalid(op, "password hash is required")
	}
	return nil
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}
