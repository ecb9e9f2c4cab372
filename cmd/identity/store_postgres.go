package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store over PostgreSQL.
//
// The pool is owned by the caller; this store never closes it.
// Table identifiers are schema-qualified and quoted.
type PostgresStore struct {
	db     DB
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "public").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db DB, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{db: db, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.db == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, email, username, password_hash, is_active, full_name, created_at, updated_at, last_login_at`

func (s *PostgresStore) users() string {
	return pgx.Identifier{s.schema, "users"}.Sanitize()
}

func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
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

	_, err = s.db.Exec(ctx,
		`INSERT INTO `+s.users()+` (
		     id, email, email_norm, username, username_norm,
		     full_name, password_hash, is_active, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $8)`,
		u.ID,
		u.Email,
		NormalizeEmail(u.Email),
		u.Username,
		NormalizeUsername(u.Username),
		u.FullName,
		u.PasswordHash,
		now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	return u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.getOne(ctx, "identity.GetUserByID", `id = $1`, strings.TrimSpace(id))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getOne(ctx, "identity.GetUserByEmail", `email_norm = $1`, NormalizeEmail(email))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getOne(ctx, "identity.GetUserByUsername", `username_norm = $1`, NormalizeUsername(username))
}

func (s *PostgresStore) getOne(ctx context.Context, op, where string, arg string) (User, error) {
	if arg == "" {
		return User{}, notFound(op)
	}

	var u User
	err := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.users()+` WHERE `+where,
		arg,
	).Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PasswordHash,
		&u.IsActive,
		&u.FullName,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, notFound(op)
		}
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if hash == "" {
		return invalid(op, "password hash is required")
	}
	return s.updateOne(ctx, op,
		`UPDATE `+s.users()+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, hash, now.UTC(),
	)
}

func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	return s.updateOne(ctx, "identity.SetActive",
		`UPDATE `+s.users()+` SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, now.UTC(),
	)
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, fullName *string, now time.Time) error {
	if err := ValidateFullName(fullName); err != nil {
		return err
	}
	return s.updateOne(ctx, "identity.UpdateProfile",
		`UPDATE `+s.users()+` SET full_name = $2, updated_at = $3 WHERE id = $1`,
		id, trimPtr(fullName), now.UTC(),
	)
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, id string, now time.Time) error {
	return s.updateOne(ctx, "identity.TouchLastLogin",
		`UPDATE `+s.users()+` SET last_login_at = $2 WHERE id = $1`,
		id, now.UTC(),
	)
}

func (s *PostgresStore) updateOne(ctx context.Context, op, sql string, id string, args ...any) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return notFound(op)
	}

	tag, err := s.db.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable constraint names; fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_users_username_norm":
		return "username", true
	case "uq_users_email_norm":
		return "email", true
	}
	switch {
	case strings.Contains(c, "username"):
		return "username", true
	case strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}
