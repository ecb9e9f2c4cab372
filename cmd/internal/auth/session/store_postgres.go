package session

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
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// PostgresStore implements Store over the sessions table.
type PostgresStore struct {
	db    DB
	table string
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresStore creates a Postgres-backed session store in schema
// (empty means "public").
func NewPostgresStore(db DB, schema string) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if !pgIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}
	return &PostgresStore{db: db, table: pgx.Identifier{schema, "sessions"}.Sanitize()}, nil
}

const recordColumns = `id, user_id, access_digest, refresh_digest, issued_at, rotated_at, expires_at, revoked_at, revocation_reason`

func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO `+s.table+` (
			id, user_id, access_digest, refresh_digest,
			issued_at, rotated_at, expires_at, revoked_at, revocation_reason
		) VALUES ($1, $2, $3, $4, $5, NULL, $6, NULL, NULL)
	`, rec.ID, rec.UserID, rec.AccessDigest, rec.RefreshDigest, rec.IssuedAt.UTC(), rec.ExpiresAt.UTC())
	if err != nil {
		return unavailable("session.Create", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+s.table+` WHERE id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, unavailable("session.Get", err)
	}
	return rec, nil
}

// Rotate runs the compare-and-swap as one conditional UPDATE. Under READ
// COMMITTED a concurrent writer re-evaluates the WHERE clause against the
// committed row, so only one of several racing rotations matches.
func (s *PostgresStore) Rotate(ctx context.Context, in RotateInput) error {
	const op = "session.Rotate"

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return unavailable(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := in.Now.UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE `+s.table+`
		   SET access_digest = $1,
		       refresh_digest = $2,
		       rotated_at = $3,
		       expires_at = $4
		 WHERE id = $5
		   AND user_id = $6
		   AND refresh_digest = $7
		   AND revoked_at IS NULL
		   AND expires_at > $3
	`, in.NewAccessDigest, in.NewRefreshDigest, now, in.NewExpiresAt.UTC(), in.SessionID, in.UserID, in.PresentedDigest)
	if err != nil {
		return unavailable(op, err)
	}

	if tag.RowsAffected() == 1 {
		if err := tx.Commit(ctx); err != nil {
			return unavailable(op, err)
		}
		return nil
	}

	// Nothing matched; read the row only to label the refusal.
	rec, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+s.table+` WHERE id = $1`, in.SessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return rejected(in.SessionID, in.UserID, ReasonNotFound)
	}
	if err != nil {
		return unavailable(op, err)
	}
	reason, ok := classify(rec, in, func(a, b string) bool { return a == b })
	if ok {
		reason = ReasonStale
	}
	return rejected(in.SessionID, in.UserID, reason)
}

func (s *PostgresStore) Revoke(ctx context.Context, sessionID, reason string, now time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE `+s.table+`
		   SET revoked_at = $2, revocation_reason = $3
		 WHERE id = $1 AND revoked_at IS NULL
	`, sessionID, now.UTC(), reason)
	if err != nil {
		return unavailable("session.Revoke", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE `+s.table+`
		   SET revoked_at = $2, revocation_reason = $3
		 WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, now.UTC(), reason)
	if err != nil {
		return 0, unavailable("session.RevokeAllForUser", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM `+s.table+`
		 WHERE expires_at < $1
		    OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`, cutoff.UTC())
	if err != nil {
		return 0, unavailable("session.DeleteStale", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec    Record
		reason *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.AccessDigest,
		&rec.RefreshDigest,
		&rec.IssuedAt,
		&rec.RotatedAt,
		&rec.ExpiresAt,
		&rec.RevokedAt,
		&reason,
	)
	if err != nil {
		return Record{}, err
	}
	if reason != nil {
		rec.RevocationReason = *reason
	}
	return rec, nil
}
