package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/appenteng/ai-assistant/cmd/identity"
	"github.com/appenteng/ai-assistant/cmd/internal/pgtest"
)

// Integration tests are opt-in and require AUTH_DATABASE_URL.

func TestPostgresStore_Integration(t *testing.T) {
	pool := pgtest.Open(t)
	schema := pgtest.Schema(t, pool)

	s, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	u, err := s.CreateUser(ctx, identity.CreateUserInput{
		Email:        "Alice@X.com",
		Username:     "Alice",
		PasswordHash: "hash-1",
		Now:          now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Case-insensitive uniqueness on both identifiers.
	_, err = s.CreateUser(ctx, identity.CreateUserInput{Email: "alice@x.com", Username: "bob", PasswordHash: "h", Now: now})
	if !identity.IsConflict(err) {
		t.Fatalf("expected email conflict, got %v", err)
	}
	_, err = s.CreateUser(ctx, identity.CreateUserInput{Email: "bob@x.com", Username: "ALICE", PasswordHash: "h", Now: now})
	if !identity.IsConflict(err) {
		t.Fatalf("expected username conflict, got %v", err)
	}

	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil || got.ID != u.ID || got.Email != "Alice@X.com" || !got.IsActive {
		t.Fatalf("by username: %+v %v", got, err)
	}

	later := now.Add(time.Minute)
	if err := s.UpdatePasswordHash(ctx, u.ID, "hash-2", later); err != nil {
		t.Fatalf("update hash: %v", err)
	}
	if err := s.TouchLastLogin(ctx, u.ID, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := s.SetActive(ctx, u.ID, false, later); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, err = s.GetUserByEmail(ctx, "ALICE@x.com")
	if err != nil {
		t.Fatalf("by email: %v", err)
	}
	if got.PasswordHash != "hash-2" || got.IsActive || got.LastLoginAt == nil || !got.LastLoginAt.Equal(later) {
		t.Fatalf("unexpected row: %+v", got)
	}

	if err := s.SetActive(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", true, later); !identity.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
