package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func mustCreate(t *testing.T, s Store, email, username string) User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), CreateUserInput{
		Email:        email,
		Username:     username,
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
		Now:          time.Now(),
	})
	if err != nil {
		t.Fatalf("create %s: %v", username, err)
	}
	return u
}

func TestMemoryStore_CreateAndLookup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	name := "  Alice Liddell "
	u, err := s.CreateUser(ctx, CreateUserInput{
		Email:        " Alice@X.com",
		Username:     "Alice",
		PasswordHash: "hash",
		FullName:     &name,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "" || !u.IsActive || u.Email != "Alice@X.com" || u.FullName == nil || *u.FullName != "Alice Liddell" {
		t.Fatalf("unexpected user: %+v", u)
	}

	byEmail, err := s.GetUserByEmail(ctx, "alice@x.com")
	if err != nil || byEmail.ID != u.ID {
		t.Fatalf("by email: %+v %v", byEmail, err)
	}
	byName, err := s.GetUserByUsername(ctx, "ALICE")
	if err != nil || byName.ID != u.ID {
		t.Fatalf("by username: %+v %v", byName, err)
	}
	byID, err := s.GetUserByID(ctx, u.ID)
	if err != nil || byID.PasswordHash != "hash" {
		t.Fatalf("by id: %+v %v", byID, err)
	}
}

func TestMemoryStore_Conflicts(t *testing.T) {
	s := NewMemoryStore()
	mustCreate(t, s, "alice@x.com", "alice")

	_, err := s.CreateUser(context.Background(), CreateUserInput{Email: "ALICE@x.com", Username: "other", PasswordHash: "h"})
	var ce ConflictError
	if !errors.As(err, &ce) || ce.Field != "email" {
		t.Fatalf("expected email conflict, got %v", err)
	}

	_, err = s.CreateUser(context.Background(), CreateUserInput{Email: "b@x.com", Username: "Alice", PasswordHash: "h"})
	if !errors.As(err, &ce) || ce.Field != "username" || !errors.Is(err, ErrConflict) {
		t.Fatalf("expected username conflict, got %v", err)
	}
}

func TestMemoryStore_InvalidInput(t *testing.T) {
	s := NewMemoryStore()
	for _, in := range []CreateUserInput{
		{Username: "a", PasswordHash: "h"},
		{Email: "a@x.com", PasswordHash: "h"},
		{Email: "a@x.com", Username: "abc"},
	} {
		if _, err := s.CreateUser(context.Background(), in); !IsInvalidInput(err) {
			t.Fatalf("expected invalid input for %+v, got %v", in, err)
		}
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetUserByID(ctx, "nope"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.GetUserByEmail(ctx, "nope@x.com"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.SetActive(ctx, "nope", false, time.Now()); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.UpdatePasswordHash(ctx, "nope", "h", time.Now()); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.UpdateProfile(ctx, "nope", nil, time.Now()); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStore_Updates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := mustCreate(t, s, "alice@x.com", "alice")
	now := time.Now().Add(time.Minute)

	if err := s.UpdatePasswordHash(ctx, u.ID, "new-hash", now); err != nil {
		t.Fatalf("update hash: %v", err)
	}
	if err := s.SetActive(ctx, u.ID, false, now); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if err := s.TouchLastLogin(ctx, u.ID, now); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PasswordHash != "new-hash" || got.IsActive || got.LastLoginAt == nil || !got.LastLoginAt.Equal(now) {
		t.Fatalf("unexpected user after updates: %+v", got)
	}
	if err := s.UpdatePasswordHash(ctx, u.ID, "", now); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for empty hash, got %v", err)
	}
}

func TestMemoryStore_UpdateProfile(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := mustCreate(t, s, "alice@x.com", "alice")
	now := time.Now().Add(time.Minute).UTC()

	name := "  Alice Liddell "
	if err := s.UpdateProfile(ctx, u.ID, &name, now); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	got, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FullName == nil || *got.FullName != "Alice Liddell" || !got.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected user after rename: %+v", got)
	}

	blank := " "
	if err := s.UpdateProfile(ctx, u.ID, &blank, now); err != nil {
		t.Fatalf("clear profile: %v", err)
	}
	got, _ = s.GetUserByID(ctx, u.ID)
	if got.FullName != nil {
		t.Fatalf("expected cleared name, got %q", *got.FullName)
	}

	long := strings.Repeat("x", FullNameMaxLen+1)
	if err := s.UpdateProfile(ctx, u.ID, &long, now); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := mustCreate(t, s, "alice@x.com", "alice")
	if err := s.TouchLastLogin(ctx, u.ID, time.Now()); err != nil {
		t.Fatalf("touch: %v", err)
	}

	a, _ := s.GetUserByID(ctx, u.ID)
	*a.LastLoginAt = time.Time{}

	b, _ := s.GetUserByID(ctx, u.ID)
	if b.LastLoginAt.IsZero() {
		t.Fatalf("caller mutation leaked into the store")
	}
}

func TestMemoryStore_ConcurrentCreateSameEmail(t *testing.T) {
	s := NewMemoryStore()

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateUser(context.Background(), CreateUserInput{
				Email:        "race@x.com",
				Username:     "racer" + string(rune('a'+i)),
				PasswordHash: "h",
			})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one account, got %d", created)
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.GetUserByID(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
