package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/appenteng/ai-assistant/cmd/security/token"
)

// MemoryStore keeps sessions in process memory. A single mutex serializes
// every mutation, which makes Rotate a trivial compare-and-swap.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]Record
	byUser map[string]map[string]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Record),
		byUser: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[rec.ID]; exists {
		return fmt.Errorf("session: duplicate id %s", rec.ID)
	}
	s.byID[rec.ID] = cloneRecord(rec)

	ids := s.byUser[rec.UserID]
	if ids == nil {
		ids = make(map[string]struct{})
		s.byUser[rec.UserID] = ids
	}
	ids[rec.ID] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Rotate(ctx context.Context, in RotateInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[in.SessionID]
	if !ok {
		return rejected(in.SessionID, in.UserID, ReasonNotFound)
	}
	if reason, ok := classify(rec, in, token.EqualHex64); !ok {
		return rejected(in.SessionID, in.UserID, reason)
	}

	now := in.Now.UTC()
	rec.AccessDigest = in.NewAccessDigest
	rec.RefreshDigest = in.NewRefreshDigest
	rec.RotatedAt = &now
	rec.ExpiresAt = in.NewExpiresAt.UTC()
	s.byID[in.SessionID] = rec
	return nil
}

func (s *MemoryStore) Revoke(ctx context.Context, sessionID, reason string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revokeLocked(sessionID, reason, now)
	return nil
}

func (s *MemoryStore) RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id := range s.byUser[userID] {
		if s.revokeLocked(id, reason, now) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) revokeLocked(sessionID, reason string, now time.Time) bool {
	rec, ok := s.byID[sessionID]
	if !ok || rec.RevokedAt != nil {
		return false
	}
	t := now.UTC()
	rec.RevokedAt = &t
	rec.RevocationReason = reason
	s.byID[sessionID] = rec
	return true
}

func (s *MemoryStore) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.byID {
		dead := rec.ExpiresAt.Before(cutoff) || (rec.RevokedAt != nil && rec.RevokedAt.Before(cutoff))
		if !dead {
			continue
		}
		delete(s.byID, id)
		if ids := s.byUser[rec.UserID]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(s.byUser, rec.UserID)
			}
		}
		n++
	}
	return n, nil
}

func cloneRecord(r Record) Record {
	if r.RotatedAt != nil {
		v := *r.RotatedAt
		r.RotatedAt = &v
	}
	if r.RevokedAt != nil {
		v := *r.RevokedAt
		r.RevokedAt = &v
	}
	return r
}
