package authn

import (
	"context"
	"sync"
	"time"
)

// Throttle counts failed logins per identifier in a fixed window.
type Throttle interface {
	// Blocked returns a positive retry-after when key has used up its budget.
	Blocked(ctx context.Context, key string) (time.Duration, error)
	Fail(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

type noThrottle struct{}

func (noThrottle) Blocked(context.Context, string) (time.Duration, error) { return 0, nil }
func (noThrottle) Fail(context.Context, string) error                     { return nil }
func (noThrottle) Reset(context.Context, string) error                    { return nil }

type window struct {
	count int
	until time.Time
}

// MemoryThrottle is a process-local Throttle.
type MemoryThrottle struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	keys map[string]window
}

// NewMemoryThrottle allows max failures per key within win.
func NewMemoryThrottle(max int, win time.Duration) *MemoryThrottle {
	return &MemoryThrottle{
		max:    max,
		window: win,
		now:    time.Now,
		keys:   make(map[string]window),
	}
}

func (t *MemoryThrottle) Blocked(_ context.Context, key string) (time.Duration, error) {
	if t.max <= 0 {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	w, ok := t.keys[key]
	if !ok {
		return 0, nil
	}
	if !now.Before(w.until) {
		delete(t.keys, key)
		return 0, nil
	}
	if w.count >= t.max {
		return w.until.Sub(now), nil
	}
	return 0, nil
}

func (t *MemoryThrottle) Fail(_ context.Context, key string) error {
	if t.max <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	w, ok := t.keys[key]
	if !ok || !now.Before(w.until) {
		w = window{until: now.Add(t.window)}
	}
	w.count++
	t.keys[key] = w

	// Opportunistic cleanup keeps the map bounded by recent failures.
	if len(t.keys) > 10_000 {
		for k, v := range t.keys {
			if !now.Before(v.until) {
				delete(t.keys, k)
			}
		}
	}
	return nil
}

func (t *MemoryThrottle) Reset(_ context.Context, key string) error {
	t.mu.Lock()
	delete(t.keys, key)
	t.mu.Unlock()
	return nil
}
