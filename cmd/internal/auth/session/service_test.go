package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appenteng/ai-assistant/cmd/internal/auth/tokens"
	"github.com/appenteng/ai-assistant/cmd/security/token"
)

const testUserID = "01J0000000000000000000USER"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testCodec(t *testing.T) tokens.Codec {
	t.Helper()
	c, err := tokens.NewJWTCodec([]byte(strings.Repeat("s", 32)), "ai-assistant-test")
	require.NoError(t, err)
	return c
}

type backend struct {
	name  string
	store func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{name: "memory", store: func(t *testing.T) Store { return NewMemoryStore() }},
		{name: "redis", store: func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisStore(rdb, "test:", time.Hour)
		}},
	}
}

func newTestService(t *testing.T, st Store, clock *fakeClock) *Service {
	t.Helper()
	digester := token.NewDigester([]byte(strings.Repeat("h", 32)))
	svc, err := NewService(DefaultConfig(), st, testCodec(t), digester, nil, WithClock(clock.Now))
	require.NoError(t, err)
	return svc
}

func eachBackend(t *testing.T, fn func(t *testing.T, svc *Service, st Store, clock *fakeClock)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := newFakeClock()
			st := b.store(t)
			fn(t, newTestService(t, st, clock), st, clock)
		})
	}
}

func reasonOf(t *testing.T, err error) RejectReason {
	t.Helper()
	var re *RejectedError
	require.ErrorAs(t, err, &re)
	return re.Reason
}

func TestNewService_Validates(t *testing.T) {
	_, err := NewService(Config{AccessTTL: time.Hour, RefreshTTL: time.Minute}, NewMemoryStore(), testCodec(t), token.Digester{}, nil)
	require.ErrorIs(t, err, ErrConfig)

	_, err = NewService(DefaultConfig(), nil, testCodec(t), token.Digester{}, nil)
	require.ErrorIs(t, err, ErrConfig)
}

func TestService_Create(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, st Store, clock *fakeClock) {
		ctx := context.Background()

		out, err := svc.Create(ctx, testUserID)
		require.NoError(t, err)

		assert.Len(t, out.SessionID, 26)
		assert.Equal(t, testUserID, out.UserID)
		assert.Equal(t, out.SessionID, out.Access.SessionID)
		assert.Equal(t, out.SessionID, out.Refresh.SessionID)
		assert.Equal(t, tokens.KindAccess, out.Access.Kind)
		assert.Equal(t, tokens.KindRefresh, out.Refresh.Kind)
		assert.True(t, clock.Now().Add(30*time.Minute).Equal(out.Access.ExpiresAt))
		assert.True(t, clock.Now().Add(7*24*time.Hour).Equal(out.Refresh.ExpiresAt))
		assert.NotEqual(t, out.AccessToken, out.RefreshToken)

		rec, err := st.Get(ctx, out.SessionID)
		require.NoError(t, err)
		assert.Equal(t, testUserID, rec.UserID)
		assert.True(t, rec.ExpiresAt.Equal(out.Refresh.ExpiresAt))
		assert.Nil(t, rec.RevokedAt)

		// Only digests are stored.
		assert.NotContains(t, rec.RefreshDigest, ".")
		assert.Len(t, rec.RefreshDigest, 64)
		assert.Len(t, rec.AccessDigest, 64)

		live, err := svc.IsLive(ctx, out.SessionID)
		require.NoError(t, err)
		assert.True(t, live)
	})
}

func TestService_Rotate(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, st Store, clock *fakeClock) {
		ctx := context.Background()

		first, err := svc.Create(ctx, testUserID)
		require.NoError(t, err)

		clock.Advance(time.Hour)
		second, err := svc.Rotate(ctx, first.RefreshToken)
		require.NoError(t, err)

		assert.Equal(t, first.SessionID, second.SessionID)
		assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
		assert.NotEqual(t, first.AccessToken, second.AccessToken)
		assert.True(t, second.Refresh.ExpiresAt.After(first.Refresh.ExpiresAt), "expiry slides")

		rec, err := st.Get(ctx, first.SessionID)
		require.NoError(t, err)
		require.NotNil(t, rec.RotatedAt)
		assert.True(t, rec.ExpiresAt.Equal(second.Refresh.ExpiresAt))

		// The old refresh token is dead for good.
		_, err = svc.Rotate(ctx, first.RefreshToken)
		require.ErrorIs(t, err, ErrRejected)
		assert.Equal(t, ReasonStale, reasonOf(t, err))

		var re *RejectedError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, first.SessionID, re.SessionID)

		// The new one still works.
		_, err = svc.Rotate(ctx, second.RefreshToken)
		require.NoError(t, err)
	})
}

func TestService_RotateRejects(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, st Store, clock *fakeClock) {
		ctx := context.Background()

		out, err := svc.Create(ctx, testUserID)
		require.NoError(t, err)

		t.Run("garbage", func(t *testing.T) {
			for _, tok := range []string{"", "   ", "not-a-token", strings.Repeat("a", maxTokenLen+1)} {
				_, err := svc.Rotate(ctx, tok)
				require.ErrorIs(t, err, ErrRejected)
				assert.Equal(t, ReasonInvalidToken, reasonOf(t, err))
			}
		})

		t.Run("access token presented as refresh", func(t *testing.T) {
			_, err := svc.Rotate(ctx, out.AccessToken)
			require.ErrorIs(t, err, ErrRejected)
			assert.Equal(t, ReasonInvalidToken, reasonOf(t, err))
		})

		t.Run("revoked session", func(t *testing.T) {
			other, err := svc.Create(ctx, testUserID)
			require.NoError(t, err)
			require.NoError(t, svc.Revoke(ctx, other.SessionID, RevokeLogout))

			_, err = svc.Rotate(ctx, other.RefreshToken)
			require.ErrorIs(t, err, ErrRejected)
			assert.Equal(t, ReasonRevoked, reasonOf(t, err))
		})

		t.Run("unknown session", func(t *testing.T) {
			// Valid signature, but the record never existed.
			c, err := tokens.NewClaimSet(tokens.KindRefresh, testUserID, "01J00000000000000000NOSESS", clock.Now(), time.Hour)
			require.NoError(t, err)
			tok, err := testCodec(t).Issue(c)
			require.NoError(t, err)

			_, err = svc.Rotate(ctx, tok)
			require.ErrorIs(t, err, ErrRejected)
			assert.Equal(t, ReasonNotFound, reasonOf(t, err))
		})

		t.Run("expired", func(t *testing.T) {
			clock.Advance(7*24*time.Hour + time.Second)

			_, err := svc.Rotate(ctx, out.RefreshToken)
			require.ErrorIs(t, err, ErrRejected)
			assert.Equal(t, ReasonExpired, reasonOf(t, err))

			live, err := svc.IsLive(ctx, out.SessionID)
			require.NoError(t, err)
			assert.False(t, live)
		})
	})
}

func TestService_RotateConcurrentExactlyOneWins(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, st Store, clock *fakeClock) {
		ctx := context.Background()

		out, err := svc.Create(ctx, testUserID)
		require.NoError(t, err)

		const n = 16
		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make(chan error, n)
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := svc.Rotate(ctx, out.RefreshToken)
				errs <- err
			}()
		}
		close(start)
		wg.Wait()
		close(errs)

		wins := 0
		for err := range errs {
			if err == nil {
				wins++
				continue
			}
			require.ErrorIs(t, err, ErrRejected)
			assert.Equal(t, ReasonStale, reasonOf(t, err))
		}
		assert.Equal(t, 1, wins)
	})
}

func TestService_Revoke(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, st Store, clock *fakeClock) {
		ctx := context.Background()

		out, err := svc.Create(ctx, testUserID)
		require.NoError(t, err)

		require.NoError(t, svc.Revoke(ctx, out.SessionID, RevokeLogout))
		clock.Advance(time.Second)
		require.NoError(t, svc.Revoke(ctx, out.SessionID, RevokeLogoutAll))
		require.NoError(t, svc.Revoke(ctx, "01J00000000000000000NOSESS", RevokeLogout))
		require.NoError(t, svc.Revoke(ctx, "", RevokeLogout))

		rec, err := st.Get(ctx, out.SessionID)
		require.NoError(t, err)
		require.NotNil(t, rec.RevokedAt)
		assert.Equal(t, RevokeLogout, rec.RevocationReason, "first revocation wins")

		live, err := svc.IsLive(ctx, out.SessionID)
		require.NoError(t, err)
		assert.False(t, live)

		live, err = svc.IsLive(ctx, "01J00000000000000000NOSESS")
		require.NoError(t, err)
		assert.False(t, live)
	})
}

func TestService_RevokeAllForUser(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, st Store, clock *fakeClock) {
		ctx := context.Background()

		a, err := svc.Create(ctx, testUserID)
		require.NoError(t, err)
		b, err := svc.Create(ctx, testUserID)
		require.NoError(t, err)
		other, err := svc.Create(ctx, "01J000000000000000000OTHER")
		require.NoError(t, err)
		require.NoError(t, svc.Revoke(ctx, b.SessionID, RevokeLogout))

		n, err := svc.RevokeAllForUser(ctx, testUserID, RevokePasswordChange)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		for _, id := range []string{a.SessionID, b.SessionID} {
			live, err := svc.IsLive(ctx, id)
			require.NoError(t, err)
			assert.False(t, live)
		}
		live, err := svc.IsLive(ctx, other.SessionID)
		require.NoError(t, err)
		assert.True(t, live)

		n, err = svc.RevokeAllForUser(ctx, testUserID, RevokePasswordChange)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestService_Sweep(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, st Store, clock *fakeClock) {
		ctx := context.Background()

		revoked, err := svc.Create(ctx, testUserID)
		require.NoError(t, err)
		require.NoError(t, svc.Revoke(ctx, revoked.SessionID, RevokeLogout))

		// Revoked but inside the retention window: kept.
		n, err := svc.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		clock.Advance(2 * 24 * time.Hour)
		fresh, err := svc.Create(ctx, testUserID)
		require.NoError(t, err)

		n, err = svc.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = st.Get(ctx, revoked.SessionID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = st.Get(ctx, fresh.SessionID)
		require.NoError(t, err)
	})
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f *failingStore) Get(context.Context, string) (Record, error) { return Record{}, f.err }

func (f *failingStore) Rotate(context.Context, RotateInput) error { return f.err }

func TestService_UnavailableIsNotRejected(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	st := &failingStore{MemoryStore: NewMemoryStore(), err: unavailable("test", errors.New("connection refused"))}
	svc := newTestService(t, st, clock)

	out, err := svc.Create(ctx, testUserID)
	require.NoError(t, err)

	_, err = svc.Rotate(ctx, out.RefreshToken)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrRejected)

	_, err = svc.IsLive(ctx, out.SessionID)
	require.ErrorIs(t, err, ErrUnavailable)
}
