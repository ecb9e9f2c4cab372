package authn

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryThrottle(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Now()}
	th := NewMemoryThrottle(2, time.Minute)
	th.now = clk.Now

	wait, err := th.Blocked(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, wait)

	require.NoError(t, th.Fail(ctx, "alice"))
	wait, _ = th.Blocked(ctx, "alice")
	assert.Zero(t, wait)

	require.NoError(t, th.Fail(ctx, "alice"))
	wait, _ = th.Blocked(ctx, "alice")
	assert.Equal(t, time.Minute, wait)

	clk.Advance(20 * time.Second)
	wait, _ = th.Blocked(ctx, "alice")
	assert.Equal(t, 40*time.Second, wait)

	wait, _ = th.Blocked(ctx, "bob")
	assert.Zero(t, wait)

	clk.Advance(40 * time.Second)
	wait, _ = th.Blocked(ctx, "alice")
	assert.Zero(t, wait, "window elapsed")

	require.NoError(t, th.Fail(ctx, "alice"))
	require.NoError(t, th.Fail(ctx, "alice"))
	require.NoError(t, th.Reset(ctx, "alice"))
	wait, _ = th.Blocked(ctx, "alice")
	assert.Zero(t, wait, "reset clears the counter")
}

func TestMemoryThrottle_Disabled(t *testing.T) {
	ctx := context.Background()
	th := NewMemoryThrottle(0, time.Minute)
	for i := 0; i < 10; i++ {
		require.NoError(t, th.Fail(ctx, "alice"))
	}
	wait, err := th.Blocked(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestRedisThrottle(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	th := NewRedisThrottle(rdb, "test:", 2, time.Minute)

	require.NoError(t, th.Fail(ctx, "alice@x.com"))
	require.True(t, mr.Exists("test:login_fail:alice@x.com"))
	assert.Equal(t, time.Minute, mr.TTL("test:login_fail:alice@x.com"))

	wait, err := th.Blocked(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Zero(t, wait)

	require.NoError(t, th.Fail(ctx, "alice@x.com"))
	wait, err = th.Blocked(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Positive(t, wait)
	assert.LessOrEqual(t, wait, time.Minute)

	// The window is fixed from the first failure.
	assert.Equal(t, time.Minute, mr.TTL("test:login_fail:alice@x.com"))

	mr.FastForward(time.Minute)
	wait, err = th.Blocked(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Zero(t, wait)

	require.NoError(t, th.Fail(ctx, "bob"))
	require.NoError(t, th.Reset(ctx, "bob"))
	assert.False(t, mr.Exists("test:login_fail:bob"))

	mr.Close()
	_, err = th.Blocked(ctx, "alice@x.com")
	require.Error(t, err)
	require.Error(t, th.Fail(ctx, "alice@x.com"))
}

func TestLogin_ThrottleBackendDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, withThrottle(NewRedisThrottle(rdb, "test:", 3, time.Minute)))
	f.registerAlice(t)

	_, err := f.svc.Login(context.Background(), aliceEmail, alicePassword)
	require.NoError(t, err)

	mr.Close()
	_, err = f.svc.Login(context.Background(), aliceEmail, alicePassword)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestRedisThrottle_FailRestoresMissingTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	th := NewRedisThrottle(rdb, "test:", 3, time.Minute)

	// A counter stranded without an expiry, e.g. after a lost PEXPIRE.
	require.NoError(t, mr.Set("test:login_fail:carol", "5"))
	require.Zero(t, mr.TTL("test:login_fail:carol"))

	require.NoError(t, th.Fail(ctx, "carol"))
	assert.Equal(t, time.Minute, mr.TTL("test:login_fail:carol"))
	got, err := mr.Get("test:login_fail:carol")
	require.NoError(t, err)
	assert.Equal(t, "6", got)

	mr.FastForward(time.Minute)
	wait, err := th.Blocked(ctx, "carol")
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.login(outcomeSuccess)
	m.reuse()
	m.Swept(3)
	m.verified(time.Now())
}
