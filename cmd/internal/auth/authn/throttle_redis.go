package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] counter. ARGV[1] window (ms).
// Fixed window: the first failure starts the clock. A counter left without a
// TTL is given one so it cannot block forever.
const failScript = `
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`

var failLua = redis.NewScript(failScript)

// RedisThrottle shares login failure counters across instances.
type RedisThrottle struct {
	rdb    redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// NewRedisThrottle allows max failures per key within win. Keys live under
// prefix+"login_fail:".
func NewRedisThrottle(rdb redis.UniversalClient, prefix string, max int, win time.Duration) *RedisThrottle {
	return &RedisThrottle{rdb: rdb, prefix: prefix, max: max, window: win}
}

func (t *RedisThrottle) key(k string) string {
	return t.prefix + "login_fail:" + k
}

func (t *RedisThrottle) Blocked(ctx context.Context, key string) (time.Duration, error) {
	if t.max <= 0 {
		return 0, nil
	}
	count, err := t.rdb.Get(ctx, t.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("throttle: %w", err)
	}
	if count < int64(t.max) {
		return 0, nil
	}

	ttl, err := t.rdb.PTTL(ctx, t.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("throttle: %w", err)
	}
	if ttl <= 0 {
		ttl = t.window
	}
	return ttl, nil
}

func (t *RedisThrottle) Fail(ctx context.Context, key string) error {
	if t.max <= 0 {
		return nil
	}
	err := failLua.Run(ctx, t.rdb, []string{t.key(key)}, t.window.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	return nil
}

func (t *RedisThrottle) Reset(ctx context.Context, key string) error {
	if err := t.rdb.Del(ctx, t.key(key)).Err(); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	return nil
}
