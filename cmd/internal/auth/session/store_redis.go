package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRevoked  int64 = 1
	rotateStatusExpired  int64 = 2
	rotateStatusStale    int64 = 3
	rotateStatusRotated  int64 = 4
)

// KEYS[1] session hash.
// ARGV: user_id, presented digest, new access digest, new refresh digest,
// now (unix ms), new expiry (unix ms), key expiry (unix ms).
const rotateScript = `
local h = redis.call("HMGET", KEYS[1], "user_id", "refresh_digest", "revoked_at", "expires_at")
if not h[1] or h[1] ~= ARGV[1] then
  return 0
end
if h[3] then
  return 1
end
if tonumber(h[4]) <= tonumber(ARGV[5]) then
  return 2
end
if h[2] ~= ARGV[2] then
  return 3
end
redis.call("HSET", KEYS[1],
  "access_digest", ARGV[3],
  "refresh_digest", ARGV[4],
  "rotated_at", ARGV[5],
  "expires_at", ARGV[6])
redis.call("PEXPIREAT", KEYS[1], ARGV[7])
return 4
`

// KEYS[1] session hash. ARGV: revoked_at (unix ms), reason.
// Returns -1 when the session is gone, 0 when already revoked, 1 when revoked now.
const revokeScript = `
if redis.call("HEXISTS", KEYS[1], "user_id") == 0 then
  return -1
end
if redis.call("HEXISTS", KEYS[1], "revoked_at") == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1], "revocation_reason", ARGV[2])
return 1
`

// KEYS[1] user index set. ARGV: session id, ttl (ms).
// The index lives at least as long as its newest session hash.
const indexScript = `
redis.call("SADD", KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if redis.call("PTTL", KEYS[1]) < ttl then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`

var (
	rotateLua = redis.NewScript(rotateScript)
	revokeLua = redis.NewScript(revokeScript)
	indexLua  = redis.NewScript(indexScript)
)

// RedisStore keeps each session in a hash with a per-user index set.
// Hash keys expire on their own once past expiry plus retention; the index
// expires with the last of them.
type RedisStore struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore returns a store namespaced under prefix (e.g. "auth:").
func NewRedisStore(rdb redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if retention < 0 {
		retention = 0
	}
	return &RedisStore{rdb: rdb, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "user_sessions:" + userID
}

// indexTTL is how long the user index must outlive now for a session
// expiring at expires.
func (s *RedisStore) indexTTL(now, expires time.Time) int64 {
	ttl := expires.Add(s.retention).Sub(now).Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	return ttl
}

func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	key := s.key(rec.ID)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", rec.UserID,
			"access_digest", rec.AccessDigest,
			"refresh_digest", rec.RefreshDigest,
			"issued_at", rec.IssuedAt.UnixMilli(),
			"expires_at", rec.ExpiresAt.UnixMilli(),
		)
		pipe.PExpireAt(ctx, key, rec.ExpiresAt.Add(s.retention))
		indexLua.Eval(ctx, pipe, []string{s.userKey(rec.UserID)},
			rec.ID, s.indexTTL(rec.IssuedAt, rec.ExpiresAt))
		return nil
	})
	if err != nil {
		return unavailable("session.Create", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (Record, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return Record{}, unavailable("session.Get", err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	rec, err := decodeRedisRecord(sessionID, fields)
	if err != nil {
		return Record{}, unavailable("session.Get", err)
	}
	return rec, nil
}

func (s *RedisStore) Rotate(ctx context.Context, in RotateInput) error {
	status, err := rotateLua.Run(ctx, s.rdb,
		[]string{s.key(in.SessionID)},
		in.UserID,
		in.PresentedDigest,
		in.NewAccessDigest,
		in.NewRefreshDigest,
		in.Now.UnixMilli(),
		in.NewExpiresAt.UnixMilli(),
		in.NewExpiresAt.Add(s.retention).UnixMilli(),
	).Int64()
	if err != nil {
		return unavailable("session.Rotate", err)
	}

	switch status {
	case rotateStatusRotated:
		err := indexLua.Run(ctx, s.rdb, []string{s.userKey(in.UserID)},
			in.SessionID, s.indexTTL(in.Now, in.NewExpiresAt)).Err()
		if err != nil {
			return unavailable("session.Rotate", err)
		}
		return nil
	case rotateStatusNotFound:
		return rejected(in.SessionID, in.UserID, ReasonNotFound)
	case rotateStatusRevoked:
		return rejected(in.SessionID, in.UserID, ReasonRevoked)
	case rotateStatusExpired:
		return rejected(in.SessionID, in.UserID, ReasonExpired)
	case rotateStatusStale:
		return rejected(in.SessionID, in.UserID, ReasonStale)
	default:
		return unavailable("session.Rotate", fmt.Errorf("unexpected script status %d", status))
	}
}

func (s *RedisStore) Revoke(ctx context.Context, sessionID, reason string, now time.Time) error {
	if _, err := s.revoke(ctx, sessionID, reason, now); err != nil {
		return unavailable("session.Revoke", err)
	}
	return nil
}

func (s *RedisStore) revoke(ctx context.Context, sessionID, reason string, now time.Time) (int64, error) {
	return revokeLua.Run(ctx, s.rdb, []string{s.key(sessionID)}, now.UnixMilli(), reason).Int64()
}

func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int, error) {
	const op = "session.RevokeAllForUser"

	userKey := s.userKey(userID)
	ids, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, unavailable(op, err)
	}

	n := 0
	var gone []any
	for _, id := range ids {
		status, err := s.revoke(ctx, id, reason, now)
		if err != nil {
			return n, unavailable(op, err)
		}
		switch status {
		case 1:
			n++
		case -1:
			gone = append(gone, id)
		}
	}

	if len(gone) > 0 {
		if err := s.rdb.SRem(ctx, userKey, gone...).Err(); err != nil {
			return n, unavailable(op, err)
		}
	}
	return n, nil
}

// DeleteStale walks the session keyspace with SCAN. Keys already evicted by
// their TTL are simply not seen, but their ids are pruned from user indexes.
func (s *RedisStore) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	const op = "session.DeleteStale"

	n, err := s.deleteStaleSessions(ctx, cutoff)
	if err != nil {
		return n, unavailable(op, err)
	}
	if err := s.pruneIndexes(ctx); err != nil {
		return n, unavailable(op, err)
	}
	return n, nil
}

func (s *RedisStore) deleteStaleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	cutoffMs := cutoff.UnixMilli()
	match := s.prefix + "session:*"
	sessionPrefixLen := len(s.prefix + "session:")

	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return n, err
		}

		for _, key := range keys {
			vals, err := s.rdb.HMGet(ctx, key, "user_id", "expires_at", "revoked_at").Result()
			if err != nil {
				return n, err
			}
			userID, _ := vals[0].(string)
			expires := parseMillis(vals[1])
			revoked := parseMillis(vals[2])

			dead := (expires > 0 && expires < cutoffMs) || (revoked > 0 && revoked < cutoffMs)
			if !dead {
				continue
			}

			id := key[sessionPrefixLen:]
			_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				if userID != "" {
					pipe.SRem(ctx, s.userKey(userID), id)
				}
				return nil
			})
			if err != nil {
				return n, err
			}
			n++
		}

		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}

// pruneIndexes drops index members whose session hash no longer exists.
func (s *RedisStore) pruneIndexes(ctx context.Context) error {
	match := s.prefix + "user_sessions:*"

	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return err
		}

		for _, userKey := range keys {
			ids, err := s.rdb.SMembers(ctx, userKey).Result()
			if err != nil {
				return err
			}
			var gone []any
			for _, id := range ids {
				exists, err := s.rdb.Exists(ctx, s.key(id)).Result()
				if err != nil {
					return err
				}
				if exists == 0 {
					gone = append(gone, id)
				}
			}
			if len(gone) > 0 {
				if err := s.rdb.SRem(ctx, userKey, gone...).Err(); err != nil {
					return err
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func decodeRedisRecord(id string, f map[string]string) (Record, error) {
	rec := Record{
		ID:               id,
		UserID:           f["user_id"],
		AccessDigest:     f["access_digest"],
		RefreshDigest:    f["refresh_digest"],
		RevocationReason: f["revocation_reason"],
	}
	if rec.UserID == "" {
		return Record{}, errors.New("session hash missing user_id")
	}

	var err error
	if rec.IssuedAt, err = millisField(f, "issued_at"); err != nil {
		return Record{}, err
	}
	if rec.ExpiresAt, err = millisField(f, "expires_at"); err != nil {
		return Record{}, err
	}
	if _, ok := f["rotated_at"]; ok {
		t, err := millisField(f, "rotated_at")
		if err != nil {
			return Record{}, err
		}
		rec.RotatedAt = &t
	}
	if _, ok := f["revoked_at"]; ok {
		t, err := millisField(f, "revoked_at")
		if err != nil {
			return Record{}, err
		}
		rec.RevokedAt = &t
	}
	return rec, nil
}

func millisField(f map[string]string, name string) (time.Time, error) {
	v, err := strconv.ParseInt(f[name], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("session hash field %s: %w", name, err)
	}
	return time.UnixMilli(v).UTC(), nil
}

func parseMillis(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
