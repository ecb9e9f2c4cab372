package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// NewRedisClient parses AUTH_REDIS_URL and waits for the server to answer PING.
func NewRedisClient(ctx context.Context, cfg Config, log *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse AUTH_REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	err = connectRetry(ctx, cfg.ConnectAttempts, func(ctx context.Context) error {
		if err := PingRedis(ctx, rdb, 2*time.Second); err != nil {
			log.Warn("redis.connect.retry", "err", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}

// PingRedis checks the server answers within timeout.
func PingRedis(parent context.Context, rdb redis.UniversalClient, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return rdb.Ping(ctx).Err()
}
