// Package lock provides the keyed mutual exclusion used around request transitions.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/config"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "r2da:lock:"
	pollInterval = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease-based lock shared by every gateway instance.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

func NewRedisLocker(client *redis.Client, cfg config.RedisConfig, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    cfg.LockTTL,
		wait:   cfg.LockWait,
		logger: logger,
	}
}

// Connect parses the URL and pings the server.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Acquire polls for the key until lock_wait elapses.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", application.ErrLockNotAcquired, key)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", application.ErrLockNotAcquired, key, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (l *RedisLocker) releaser(redisKey, token string) func() {
	return func() {
		// release must run even when the request context is already cancelled
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("failed to release lock", "key", redisKey, "error", err)
		}
	}
}
