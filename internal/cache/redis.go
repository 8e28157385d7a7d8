// Package cache stores baseline snapshots in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/redis/go-redis/v9"

	"github.com/TobiSchelling/answerengine/internal/model"
)

const keyPrefix = "answerengine:baselines:"

// RetryConfig controls the retry policy wrapped around every Redis call.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns two retries with 50ms..500ms backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseDelay: 50 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
}

// RedisBaselineCache implements baseline.Cache on top of a Redis client.
type RedisBaselineCache struct {
	client redis.Cmdable
	get    failsafe.Executor[[]byte]
	set    failsafe.Executor[any]
}

// NewRedisBaselineCache wraps client with a retry policy.
func NewRedisBaselineCache(client redis.Cmdable, cfg RetryConfig) *RedisBaselineCache {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	getPolicy := retrypolicy.NewBuilder[[]byte]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ []byte, err error) bool {
			return retryable(err)
		}).
		Build()
	setPolicy := retrypolicy.NewBuilder[any]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return retryable(err)
		}).
		Build()

	return &RedisBaselineCache{
		client: client,
		get:    failsafe.With(getPolicy),
		set:    failsafe.With(setPolicy),
	}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// Key returns the Redis key for a user's baseline window.
func Key(userID string, windowDays int) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, userID, windowDays)
}

// Get returns the cached snapshot, or nil on a miss.
func (c *RedisBaselineCache) Get(ctx context.Context, userID string, windowDays int) (*model.UserBaselines, error) {
	data, err := c.get.WithContext(ctx).Get(func() ([]byte, error) {
		return c.client.Get(ctx, Key(userID, windowDays)).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading baselines %s: %w", Key(userID, windowDays), err)
	}

	var b model.UserBaselines
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decoding baselines %s: %w", Key(userID, windowDays), err)
	}
	return &b, nil
}

// Set stores a snapshot under its window key. Existing values are overwritten.
func (c *RedisBaselineCache) Set(ctx context.Context, userID string, b *model.UserBaselines, ttl time.Duration) error {
	if b == nil {
		return nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding baselines: %w", err)
	}
	key := Key(userID, b.WindowDays)
	_, err = c.set.WithContext(ctx).Get(func() (any, error) {
		return nil, c.client.Set(ctx, key, data, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("writing baselines %s: %w", key, err)
	}
	return nil
}

// Invalidate drops every cached window for a user, e.g. after an import.
func (c *RedisBaselineCache) Invalidate(ctx context.Context, userID string) error {
	var cursor uint64
	pattern := keyPrefix + userID + ":*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scanning %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("deleting baselines: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func retryable(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
