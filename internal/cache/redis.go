package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hassanwm/vigil/internal/config"
)

// Client wraps the Redis connection used for the IP reputation cache and the
// login failure counters. Only the operations the services need are exposed.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewClient(cfg *config.RedisConfig, logger *slog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	logger.Info("redis connection established",
		slog.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB),
	)

	return &Client{rdb: rdb, logger: logger}, nil
}

func (c *Client) Close() error {
	c.logger.Info("closing redis connection")
	return c.rdb.Close()
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// GetBool reads a cached boolean. The second return value reports whether the
// key was present; absent keys are not an error.
func (c *Client) GetBool(ctx context.Context, key string) (value bool, found bool, err error) {
	result, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return result == "1", true, nil
}

// SetBool caches a boolean under key for ttl.
func (c *Client) SetBool(ctx context.Context, key string, value bool, ttl time.Duration) error {
	str := "0"
	if value {
		str = "1"
	}
	if err := c.rdb.Set(ctx, key, str, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Increment bumps a counter and returns the new value. The TTL is attached
// only when the counter is created, so the window is fixed from the first
// failure rather than sliding with each one.
func (c *Client) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment key %s: %w", key, err)
	}

	if count == 1 {
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			return count, fmt.Errorf("failed to set expiry on key %s: %w", key, err)
		}
	}

	return count, nil
}

// Delete removes keys; missing keys are not an error.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}
