// Package redis implements the Redis-backed pieces of the worker.
//
// Key components:
//   - Cache: connection handling and key naming
//   - Locker: per-user sync lock shared by every worker process
//   - Publisher: change-set fan-out over pub/sub
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nzua-hub/grade-notifier/pkg/logger"
	"github.com/nzua-hub/grade-notifier/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// URL is a redis:// or rediss:// connection string.
	URL string

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration

	// ConnectAttempts bounds the startup ping loop.
	ConnectAttempts uint
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		URL:             "redis://localhost:6379/0",
		PoolSize:        10,
		DialTimeout:     5 * time.Second,
		ConnectAttempts: 5,
	}
}

// Options converts the config to go-redis options.
func (c Config) Options() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	if c.PoolSize > 0 {
		opts.PoolSize = c.PoolSize
	}
	if c.DialTimeout > 0 {
		opts.DialTimeout = c.DialTimeout
	}
	return opts, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheConnection is returned when Redis connection fails.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheKeyEmpty is returned when an empty key is provided.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEY PREFIXES
// ══════════════════════════════════════════════════════════════════════════════

const (
	// Namespace prefixes every key and channel of this service.
	Namespace = "gradesync:"

	// PrefixLock is the prefix for distributed lock keys.
	PrefixLock = Namespace + "lock:"

	// ChannelChanges carries change-sets.
	ChannelChanges = Namespace + "changes"
)

// LockKey generates a key for a distributed lock.
func LockKey(resource string) string {
	return PrefixLock + resource
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Cache owns the Redis client.
type Cache struct {
	client *redis.Client
}

// NewCache connects to Redis, retrying the initial ping with backoff.
func NewCache(ctx context.Context, cfg Config, log *logger.Logger) (*Cache, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = DefaultConfig().ConnectAttempts
	}
	err = retry.New(
		retry.WithMaxAttempts(attempts),
		retry.WithInitialDelay(250*time.Millisecond),
		retry.WithMaxDelay(5*time.Second),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			if log != nil {
				log.Warn("redis not ready",
					logger.Int("attempt", attempt),
					logger.Duration("retry_in", delay),
					logger.Err(err))
			}
		}),
	).Do(ctx, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	return &Cache{client: client}, nil
}

// NewCacheFromClient wraps an existing client.
func NewCacheFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Client returns the underlying Redis client.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
