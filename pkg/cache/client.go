package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/flashsale/pkg/lock"
	"github.com/Sternrassler/flashsale/pkg/retry"
)

var (
	// ErrNotFound indicates the entity does not exist. It is a result, not a failure.
	ErrNotFound = errors.New("entity not found")

	// ErrLockUnavailable indicates the rebuild lock is held by another caller.
	ErrLockUnavailable = errors.New("rebuild lock unavailable")
)

// Config holds the settings shared by every cached entity.
type Config struct {
	// Redis is the cache store (REQUIRED)
	Redis redis.Cmdable

	// Locker guards rebuilds. Defaults to a token-checked locker on Redis.
	Locker *lock.Locker

	// Logger defaults to the global logger with component=cache.
	Logger *zerolog.Logger

	// NullTTL is how long a not-found marker is kept
	NullTTL time.Duration

	// LockTTL bounds how long a rebuild lock is held
	LockTTL time.Duration

	// Retry controls how long QueryWithMutex waits for a contended lock
	Retry retry.Config

	// Rebuild pool for logically expired keys
	RebuildWorkers   int
	RebuildQueueSize int
	RebuildTimeout   time.Duration

	// Now is the clock used for logical expiration
	Now func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		NullTTL:          2 * time.Minute,
		LockTTL:          10 * time.Second,
		Retry:            retry.DefaultConfig(),
		RebuildWorkers:   10,
		RebuildQueueSize: 1024,
		RebuildTimeout:   10 * time.Second,
		Now:              time.Now,
	}
}

// Client owns the resources shared by cached entities: the Redis handle,
// the rebuild locker and the rebuild worker pool.
type Client struct {
	redis  redis.Cmdable
	locker *lock.Locker
	pool   *rebuildPool
	logger zerolog.Logger
	cfg    Config
}

// New creates a cache client. Unset fields of cfg fall back to DefaultConfig.
func New(cfg Config) (*Client, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	def := DefaultConfig()
	if cfg.NullTTL <= 0 {
		cfg.NullTTL = def.NullTTL
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.RebuildWorkers <= 0 {
		cfg.RebuildWorkers = def.RebuildWorkers
	}
	if cfg.RebuildQueueSize <= 0 {
		cfg.RebuildQueueSize = def.RebuildQueueSize
	}
	if cfg.RebuildTimeout <= 0 {
		cfg.RebuildTimeout = def.RebuildTimeout
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}

	logger := log.With().Str("component", "cache").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	locker := cfg.Locker
	if locker == nil {
		locker = lock.New(cfg.Redis, lock.WithLogger(logger))
	}

	// Only lock contention is worth waiting for; everything else is final.
	cfg.Retry.ShouldRetry = func(err error) bool {
		return errors.Is(err, ErrLockUnavailable)
	}

	c := &Client{
		redis:  cfg.Redis,
		locker: locker,
		logger: logger,
		cfg:    cfg,
	}
	c.pool = newRebuildPool(cfg.RebuildWorkers, cfg.RebuildQueueSize, cfg.RebuildTimeout, logger)

	logger.Debug().
		Dur("null_ttl", cfg.NullTTL).
		Dur("lock_ttl", cfg.LockTTL).
		Int("rebuild_workers", cfg.RebuildWorkers).
		Msg("Cache client initialized")

	return c, nil
}

// Close stops accepting rebuilds and waits for queued ones to finish.
func (c *Client) Close() {
	c.pool.close()
}
