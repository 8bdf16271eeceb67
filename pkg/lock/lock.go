// Package lock implements a short-lived named mutual-exclusion lock on top of Redis.
//
// Acquisition is a single SET NX PX against the shared store. Locks expire on
// their own after the TTL, so a crashed holder never blocks others forever; the
// price is that a holder whose critical section outlives the TTL can lose the
// lock without noticing.
//
// Every acquisition stores a random holder token and Lease.Release only deletes
// the key while it still carries that token. WithUnsafeRelease switches leases
// to an unconditional DEL, which lets a late holder release a lock that has
// since been taken by someone else.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotAcquired indicates the lock is currently held by someone else.
	ErrNotAcquired = errors.New("lock not acquired")

	// ErrInvalidTTL is returned for non-positive lock TTLs.
	ErrInvalidTTL = errors.New("lock ttl must be positive")
)

// releaseScript deletes KEYS[1] only if it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
	return redis.call('del', KEYS[1])
end
return 0
`)

// Locker acquires named locks.
type Locker struct {
	redis  redis.Cmdable
	logger zerolog.Logger
	unsafe bool
}

// Option configures a Locker.
type Option func(*Locker)

// WithLogger sets the logger used by the Locker.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

// WithUnsafeRelease makes Lease.Release delete the key without checking the holder token.
func WithUnsafeRelease() Option {
	return func(l *Locker) { l.unsafe = true }
}

// New creates a Locker backed by the given Redis client.
func New(redisClient redis.Cmdable, opts ...Option) *Locker {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	l := &Locker{
		redis:  redisClient,
		logger: log.With().Str("component", "lock").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lease is a held lock.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Key returns the locked key.
func (le *Lease) Key() string { return le.key }

// TryAcquire attempts to take the lock once. It reports ok=false without error
// when another holder owns the key.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}

	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		lockAcquireTotal.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		lockAcquireTotal.WithLabelValues("contended").Inc()
		l.logger.Debug().Str("key", key).Msg("Lock held by another holder")
		return nil, false, nil
	}

	lockAcquireTotal.WithLabelValues("acquired").Inc()
	l.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("Lock acquired")
	return &Lease{locker: l, key: key, token: token}, true, nil
}

// Acquire is TryAcquire that reports contention as ErrNotAcquired.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	lease, ok, err := l.TryAcquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return lease, nil
}

// Release deletes key unconditionally, whoever holds it.
func (l *Locker) Release(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, key).Err(); err != nil {
		lockReleaseTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	lockReleaseTotal.WithLabelValues("released").Inc()
	return nil
}

// Release gives the lock back. Unless the Locker was built WithUnsafeRelease,
// releasing a lock that expired and was re-acquired by another holder is a no-op.
func (le *Lease) Release(ctx context.Context) error {
	l := le.locker
	if l.unsafe {
		return l.Release(ctx, le.key)
	}

	n, err := releaseScript.Run(ctx, l.redis, []string{le.key}, le.token).Int64()
	if err != nil {
		lockReleaseTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("release %s: %w", le.key, err)
	}
	if n == 0 {
		lockReleaseTotal.WithLabelValues("lost").Inc()
		l.logger.Warn().Str("key", le.key).Msg("Lock expired before release, successor left untouched")
		return nil
	}

	lockReleaseTotal.WithLabelValues("released").Inc()
	l.logger.Debug().Str("key", le.key).Msg("Lock released")
	return nil
}
