package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flashsale/pkg/lock"
	"github.com/Sternrassler/flashsale/pkg/retry"
)

// Strategy labels used in metrics and logs.
const (
	StrategyPassThrough   = "pass_through"
	StrategyMutex         = "mutex"
	StrategyLogicalExpire = "logical_expire"
)

// nullValue marks a key whose entity is known to be absent.
const nullValue = ""

// Loader reads an entity from the durable store. found=false means the entity
// does not exist; err is reserved for store failures.
type Loader[T any] func(ctx context.Context, id string) (value T, found bool, err error)

// EntityConfig describes how one entity type is cached.
type EntityConfig[T any] struct {
	// KeyPrefix namespaces payload keys (REQUIRED), e.g. "cache:shop:"
	KeyPrefix string

	// LockPrefix namespaces rebuild locks (REQUIRED), e.g. "lock:shop:"
	LockPrefix string

	// TTL is the physical TTL for pass-through and mutex payloads and the
	// logical TTL used by Warm and logical-expiration rebuilds (REQUIRED)
	TTL time.Duration

	// Codec defaults to JSONCodec
	Codec Codec[T]

	// Load reads from the durable store (REQUIRED)
	Load Loader[T]
}

// Entity is the cache-aside engine for one entity type.
type Entity[T any] struct {
	client *Client
	cfg    EntityConfig[T]
	logger zerolog.Logger
}

type lookup int

const (
	lookupMiss lookup = iota
	lookupHit
	lookupNull
)

// NewEntity binds an entity type to c.
func NewEntity[T any](c *Client, cfg EntityConfig[T]) (*Entity[T], error) {
	if c == nil {
		return nil, fmt.Errorf("cache client is required")
	}
	if cfg.KeyPrefix == "" || cfg.LockPrefix == "" {
		return nil, fmt.Errorf("key and lock prefixes are required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	if cfg.Load == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec[T]{}
	}

	return &Entity[T]{
		client: c,
		cfg:    cfg,
		logger: c.logger.With().Str("prefix", cfg.KeyPrefix).Logger(),
	}, nil
}

// Key returns the payload key for id.
func (e *Entity[T]) Key(id string) string {
	return CacheKey{Prefix: e.cfg.KeyPrefix, ID: id}.String()
}

func (e *Entity[T]) lockKey(id string) string {
	return CacheKey{Prefix: e.cfg.LockPrefix, ID: id}.String()
}

// QueryWithPassThrough reads id, caching absence as well as presence so that
// repeated lookups of a missing id reach the store at most once per NullTTL.
func (e *Entity[T]) QueryWithPassThrough(ctx context.Context, id string) (T, error) {
	var zero T
	key := e.Key(id)

	v, state := e.read(ctx, key, StrategyPassThrough)
	switch state {
	case lookupHit:
		return v, nil
	case lookupNull:
		return zero, ErrNotFound
	}

	return e.loadAndStore(ctx, id, key, StrategyPassThrough)
}

// QueryWithMutex reads id and lets only the holder of the rebuild lock reload
// it on a miss. Callers that lose the race back off and re-read; after
// Retry.MaxAttempts the error wraps both retry.ErrRetryExhausted and
// ErrLockUnavailable.
func (e *Entity[T]) QueryWithMutex(ctx context.Context, id string) (T, error) {
	var result T
	key := e.Key(id)

	err := retry.Do(ctx, "cache_mutex", e.client.cfg.Retry, func() error {
		v, state := e.read(ctx, key, StrategyMutex)
		switch state {
		case lookupHit:
			result = v
			return nil
		case lookupNull:
			return ErrNotFound
		}

		lease, ok, err := e.client.locker.TryAcquire(ctx, e.lockKey(id), e.client.cfg.LockTTL)
		if err != nil {
			// Without a working lock the store is still the source of truth.
			CacheErrors.WithLabelValues("lock").Inc()
			e.logger.Warn().Err(err).Str("key", key).Msg("Rebuild lock failed, loading without lock")
			result, err = e.loadAndStore(ctx, id, key, StrategyMutex)
			return err
		}
		if !ok {
			return ErrLockUnavailable
		}
		defer e.release(ctx, lease)

		// Someone may have rebuilt the key while we were waiting for the lock.
		v, state = e.read(ctx, key, StrategyMutex)
		switch state {
		case lookupHit:
			result = v
			return nil
		case lookupNull:
			return ErrNotFound
		}

		result, err = e.loadAndStore(ctx, id, key, StrategyMutex)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// QueryWithLogicalExpire serves keys written by SetWithLogicalExpire or Warm.
// A missing key yields ErrNotFound. A stale payload is returned as-is while at
// most one caller schedules an asynchronous rebuild.
func (e *Entity[T]) QueryWithLogicalExpire(ctx context.Context, id string) (T, error) {
	var zero T
	key := e.Key(id)

	entry, v, state := e.readEntry(ctx, key)
	if state != lookupHit {
		return zero, ErrNotFound
	}
	now := e.client.cfg.Now()
	if !entry.IsExpired(now) {
		e.logger.Debug().Str("key", key).Dur("fresh_for", entry.TTL(now)).Msg("Logical-expiry hit")
		return v, nil
	}
	e.logger.Debug().Str("key", key).Dur("stale_for", now.Sub(entry.ExpireTime)).Msg("Logical-expiry stale")

	lease, ok, err := e.client.locker.TryAcquire(ctx, e.lockKey(id), e.client.cfg.LockTTL)
	if err != nil {
		CacheErrors.WithLabelValues("lock").Inc()
		e.logger.Warn().Err(err).Str("key", key).Msg("Rebuild lock failed, serving stale payload")
	}
	if !ok {
		StaleServed.Inc()
		return v, nil
	}

	if fresh, fv, st := e.readEntry(ctx, key); st == lookupHit && !fresh.IsExpired(e.client.cfg.Now()) {
		e.release(ctx, lease)
		return fv, nil
	}

	accepted := e.client.pool.submit(func(rctx context.Context) {
		defer e.release(rctx, lease)
		e.rebuild(rctx, id, key)
	})
	if !accepted {
		Rebuilds.WithLabelValues(StrategyLogicalExpire, "dropped").Inc()
		e.logger.Warn().Str("key", key).Msg("Rebuild pool saturated, rebuild dropped")
		e.release(ctx, lease)
	}

	StaleServed.Inc()
	return v, nil
}

// SetWithLogicalExpire stores v without a physical TTL; it turns stale after ttl.
// A non-positive ttl stores an already stale payload.
func (e *Entity[T]) SetWithLogicalExpire(ctx context.Context, id string, v T, ttl time.Duration) error {
	data, err := e.cfg.Codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Key(id), err)
	}

	envelope, err := json.Marshal(CacheEntry{
		Data:       data,
		ExpireTime: e.client.cfg.Now().Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", e.Key(id), err)
	}

	if err := e.client.redis.Set(ctx, e.Key(id), envelope, 0).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Warm loads id from the store and stores it with logical expiration.
func (e *Entity[T]) Warm(ctx context.Context, id string) error {
	v, found, err := e.cfg.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load %s: %w", e.Key(id), err)
	}
	if !found {
		return ErrNotFound
	}
	return e.SetWithLogicalExpire(ctx, id, v, e.cfg.TTL)
}

// Set stores v with the physical TTL.
func (e *Entity[T]) Set(ctx context.Context, id string, v T) error {
	data, err := e.cfg.Codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Key(id), err)
	}
	if err := e.client.redis.Set(ctx, e.Key(id), data, e.cfg.TTL).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate removes the cached payload of id.
func (e *Entity[T]) Invalidate(ctx context.Context, id string) error {
	if err := e.client.redis.Del(ctx, e.Key(id)).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Update runs write against the durable store and then drops the cached
// payload. The cache is never written on this path.
func (e *Entity[T]) Update(ctx context.Context, id string, write func(context.Context) error) error {
	if err := write(ctx); err != nil {
		return err
	}
	if err := e.Invalidate(ctx, id); err != nil {
		e.logger.Error().Err(err).Str("key", e.Key(id)).Msg("Cache invalidation after update failed")
		return err
	}
	return nil
}

// read fetches a physical-TTL payload. Redis failures are reported as a miss.
func (e *Entity[T]) read(ctx context.Context, key, strategy string) (T, lookup) {
	var zero T

	data, err := e.client.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		CacheMisses.WithLabelValues(strategy).Inc()
		return zero, lookupMiss
	}
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		CacheMisses.WithLabelValues(strategy).Inc()
		e.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed, falling back to store")
		return zero, lookupMiss
	}

	if string(data) == nullValue {
		NullHits.Inc()
		return zero, lookupNull
	}

	v, err := e.cfg.Codec.Unmarshal(data)
	if err != nil {
		e.discard(ctx, key, err)
		CacheMisses.WithLabelValues(strategy).Inc()
		return zero, lookupMiss
	}

	CacheHits.WithLabelValues(strategy).Inc()
	e.logger.Debug().Str("key", key).Str("strategy", strategy).Msg("Cache hit")
	return v, lookupHit
}

// readEntry fetches a logical-expiration envelope and its decoded payload.
func (e *Entity[T]) readEntry(ctx context.Context, key string) (*CacheEntry, T, lookup) {
	var zero T

	data, err := e.client.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			CacheErrors.WithLabelValues("get").Inc()
			e.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		CacheMisses.WithLabelValues(StrategyLogicalExpire).Inc()
		return nil, zero, lookupMiss
	}
	if string(data) == nullValue {
		NullHits.Inc()
		return nil, zero, lookupNull
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		e.discard(ctx, key, err)
		CacheMisses.WithLabelValues(StrategyLogicalExpire).Inc()
		return nil, zero, lookupMiss
	}
	v, err := e.cfg.Codec.Unmarshal(entry.Data)
	if err != nil {
		e.discard(ctx, key, err)
		CacheMisses.WithLabelValues(StrategyLogicalExpire).Inc()
		return nil, zero, lookupMiss
	}

	CacheHits.WithLabelValues(StrategyLogicalExpire).Inc()
	return &entry, v, lookupHit
}

// loadAndStore reloads id and writes the payload or the not-found marker.
func (e *Entity[T]) loadAndStore(ctx context.Context, id, key, strategy string) (T, error) {
	var zero T

	v, found, err := e.cfg.Load(ctx, id)
	if err != nil {
		Rebuilds.WithLabelValues(strategy, "error").Inc()
		return zero, fmt.Errorf("load %s: %w", key, err)
	}

	if !found {
		Rebuilds.WithLabelValues(strategy, "not_found").Inc()
		if err := e.client.redis.Set(ctx, key, nullValue, e.client.cfg.NullTTL).Err(); err != nil {
			CacheErrors.WithLabelValues("set").Inc()
			e.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache not-found marker")
		}
		return zero, ErrNotFound
	}

	Rebuilds.WithLabelValues(strategy, "ok").Inc()
	if err := e.Set(ctx, id, v); err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache payload")
	}
	return v, nil
}

// rebuild refreshes a logical-expiration key. It runs on a pool worker.
func (e *Entity[T]) rebuild(ctx context.Context, id, key string) {
	start := time.Now()

	v, found, err := e.cfg.Load(ctx, id)
	if err != nil {
		Rebuilds.WithLabelValues(StrategyLogicalExpire, "error").Inc()
		e.logger.Error().Err(err).Str("key", key).Msg("Cache rebuild failed")
		return
	}

	if !found {
		Rebuilds.WithLabelValues(StrategyLogicalExpire, "not_found").Inc()
		if err := e.client.redis.Del(ctx, key).Err(); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
		}
		e.logger.Info().Str("key", key).Msg("Entity gone, cache key removed")
		return
	}

	if err := e.SetWithLogicalExpire(ctx, id, v, e.cfg.TTL); err != nil {
		Rebuilds.WithLabelValues(StrategyLogicalExpire, "error").Inc()
		e.logger.Error().Err(err).Str("key", key).Msg("Cache rebuild write failed")
		return
	}

	Rebuilds.WithLabelValues(StrategyLogicalExpire, "ok").Inc()
	e.logger.Info().
		Str("key", key).
		Dur("duration", time.Since(start)).
		Msg("Cache rebuilt")
}

// discard deletes an undecodable payload so the next read reloads it.
func (e *Entity[T]) discard(ctx context.Context, key string, cause error) {
	CacheErrors.WithLabelValues("decode").Inc()
	e.logger.Warn().Err(cause).Str("key", key).Msg("Invalid cache entry, deleting")
	if err := e.client.redis.Del(ctx, key).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
	}
}

func (e *Entity[T]) release(ctx context.Context, lease *lock.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn().Err(err).Str("key", lease.Key()).Msg("Rebuild lock release failed, waiting for TTL")
	}
}
