// Package cache implements cache-aside reads over Redis with three
// resilience strategies against penetration, breakdown and avalanche.
//
// A Client owns the shared resources (Redis handle, rebuild locker, rebuild
// worker pool). An Entity binds one entity type to a key prefix, a TTL, a
// Codec and a Loader reading the durable store:
//
//   - QueryWithPassThrough caches a not-found marker ("") for NullTTL, so
//     lookups of ids that do not exist hit the store at most once per window.
//   - QueryWithMutex lets only the holder of "<lock prefix><id>" reload a
//     missing key. Losers back off exponentially with jitter and re-read,
//     giving up after Retry.MaxAttempts.
//   - QueryWithLogicalExpire reads keys stored without a physical TTL
//     (SetWithLogicalExpire, Warm). Stale payloads are served immediately
//     while one caller schedules a rebuild on the worker pool.
//
// # Basic Usage
//
//	client, err := cache.New(cache.Config{Redis: redisClient})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	shops, err := cache.NewEntity(client, cache.EntityConfig[*store.Shop]{
//		KeyPrefix:  cache.ShopKeyPrefix,
//		LockPrefix: cache.ShopLockPrefix,
//		TTL:        30 * time.Minute,
//		Load:       loadShop,
//	})
//
//	shop, err := shops.QueryWithMutex(ctx, "42")
//	if errors.Is(err, cache.ErrNotFound) {
//		// the shop does not exist
//	}
//
// Writes go through Update, which writes the durable store first and then
// deletes the cached key.
//
// # Failure Handling
//
// Redis read errors count as a miss and the store is consulted instead.
// Payloads that fail to decode are deleted and reloaded. ErrNotFound is a
// result, not a failure.
//
// # Metrics
//
//   - flashsale_cache_hits_total{strategy}
//   - flashsale_cache_misses_total{strategy}
//   - flashsale_cache_null_hits_total
//   - flashsale_cache_errors_total{operation}
//   - flashsale_cache_rebuilds_total{strategy,result}
//   - flashsale_cache_stale_served_total
//   - flashsale_cache_rebuild_queue_depth
package cache
