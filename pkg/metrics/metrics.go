// Package metrics exposes the Prometheus registry used by the flash-sale packages.
// All metrics are defined in their respective packages (cache, lock, retry, seckill)
// to maintain modularity and avoid circular dependencies.
//
// This package provides the scrape handler and a reference of the available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the scrape endpoint for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - flashsale_cache_hits_total{strategy} (Counter): Payload hits by strategy
//   - flashsale_cache_misses_total{strategy} (Counter): Misses by strategy
//   - flashsale_cache_null_hits_total (Counter): Reads answered by a not-found marker
//   - flashsale_cache_errors_total{operation} (Counter): Redis and decode errors
//   - flashsale_cache_rebuilds_total{strategy, result} (Counter): Store loads by outcome
//   - flashsale_cache_stale_served_total (Counter): Stale payloads served during rebuilds
//   - flashsale_cache_rebuild_queue_depth (Gauge): Rebuilds waiting for a worker
//
// Lock Metrics (pkg/lock):
//   - flashsale_lock_acquire_total{result} (Counter): acquired, contended, error
//   - flashsale_lock_release_total{result} (Counter): released, lost, error
//
// Retry Metrics (pkg/retry):
//   - flashsale_retries_total{operation} (Counter): Retry attempts
//   - flashsale_retry_backoff_seconds{operation} (Histogram): Backoff durations
//   - flashsale_retry_exhausted_total{operation} (Counter): Operations that ran out of attempts
//
// Seckill Metrics (pkg/seckill):
//   - flashsale_reservations_total{result} (Counter): Submissions by outcome
//   - flashsale_order_queue_depth (Gauge): Reserved orders waiting to be persisted
//   - flashsale_orders_persisted_total (Counter): Orders written to the durable store
//   - flashsale_orders_dropped_total{reason} (Counter): Reserved orders that were lost
//   - flashsale_order_persist_duration_seconds (Histogram): Time to persist one order
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(flashsale_cache_hits_total[5m])) /
//   (sum(rate(flashsale_cache_hits_total[5m])) + sum(rate(flashsale_cache_misses_total[5m])))
//
//   # Lock contention on rebuilds
//   rate(flashsale_lock_acquire_total{result="contended"}[5m])
//
//   # Lost orders (must stay at zero)
//   increase(flashsale_orders_dropped_total[1h])
//
//   # P95 persistence latency
//   histogram_quantile(0.95, rate(flashsale_order_persist_duration_seconds_bucket[5m]))
