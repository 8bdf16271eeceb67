package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks payload hits by strategy
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashsale_cache_hits_total",
			Help: "Total number of cache hits by strategy",
		},
		[]string{"strategy"}, // "pass_through", "mutex", "logical_expire"
	)

	// CacheMisses tracks misses by strategy
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashsale_cache_misses_total",
			Help: "Total number of cache misses by strategy",
		},
		[]string{"strategy"},
	)

	// NullHits tracks reads answered by a cached absence marker
	NullHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flashsale_cache_null_hits_total",
			Help: "Total number of reads answered by a cached not-found marker",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashsale_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "decode", "lock"
	)

	// Rebuilds tracks loads from the durable store by strategy and result
	Rebuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashsale_cache_rebuilds_total",
			Help: "Total number of cache rebuilds from the durable store",
		},
		[]string{"strategy", "result"}, // result: "ok", "not_found", "error", "dropped"
	)

	// StaleServed tracks logically expired payloads returned to callers
	StaleServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flashsale_cache_stale_served_total",
			Help: "Total number of logically expired payloads served while a rebuild is pending",
		},
	)

	rebuildQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flashsale_cache_rebuild_queue_depth",
			Help: "Number of rebuild tasks waiting for a worker",
		},
	)
)
