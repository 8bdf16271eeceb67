package seckill

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashsale_reservations_total",
			Help: "Total number of seckill submissions by result",
		},
		[]string{"result"}, // "accepted", "sold_out", "duplicate", "not_started", "ended", "error"
	)

	orderQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flashsale_order_queue_depth",
			Help: "Number of reserved orders waiting to be persisted",
		},
	)

	ordersPersistedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flashsale_orders_persisted_total",
			Help: "Total number of orders written to the durable store",
		},
	)

	ordersDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashsale_orders_dropped_total",
			Help: "Total number of reserved orders that could not be persisted",
		},
		[]string{"reason"}, // "lock_error", "lock_busy", "duplicate", "sold_out", "store_error"
	)

	orderPersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flashsale_order_persist_duration_seconds",
			Help:    "Time spent persisting one order",
			Buckets: prometheus.DefBuckets,
		},
	)
)
