package lock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashsale_lock_acquire_total",
			Help: "Total number of lock acquisition attempts by result",
		},
		[]string{"result"}, // "acquired", "contended", "error"
	)

	lockReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashsale_lock_release_total",
			Help: "Total number of lock releases by result",
		},
		[]string{"result"}, // "released", "lost", "error"
	)
)
