package matching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	holdDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "location_hold_seconds",
		Help:    "Time spent acquiring a departure location and listing its spaceships.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	lockAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "location_lock_attempts_total",
		Help: "Total location lock attempts grouped by outcome.",
	}, []string{"result"})
)
