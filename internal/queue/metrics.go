package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_submitted_total",
		Help: "Jobs submitted to the backlog grouped by kind and outcome.",
	}, []string{"kind", "result"})

	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_processed_total",
		Help: "Job attempts grouped by kind and outcome.",
	}, []string{"kind", "result"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_job_duration_seconds",
		Help:    "Time spent running a job attempt.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_jobs_active",
		Help: "Jobs currently executing.",
	})
)
