package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsQueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bowsergen_jobs_queued_total",
		Help: "Jobs accepted into a server queue.",
	}, []string{"server"})

	jobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bowsergen_jobs_completed_total",
		Help: "Jobs that finished every requested iteration.",
	}, []string{"server"})

	jobsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bowsergen_jobs_failed_total",
		Help: "Jobs halted by a submission or execution error.",
	}, []string{"server"})

	jobsCanceledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bowsergen_jobs_canceled_total",
		Help: "Jobs canceled before completion.",
	}, []string{"server"})

	iterationsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bowsergen_iterations_completed_total",
		Help: "Individual workflow iterations completed.",
	}, []string{"server"})

	activeJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bowsergen_active_jobs",
		Help: "Submissions currently in flight per server (0 or 1).",
	}, []string{"server"})

	pendingJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bowsergen_pending_jobs",
		Help: "Jobs waiting in a server queue.",
	}, []string{"server"})
)
