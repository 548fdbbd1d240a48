// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/dataextractd/dataextractd/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_submitted_total",
		Help: "Total number of jobs submitted to the local job queue",
	})
	JobsDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_dispatched_total",
		Help: "Total number of jobs picked up by a worker",
	})
	JobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Total number of jobs that reached a terminal success status",
	})
	JobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Total number of jobs that reached a terminal failure status",
	})
	JobsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_retried_total",
		Help: "Total number of retry runs submitted",
	})
	JobProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "job_processing_duration_seconds",
		Help:    "Histogram of end-to-end job processing durations",
		Buckets: prometheus.DefBuckets,
	})
	PipelineStageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Histogram of per-stage pipeline durations",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
	QueueBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "queue_backlog",
		Help: "Current number of jobs waiting in the local job queue",
	})
	QueueWorkersAlive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "queue_workers_alive",
		Help: "Number of currently running local job queue workers",
	})
	QueueWorkerRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_worker_restarts_total",
		Help: "Total number of worker goroutines respawned after a crash",
	})
	BreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	})
	BreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_breaker_trips_total",
		Help: "Count of times the worker-restart breaker transitioned to Open",
	})
	DispatchRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_retries_total",
		Help: "Total number of dispatch subsystem retry attempts",
	})
	DispatchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_failures_total",
		Help: "Total number of jobs that exhausted dispatch retries",
	})
	StartupJobsRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "startup_jobs_recovered_total",
		Help: "Total number of jobs abandoned or requeued during startup recovery",
	})
	PersistenceLockRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "persistence_lock_retries_total",
		Help: "Total number of lock-retry attempts per persistence operation",
	}, []string{"operation"})
)

func init() {
	prometheus.MustRegister(
		JobsSubmitted, JobsDispatched, JobsCompleted, JobsFailed, JobsRetried,
		JobProcessingDuration, PipelineStageDuration,
		QueueBacklog, QueueWorkersAlive, QueueWorkerRestarts,
		BreakerState, BreakerTrips,
		DispatchRetries, DispatchFailures,
		StartupJobsRecovered, PersistenceLockRetries,
	)
}

// StartMetricsServer exposes /metrics and returns a server for controlled
// shutdown. Prefer StartHTTPServer, which also registers health endpoints.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
