// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

// Package metrics holds the Prometheus instrumentation for Pagesync.
//
// Collectors are package-level promauto globals registered on the default
// registry; callers use the Record* helpers rather than touching vectors
// directly.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline step metrics
	PagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_pages_processed_total",
			Help: "Page steps completed, by resource and terminal status",
		},
		[]string{"resource", "status"}, // chained, finished, aborted, stale
	)

	RecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_records_fetched_total",
			Help: "Records returned by the upstream, by resource",
		},
		[]string{"resource"},
	)

	RecordsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_records_applied_total",
			Help: "Records inserted or changed in the local store, by resource",
		},
		[]string{"resource"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagesync_step_duration_seconds",
			Help:    "Duration of one page step phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource", "phase"}, // fetch, apply, total
	)

	StepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_step_errors_total",
			Help: "Page step failures, by resource and error kind",
		},
		[]string{"resource", "kind"},
	)

	// Lock metrics
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_lock_acquisitions_total",
			Help: "Lock acquisition attempts, by resource and result",
		},
		[]string{"resource", "result"}, // acquired, already_running, error
	)

	LockReleases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_lock_releases_total",
			Help: "Lock release attempts, by resource and result",
		},
		[]string{"resource", "result"}, // released, not_owner
	)

	// Queue metrics
	JobsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_jobs_dispatched_total",
			Help: "Continuation jobs enqueued, by queue and result",
		},
		[]string{"queue", "result"},
	)

	JobsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_jobs_consumed_total",
			Help: "Jobs received from the queue, by queue and result",
		},
		[]string{"queue", "result"}, // handled, malformed, poisoned
	)

	// Trigger metrics
	TriggerFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_trigger_fired_total",
			Help: "Trigger invocations, by resource, source and outcome",
		},
		[]string{"resource", "source", "outcome"}, // source: schedule, manual
	)

	// Upstream client metrics
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_upstream_requests_total",
			Help: "Upstream list requests, by resource and HTTP status",
		},
		[]string{"resource", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagesync_upstream_request_duration_seconds",
			Help:    "Upstream list request latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"resource"},
	)

	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_upstream_retries_total",
			Help: "Upstream request retries, by resource",
		},
		[]string{"resource"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pagesync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Ops API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagesync_api_requests_total",
			Help: "Ops API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagesync_api_request_duration_seconds",
			Help:    "Ops API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagesync_api_active_requests",
			Help: "Ops API requests in flight",
		},
	)

	// Local store metrics
	StoreApplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagesync_store_apply_duration_seconds",
			Help:    "Duration of one upsert batch transaction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource", "driver"},
	)
)

// RecordStep records the terminal status of one page step.
func RecordStep(resource, status string, fetched, applied int, duration time.Duration) {
	PagesProcessed.WithLabelValues(resource, status).Inc()
	RecordsFetched.WithLabelValues(resource).Add(float64(fetched))
	RecordsApplied.WithLabelValues(resource).Add(float64(applied))
	StepDuration.WithLabelValues(resource, "total").Observe(duration.Seconds())
}

// RecordPhase records the duration of one phase of a page step.
func RecordPhase(resource, phase string, duration time.Duration) {
	StepDuration.WithLabelValues(resource, phase).Observe(duration.Seconds())
}

// RecordStepError counts a page step failure of the given kind.
func RecordStepError(resource, kind string) {
	StepErrors.WithLabelValues(resource, kind).Inc()
}

// RecordLockAcquire counts a lock acquisition attempt.
func RecordLockAcquire(resource, result string) {
	LockAcquisitions.WithLabelValues(resource, result).Inc()
}

// RecordLockRelease counts a lock release attempt.
func RecordLockRelease(resource, result string) {
	LockReleases.WithLabelValues(resource, result).Inc()
}

// RecordDispatch counts a continuation job enqueue.
func RecordDispatch(queue string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	JobsDispatched.WithLabelValues(queue, result).Inc()
}

// RecordConsume counts a job taken off the queue.
func RecordConsume(queue, result string) {
	JobsConsumed.WithLabelValues(queue, result).Inc()
}

// RecordTrigger counts a trigger invocation.
func RecordTrigger(resource, source, outcome string) {
	TriggerFired.WithLabelValues(resource, source, outcome).Inc()
}

// RecordUpstreamRequest records one upstream HTTP exchange. A status of 0
// means the request failed before a response arrived.
func RecordUpstreamRequest(resource string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	UpstreamRequests.WithLabelValues(resource, label).Inc()
	UpstreamRequestDuration.WithLabelValues(resource).Observe(duration.Seconds())
}

// RecordUpstreamRetry counts a retried upstream request.
func RecordUpstreamRetry(resource string) {
	UpstreamRetries.WithLabelValues(resource).Inc()
}

// RecordCircuitBreakerTransition updates the breaker gauge and transition counter.
func RecordCircuitBreakerTransition(name, from, to string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordStoreApply records one upsert batch.
func RecordStoreApply(resource, driver string, duration time.Duration) {
	StoreApplyDuration.WithLabelValues(resource, driver).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight API request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}

// RecordAPIRequest records one ops API request. route is the matched route
// pattern, not the raw path.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
