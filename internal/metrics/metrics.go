// Package metrics exposes process-local Prometheus collectors and a
// CloudWatch emitter for the periodic services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsSubmitted counts requests accepted by the frontend.
	RequestsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polytope_requests_submitted_total",
		Help: "Requests accepted for processing, by collection and verb.",
	}, []string{"collection", "verb"})

	// RequestsDispatched counts broker admissions onto the queue.
	RequestsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polytope_requests_dispatched_total",
		Help: "Requests admitted and dispatched by the broker, by collection.",
	}, []string{"collection"})

	// RequestsDeferred counts admission-control deferrals. Deferral is not an
	// error; the candidate stays queued for a later cycle.
	RequestsDeferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polytope_requests_deferred_total",
		Help: "Requests deferred by QoS admission control, by collection.",
	}, []string{"collection"})

	// RequestsCompleted counts terminal worker outcomes.
	RequestsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polytope_requests_completed_total",
		Help: "Requests reaching a terminal state in the worker, by status.",
	}, []string{"status"})

	// ArtifactsEvicted counts staging objects removed by the garbage collector.
	ArtifactsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polytope_artifacts_evicted_total",
		Help: "Staged artifacts deleted, by reason (expired, pressure, dangling, revoked).",
	}, []string{"reason"})

	// StagingBytes tracks the aggregate size of staged artifacts as last observed.
	StagingBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polytope_staging_bytes",
		Help: "Aggregate staging usage in bytes at the last garbage collector cycle.",
	})
)
