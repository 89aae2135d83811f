package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "travelflow"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route pattern, method and status code.",
	}, []string{"route", "method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	// EnrichmentTotal counts geocoding and weather lookups. result is one of
	// resolved, unresolved or error.
	EnrichmentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_lookups_total",
		Help:      "Itinerary enrichment lookups by kind and result.",
	}, []string{"kind", "result"})

	PersistenceWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persistence_writes_total",
		Help:      "Trip document writes by result.",
	}, []string{"result"})

	AIProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ai_provider_requests_total",
		Help:      "AI provider calls by provider and result.",
	}, []string{"provider", "result"})

	SyncStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_status_transitions_total",
		Help:      "Trip repository sync status transitions by target status.",
	}, []string{"status"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Loaded per-user trip repositories.",
	})
)

const (
	ResultResolved   = "resolved"
	ResultUnresolved = "unresolved"
	ResultError      = "error"
	ResultSuccess    = "success"
	ResultFailure    = "failure"
)
