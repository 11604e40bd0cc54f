// Package metrics registers Kestrel's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NarrativesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_narratives_total",
			Help: "Total number of SAR narratives produced",
		},
		[]string{"backend", "outcome"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_generation_duration_seconds",
			Help:    "End-to-end narrative generation latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 15, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	RetrievalFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_retrieval_fallbacks_total",
			Help: "Total number of template retrievals that used the fallback template",
		},
	)

	RiskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_risk_score",
			Help:    "Distribution of assigned risk scores",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		},
	)

	CaseActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_cases_total",
			Help: "Total number of case workflow actions",
		},
		[]string{"action"},
	)

	BackendCircuitOpen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_backend_circuit_open_total",
			Help: "Total number of generation calls short-circuited by the breaker",
		},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_cache_requests_total",
			Help: "Cache lookups by layer and result",
		},
		[]string{"layer", "result"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	BusDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_bus_dropped_total",
			Help: "Messages the in-process bus could not deliver",
		},
		[]string{"topic"},
	)
)
