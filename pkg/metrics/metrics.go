// Package metrics exposes Prometheus instrumentation for the viewport cache.
// Every series is labelled with the cache name so several caches can share
// one registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_hits_total",
			Help: "Viewport queries answered from a containing cache entry",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_misses_total",
			Help: "Viewport queries that required a dataset provider call",
		},
		[]string{"cache"},
	)

	CacheSharedFlights = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_shared_flights_total",
			Help: "Misses that joined an identical in-flight provider call",
		},
		[]string{"cache"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_evictions_total",
			Help: "Cache entries removed, by reason",
		},
		[]string{"cache", "reason"}, // "subsumed", "capacity", "invalidated"
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viewcache_entries",
			Help: "Current number of cached viewport entries",
		},
		[]string{"cache"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_provider_errors_total",
			Help: "Dataset provider calls that failed",
		},
		[]string{"cache"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "viewcache_provider_duration_seconds",
			Help:    "Duration of dataset provider calls",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"cache", "method"}, // "get_all", "within"
	)

	ProviderBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "viewcache_provider_breaker_state",
			Help: "Provider circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)
)
