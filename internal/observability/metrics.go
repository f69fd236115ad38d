package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// WAQI feed call rate by outcome. Watch for: error vs success ratio.
	FeedRequestsTotal *prometheus.CounterVec

	// WAQI feed latency per request. Watch for: p95 > 2s (upstream degradation).
	FeedRequestDuration *prometheus.HistogramVec

	// Resolves served straight from the store. Hit rate = hits/(hits+misses).
	CacheHitsTotal prometheus.Counter

	// Resolves that had to go upstream while caching was enabled.
	CacheMissesTotal prometheus.Counter

	// Upstream fetch outcomes: ok, fault, transport_error.
	FetchesTotal *prometheus.CounterVec

	// Fault entries written to the store. Watch for: bad place keys, quota exhaustion.
	FaultsCachedTotal prometheus.Counter

	// Fault entries rendered to callers.
	FaultsServedTotal prometheus.Counter

	// Store backend failures by operation. Watch for: backend outages.
	StoreErrorsTotal *prometheus.CounterVec

	// Total place resolutions requested.
	PlaceQueriesTotal prometheus.Counter

	// Per-place query count (allow-list; others go to "other").
	PlaceQueriesByPlaceTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Warming sweep counts and latency.
	WarmingRunsTotal       prometheus.Counter
	WarmingErrorsTotal     prometheus.Counter
	WarmingDurationSeconds prometheus.Histogram

	// Circuit breaker state: 0 closed, 1 open, 2 half-open.
	BreakerState prometheus.Gauge

	// Circuit breaker transitions. Watch for: flapping upstream.
	BreakerTransitionsTotal *prometheus.CounterVec

	// trackedPlaces is built from config; bounds the place label set.
	trackedPlacesMu sync.RWMutex
	trackedPlaces   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	FeedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedRequestsTotal",
			Help: "Total number of WAQI feed requests",
		},
		[]string{"status"},
	)
	FeedRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedRequestDurationSeconds",
			Help:    "WAQI feed latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of resolves served from the store",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of resolves that missed the store with caching enabled",
		},
	)
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedFetchesTotal",
			Help: "Upstream fetch outcomes (ok, fault, transport_error)",
		},
		[]string{"outcome"},
	)
	FaultsCachedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultsCachedTotal",
			Help: "Total number of fault entries written to the store",
		},
	)
	FaultsServedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultsServedTotal",
			Help: "Total number of fault entries rendered to callers",
		},
	)
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeErrorsTotal",
			Help: "Store backend failures by operation",
		},
		[]string{"operation"},
	)
	PlaceQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "placeQueriesTotal",
			Help: "Total number of place resolutions requested",
		},
	)
	PlaceQueriesByPlaceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placeQueriesByPlaceTotal",
			Help: "Place queries by place (allow-list; others use place=other)",
		},
		[]string{"place"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	WarmingRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warmingRunsTotal",
			Help: "Total number of warming sweeps started",
		},
	)
	WarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warmingErrorsTotal",
			Help: "Total number of warming sweeps with at least one failure",
		},
	)
	WarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warmingDurationSeconds",
			Help:    "Warming sweep duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Feed circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
	)
	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		FeedRequestsTotal, FeedRequestDuration,
		CacheHitsTotal, CacheMissesTotal,
		FetchesTotal, FaultsCachedTotal, FaultsServedTotal, StoreErrorsTotal,
		PlaceQueriesTotal, PlaceQueriesByPlaceTotal,
		RateLimitDeniedTotal,
		WarmingRunsTotal, WarmingErrorsTotal, WarmingDurationSeconds,
		BreakerState, BreakerTransitionsTotal,
	)
}

// SetTrackedPlaces sets the allow-list for place metrics. Non-tracked
// places increment "other", keeping label cardinality bounded.
func SetTrackedPlaces(places []string) {
	trackedPlacesMu.Lock()
	defer trackedPlacesMu.Unlock()
	trackedPlaces = make(map[string]struct{}, len(places))
	for _, place := range places {
		trackedPlaces[placeLabel(place)] = struct{}{}
	}
}

// RecordPlaceQuery records one resolution request for place.
func RecordPlaceQuery(place string) {
	PlaceQueriesTotal.Inc()
	label := placeLabel(place)
	trackedPlacesMu.RLock()
	_, ok := trackedPlaces[label]
	trackedPlacesMu.RUnlock()
	if ok {
		PlaceQueriesByPlaceTotal.WithLabelValues(label).Inc()
	} else {
		PlaceQueriesByPlaceTotal.WithLabelValues("other").Inc()
	}
}

// placeLabel folds case for label stability only; cache keys stay exact.
func placeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
