// Package metrics provides Prometheus metrics export for the memory engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports memory engine metrics in Prometheus format. A nil Exporter
// is valid and records nothing, so callers never need to guard.
type Exporter struct {
	registry *prometheus.Registry

	// Embedding cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Provider metrics
	providerLatency prometheus.Histogram
	providerErrors  prometheus.Counter

	// Search metrics
	searchLatency *prometheus.HistogramVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewExporter creates a new Prometheus metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkbase",
			Subsystem: "memory",
			Name:      "embedding_cache_hits_total",
			Help:      "Embedding cache hits by feature",
		},
		[]string{"feature"},
	)
	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkbase",
			Subsystem: "memory",
			Name:      "embedding_cache_misses_total",
			Help:      "Embedding cache misses by feature",
		},
		[]string{"feature"},
	)
	e.providerLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "linkbase",
			Subsystem: "memory",
			Name:      "embedding_provider_latency_seconds",
			Help:      "Embedding provider call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)
	e.providerErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "linkbase",
			Subsystem: "memory",
			Name:      "embedding_provider_errors_total",
			Help:      "Embedding provider call failures",
		},
	)
	e.searchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "linkbase",
			Subsystem: "memory",
			Name:      "search_latency_seconds",
			Help:      "Memory search latency in seconds by operation",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"operation"},
	)

	registry.MustRegister(
		e.cacheHits,
		e.cacheMisses,
		e.providerLatency,
		e.providerErrors,
		e.searchLatency,
	)
	return e
}

// RecordCacheHit records an embedding cache hit for a feature.
func (e *Exporter) RecordCacheHit(feature string) {
	if e == nil {
		return
	}
	e.cacheHits.WithLabelValues(feature).Inc()
}

// RecordCacheMiss records an embedding cache miss for a feature.
func (e *Exporter) RecordCacheMiss(feature string) {
	if e == nil {
		return
	}
	e.cacheMisses.WithLabelValues(feature).Inc()
}

// RecordProviderCall records an embedding provider call.
func (e *Exporter) RecordProviderCall(duration time.Duration, err error) {
	if e == nil {
		return
	}
	e.providerLatency.Observe(duration.Seconds())
	if err != nil {
		e.providerErrors.Inc()
	}
}

// RecordSearch records a search operation latency.
func (e *Exporter) RecordSearch(operation string, duration time.Duration) {
	if e == nil {
		return
	}
	e.searchLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
