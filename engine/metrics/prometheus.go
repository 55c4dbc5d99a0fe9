// Package metrics provides Prometheus metrics export for the
// recommendation core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/savorhq/tastecore/store"
)

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
		LatencyBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}
}

// PrometheusExporter exports core metrics in Prometheus format. It
// implements the Metrics interfaces of the cache, index, pipeline and
// recommendation packages.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Enrichment metrics
	queueDepth       prometheus.Gauge
	providerRequests *prometheus.CounterVec
	taskOutcomes     *prometheus.CounterVec

	// Index metrics
	indexQueryLatency prometheus.Histogram

	// Recommendation metrics
	recLatency *prometheus.HistogramVec
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tastecore",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"tier", "category"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tastecore",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"category"},
	)

	e.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tastecore",
			Subsystem: "enrich",
			Name:      "queue_depth",
			Help:      "Number of undone enrichment tasks",
		},
	)

	e.providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tastecore",
			Subsystem: "enrich",
			Name:      "provider_requests_total",
			Help:      "Total number of embedding provider requests",
		},
		[]string{"status"},
	)

	e.taskOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tastecore",
			Subsystem: "enrich",
			Name:      "task_outcomes_total",
			Help:      "Total number of settled enrichment tasks",
		},
		[]string{"status"},
	)

	e.indexQueryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tastecore",
			Subsystem: "index",
			Name:      "query_latency_seconds",
			Help:      "Vector index query latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.recLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tastecore",
			Subsystem: "recommend",
			Name:      "latency_seconds",
			Help:      "Recommendation request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"mode"},
	)

	registry.MustRegister(
		e.cacheHits,
		e.cacheMisses,
		e.queueDepth,
		e.providerRequests,
		e.taskOutcomes,
		e.indexQueryLatency,
		e.recLatency,
	)

	return e
}

// RecordCacheHit records a hit on the given tier.
func (e *PrometheusExporter) RecordCacheHit(tier string, category string) {
	e.cacheHits.WithLabelValues(tier, category).Inc()
}

// RecordCacheMiss records a full miss.
func (e *PrometheusExporter) RecordCacheMiss(category string) {
	e.cacheMisses.WithLabelValues(category).Inc()
}

// SetQueueDepth records the enrichment backlog size.
func (e *PrometheusExporter) SetQueueDepth(depth int) {
	e.queueDepth.Set(float64(depth))
}

// RecordProviderRequest records one embedding provider call.
func (e *PrometheusExporter) RecordProviderRequest(failed bool) {
	status := "success"
	if failed {
		status = "error"
	}
	e.providerRequests.WithLabelValues(status).Inc()
}

// RecordTaskOutcome records a settled enrichment task.
func (e *PrometheusExporter) RecordTaskOutcome(status store.EnrichmentTaskStatus) {
	e.taskOutcomes.WithLabelValues(string(status)).Inc()
}

// ObserveIndexQuery records a vector index query duration.
func (e *PrometheusExporter) ObserveIndexQuery(seconds float64) {
	e.indexQueryLatency.Observe(seconds)
}

// ObserveRecommendation records a recommendation request duration.
func (e *PrometheusExporter) ObserveRecommendation(seconds float64, degraded bool) {
	mode := "full"
	if degraded {
		mode = "degraded"
	}
	e.recLatency.WithLabelValues(mode).Observe(seconds)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}
