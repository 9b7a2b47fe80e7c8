// Package metrics exports ingestion, model-request and query metrics in
// Prometheus format on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "langserver"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing,
// so components can be built without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	chunksIngested *prometheus.CounterVec
	modelRetries   *prometheus.CounterVec
	modelFailures  *prometheus.CounterVec
	queryLatency   *prometheus.HistogramVec
	cacheRefreshes prometheus.Counter
}

// New creates Metrics registered on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		chunksIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks embedded and upserted, by source type.",
		}, []string{"source_type"}),
		modelRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "retries_total",
			Help:      "Model requests retried after a transient failure.",
		}, []string{"op"}),
		modelFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "failures_total",
			Help:      "Model requests that failed after all attempts.",
		}, []string{"op", "reason"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "query_latency_seconds",
			Help:      "Query latency in seconds, by mode.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"mode"}),
		cacheRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vectorstore",
			Name:      "cache_refreshes_total",
			Help:      "Collection-list refreshes against the vector store.",
		}),
	}

	reg.MustRegister(
		m.chunksIngested,
		m.modelRetries,
		m.modelFailures,
		m.queryLatency,
		m.cacheRefreshes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ChunksIngested adds n chunks for the given source type.
func (m *Metrics) ChunksIngested(sourceType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunksIngested.WithLabelValues(sourceType).Add(float64(n))
}

// ModelRetry records one retry of op.
func (m *Metrics) ModelRetry(op string) {
	if m == nil {
		return
	}
	m.modelRetries.WithLabelValues(op).Inc()
}

// ModelFailure records a final failure of op.
func (m *Metrics) ModelFailure(op, reason string) {
	if m == nil {
		return
	}
	m.modelFailures.WithLabelValues(op, reason).Inc()
}

// ObserveQuery records the latency of a query in the given mode.
func (m *Metrics) ObserveQuery(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.queryLatency.WithLabelValues(mode).Observe(d.Seconds())
}

// CacheRefresh records a collection-list refresh.
func (m *Metrics) CacheRefresh() {
	if m == nil {
		return
	}
	m.cacheRefreshes.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
