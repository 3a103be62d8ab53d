package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "verirag"

// Metrics holds the Prometheus collectors and the query log. Collectors live
// on a private registry so tests and multiple engines in one process never
// collide on registration.
//
// Every method is safe on a nil *Metrics, so components take an optional
// metrics pointer without guarding each call.
type Metrics struct {
	registry *prometheus.Registry
	queries  *QueryLog

	searchesTotal   *prometheus.CounterVec
	searchDuration  prometheus.Histogram
	sourceResults   *prometheus.HistogramVec
	sourceDuration  *prometheus.HistogramVec
	sourceFailures  *prometheus.CounterVec
	gateDecisions   *prometheus.CounterVec
	judgeCalls      prometheus.Counter
	graphNodes      prometheus.Gauge
	graphEdges      prometheus.Gauge
	graphRejected   prometheus.Gauge
	graphUnresolved prometheus.Gauge
	indexChunks     prometheus.Gauge
	indexVectors    prometheus.Gauge
	indexBuilds     *prometheus.CounterVec
	indexBuildTime  prometheus.Histogram
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		queries:  NewQueryLog(DefaultQueryLogConfig()),

		searchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Hybrid searches by outcome (results, empty).",
		}, []string{"outcome"}),
		searchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end hybrid search latency.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		sourceResults: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_results",
			Help:      "Candidates returned per retrieval source.",
			Buckets:   []float64{0, 1, 3, 5, 10, 20, 50},
		}, []string{"source"}),
		sourceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_duration_seconds",
			Help:      "Latency per retrieval source.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"source"}),
		sourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Retrieval sources that degraded to zero results.",
		}, []string{"source", "reason"}),
		gateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Confidence gate decisions by tier.",
		}, []string{"tier", "use"}),
		judgeCalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_calls_total",
			Help:      "Calls to the relevance judge.",
		}),
		graphNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Nodes in the document graph.",
		}),
		graphEdges: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_edges",
			Help:      "Adjacency entries in the document graph.",
		}),
		graphRejected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_rejected_edges",
			Help:      "Edges dropped because an endpoint was missing.",
		}),
		graphUnresolved: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_unresolved_refs",
			Help:      "Chunk metadata references that matched no node.",
		}),
		indexChunks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_chunks",
			Help:      "Chunks in the active snapshot.",
		}),
		indexVectors: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_vectors",
			Help:      "Vectors in the active snapshot.",
		}),
		indexBuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Snapshot builds by status.",
		}, []string{"status"}),
		indexBuildTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_build_duration_seconds",
			Help:      "Snapshot build latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Queries returns the in-process query log.
func (m *Metrics) Queries() *QueryLog {
	if m == nil {
		return nil
	}
	return m.queries
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSearch records one completed hybrid search and adds it to the
// query log.
func (m *Metrics) ObserveSearch(query string, results int, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "results"
	if results == 0 {
		outcome = "empty"
	}
	m.searchesTotal.WithLabelValues(outcome).Inc()
	m.searchDuration.Observe(d.Seconds())
	m.queries.Record(QueryEvent{Query: query, ResultCount: results, Latency: d, Timestamp: time.Now()})
}

// ObserveSource records a source that answered.
func (m *Metrics) ObserveSource(source string, results int, d time.Duration) {
	if m == nil {
		return
	}
	m.sourceResults.WithLabelValues(source).Observe(float64(results))
	m.sourceDuration.WithLabelValues(source).Observe(d.Seconds())
}

// SourceFailed records a source that degraded to zero results. reason is
// one of error, timeout, panic, circuit_open.
func (m *Metrics) SourceFailed(source, reason string) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(source, reason).Inc()
}

// ObserveDecision records a confidence gate decision.
func (m *Metrics) ObserveDecision(tier string, use, judgeCalled bool) {
	if m == nil {
		return
	}
	useLabel := "false"
	if use {
		useLabel = "true"
	}
	m.gateDecisions.WithLabelValues(tier, useLabel).Inc()
	if judgeCalled {
		m.judgeCalls.Inc()
	}
	m.queries.RecordTier(tier)
}

// SetGraphStats publishes the active graph's size and diagnostics.
func (m *Metrics) SetGraphStats(nodes, edges int, rejected, unresolved int64) {
	if m == nil {
		return
	}
	m.graphNodes.Set(float64(nodes))
	m.graphEdges.Set(float64(edges))
	m.graphRejected.Set(float64(rejected))
	m.graphUnresolved.Set(float64(unresolved))
}

// SetIndexSize publishes the active snapshot's size.
func (m *Metrics) SetIndexSize(chunks, vectors int) {
	if m == nil {
		return
	}
	m.indexChunks.Set(float64(chunks))
	m.indexVectors.Set(float64(vectors))
}

// ObserveIndexBuild records a snapshot build; status is ok or error.
func (m *Metrics) ObserveIndexBuild(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.indexBuilds.WithLabelValues(status).Inc()
	m.indexBuildTime.Observe(d.Seconds())
}
