// Package metrics provides Prometheus instrumentation for mcprouter.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector mcprouter registers.
type Metrics struct {
	IndexRunsTotal     *prometheus.CounterVec
	IndexRunDuration   prometheus.Histogram
	ToolsIndexedTotal  *prometheus.CounterVec
	ServerFailureTotal *prometheus.CounterVec
	SearchLatency      prometheus.Histogram
	SearchResultCount  prometheus.Histogram
	CallLatency        *prometheus.HistogramVec
	ActiveServers      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers every mcprouter metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		IndexRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcprouter_index_runs_total",
				Help: "Total indexing runs by outcome.",
			},
			[]string{"outcome"},
		),
		IndexRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mcprouter_index_run_duration_seconds",
				Help:    "Wall-clock duration of a full indexing run.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ToolsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcprouter_tools_indexed_total",
				Help: "Total tools processed by outcome (indexed/failed).",
			},
			[]string{"outcome"},
		),
		ServerFailureTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcprouter_server_failures_total",
				Help: "Total per-server indexing failures by server name.",
			},
			[]string{"server"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mcprouter_search_latency_seconds",
				Help:    "mcp_search call latency.",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		SearchResultCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mcprouter_search_result_count",
				Help:    "Number of deduplicated capability cards returned per search.",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 20},
			},
		),
		CallLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcprouter_call_latency_seconds",
				Help:    "mcp_call dispatch latency by server.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"server"},
		),
		ActiveServers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcprouter_active_servers",
				Help: "Number of capability servers currently registered.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.IndexRunsTotal,
		m.IndexRunDuration,
		m.ToolsIndexedTotal,
		m.ServerFailureTotal,
		m.SearchLatency,
		m.SearchResultCount,
		m.CallLatency,
		m.ActiveServers,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordIndexRun records a completed indexing run's aggregate outcome.
func (m *Metrics) RecordIndexRun(duration time.Duration, indexed, failed int, perServerFailed map[string]int) {
	outcome := "ok"
	if failed > 0 {
		outcome = "partial"
	}
	m.IndexRunsTotal.WithLabelValues(outcome).Inc()
	m.IndexRunDuration.Observe(duration.Seconds())
	m.ToolsIndexedTotal.WithLabelValues("indexed").Add(float64(indexed))
	m.ToolsIndexedTotal.WithLabelValues("failed").Add(float64(failed))
	for server, count := range perServerFailed {
		if count > 0 {
			m.ServerFailureTotal.WithLabelValues(server).Add(float64(count))
		}
	}
}

// RecordSearch records one mcp_search call.
func (m *Metrics) RecordSearch(duration time.Duration, resultCount int) {
	m.SearchLatency.Observe(duration.Seconds())
	m.SearchResultCount.Observe(float64(resultCount))
}

// RecordCall records one mcp_call dispatch.
func (m *Metrics) RecordCall(server string, duration time.Duration) {
	m.CallLatency.WithLabelValues(server).Observe(duration.Seconds())
}

// SetActiveServers sets the current registered-server gauge.
func (m *Metrics) SetActiveServers(n int) {
	m.ActiveServers.Set(float64(n))
}
