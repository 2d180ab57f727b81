// Package metrics holds the Prometheus collectors of the front-end.
//
// All methods are safe to call on a nil *Metrics, so components can be
// constructed without instrumentation in tests and offline commands.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "unifiedviews"

// Outcome labels for SPARQL queries.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	queries           *prometheus.CounterVec
	queryDuration     *prometheus.HistogramVec
	countCache        *prometheus.CounterVec
	executionsQueued  prometheus.Counter
	executionsDeleted prometheus.Counter
	cleanupFailures   prometheus.Counter
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newMetrics(reg)
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sparql",
			Name:      "queries_total",
			Help:      "SPARQL queries sent to the triple store by query type and outcome.",
		}, []string{"type", "outcome"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sparql",
			Name:      "query_duration_seconds",
			Help:      "Latency of SPARQL queries by query type.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2.5, 10),
		}, []string{"type"}),
		countCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sparql",
			Name:      "count_cache_total",
			Help:      "Result size lookups served from (hit) or missing in (miss) the count cache.",
		}, []string{"result"}),
		executionsQueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "executions_queued_total",
			Help:      "Executions queued by schedules.",
		}),
		executionsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "executions_deleted_total",
			Help:      "Executions removed by the execution deleter.",
		}),
		cleanupFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "failures_total",
			Help:      "Executions the deleter could not remove.",
		}),
	}
}

// ObserveQuery records one query of type queryType that started at start.
func (m *Metrics) ObserveQuery(queryType string, start time.Time, outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(queryType, outcome).Inc()
	m.queryDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
}

// CountCacheHit records a result size lookup against the count cache.
func (m *Metrics) CountCacheHit(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.countCache.WithLabelValues("hit").Inc()
	} else {
		m.countCache.WithLabelValues("miss").Inc()
	}
}

// ExecutionQueued counts an execution queued by the scheduler.
func (m *Metrics) ExecutionQueued() {
	if m == nil {
		return
	}
	m.executionsQueued.Inc()
}

// ExecutionsDeleted counts executions removed and failed by a cleanup job.
func (m *Metrics) ExecutionsDeleted(deleted, failed int) {
	if m == nil {
		return
	}
	m.executionsDeleted.Add(float64(deleted))
	m.cleanupFailures.Add(float64(failed))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
