// Package metrics provides Prometheus collectors for ingestion, upstream
// calls, matching and project generation.
//
// Each Metrics value owns its registry so tests and multiple engines in one
// process never collide on registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/vinayprograms/skillsynth/errors"
)

const namespace = "skillsynth"

// Metrics holds the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	// ItemsIngested counts records written to the index, by namespace.
	ItemsIngested *prometheus.CounterVec

	// ItemsFailed counts items that failed, by namespace and stage
	// (validate, description, embed, upsert).
	ItemsFailed *prometheus.CounterVec

	// UpstreamDuration tracks upstream call latency by upstream and outcome
	// (ok or the error code).
	UpstreamDuration *prometheus.HistogramVec

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState *prometheus.GaugeVec

	// MatchResults tracks result list sizes by namespace.
	MatchResults *prometheus.HistogramVec

	// ProjectsGenerated counts generations by outcome.
	ProjectsGenerated *prometheus.CounterVec
}

// New creates a Metrics value with its own registry. Go runtime and process
// collectors are registered alongside.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ItemsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_ingested_total",
			Help:      "Total number of records uploaded to the vector index",
		}, []string{"namespace"}),
		ItemsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_failed_total",
			Help:      "Total number of ingestion items that failed",
		}, []string{"namespace", "stage"}),
		UpstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_duration_seconds",
			Help:      "Duration of upstream calls in seconds, including retries",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"upstream", "outcome"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per upstream (0 closed, 1 half-open, 2 open)",
		}, []string{"upstream"}),
		MatchResults: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_results",
			Help:      "Number of results returned per match query",
			Buckets:   prometheus.LinearBuckets(0, 5, 6),
		}, []string{"namespace"}),
		ProjectsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projects_generated_total",
			Help:      "Total number of project generations by outcome",
		}, []string{"outcome"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Outcome returns "ok" for nil and the error code otherwise.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return errors.Code(err).String()
}

// RecordUpstream observes one logical upstream call.
func (m *Metrics) RecordUpstream(upstream string, d time.Duration, err error) {
	m.UpstreamDuration.WithLabelValues(upstream, Outcome(err)).Observe(d.Seconds())
}

// RecordIngested adds n uploaded records for namespace.
func (m *Metrics) RecordIngested(ns string, n int) {
	if n > 0 {
		m.ItemsIngested.WithLabelValues(ns).Add(float64(n))
	}
}

// RecordFailed counts one failed item.
func (m *Metrics) RecordFailed(ns, stage string) {
	m.ItemsFailed.WithLabelValues(ns, stage).Inc()
}

// RecordMatch observes the size of a match result.
func (m *Metrics) RecordMatch(ns string, results int) {
	m.MatchResults.WithLabelValues(ns).Observe(float64(results))
}

// RecordProject counts one project generation.
func (m *Metrics) RecordProject(err error) {
	m.ProjectsGenerated.WithLabelValues(Outcome(err)).Inc()
}

// BreakerHook returns a function suitable for resilience.WithStateHook.
func (m *Metrics) BreakerHook() func(name string, from, to gobreaker.State) {
	return func(name string, _, to gobreaker.State) {
		m.BreakerState.WithLabelValues(name).Set(breakerValue(to))
	}
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
