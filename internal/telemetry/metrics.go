// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing for
// the research pipeline. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "researcher"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	modelCalls      *prometheus.CounterVec
	toolInvocations *prometheus.CounterVec
	plans           *prometheus.CounterVec
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	cacheSessions   prometheus.Gauge
	cacheEvictions  prometheus.Counter
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Language model requests by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations issued by the reasoning loop.",
		}, []string{"tool", "outcome"}),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_generations_total",
			Help:      "Plan generation attempts by outcome.",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Agent runs by terminal state.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "Wall time of agent runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
		cacheSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_cache_sessions",
			Help:      "Agent sessions currently cached.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_cache_evictions_total",
			Help:      "Agent sessions evicted or invalidated.",
		}),
	}
	m.registry.MustRegister(
		m.modelCalls, m.toolInvocations, m.plans, m.runs,
		m.runDuration, m.cacheSessions, m.cacheEvictions,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ModelCall(purpose string, err error) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(purpose, outcome(err)).Inc()
}

func (m *Metrics) ToolInvocation(tool, result string) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(tool, result).Inc()
}

func (m *Metrics) PlanGenerated(err error) {
	if m == nil {
		return
	}
	m.plans.WithLabelValues(outcome(err)).Inc()
}

// AgentRun records a finished run; result is answered, best_effort or failed.
func (m *Metrics) AgentRun(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.cacheSessions.Set(float64(n))
}

func (m *Metrics) CacheEvicted() {
	if m == nil {
		return
	}
	m.cacheEvictions.Inc()
}
