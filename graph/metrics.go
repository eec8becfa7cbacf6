package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes node execution and provider recovery metrics to
// Prometheus.
//
//   - nodegraph_inflight_executions: nodes currently executing
//   - nodegraph_executions_total{node_type,status}: finished executions
//   - nodegraph_execution_latency_ms{node_type,status}: execution duration
//   - nodegraph_recoveries_total{kind,outcome}: recovery chain outcomes
//   - nodegraph_provider_substitutions_total{from,to}: user-chosen fallbacks
type Metrics struct {
	inflight      prometheus.Gauge
	executions    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	recoveries    *prometheus.CounterVec
	substitutions *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewMetrics registers the collectors with registry. A nil registry uses
// prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		enabled: true,
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "nodegraph",
			Name:      "inflight_executions",
			Help:      "Number of nodes currently executing",
		}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodegraph",
			Name:      "executions_total",
			Help:      "Finished node executions by node type and outcome",
		}, []string{"node_type", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nodegraph",
			Name:      "execution_latency_ms",
			Help:      "Node execution duration in milliseconds, including time spent awaiting a recovery choice",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"node_type", "status"}),
		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodegraph",
			Name:      "recoveries_total",
			Help:      "Provider recovery chains by initial error kind and final outcome",
		}, []string{"kind", "outcome"}),
		substitutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodegraph",
			Name:      "provider_substitutions_total",
			Help:      "Provider substitutions chosen during recovery",
		}, []string{"from", "to"}),
	}
}

// ExecutionStarted increments the inflight gauge.
func (m *Metrics) ExecutionStarted() {
	if !m.isEnabled() {
		return
	}
	m.inflight.Inc()
}

// ExecutionFinished decrements the inflight gauge and records the outcome.
// status is "success", "error" or "unsupported".
func (m *Metrics) ExecutionFinished(nodeType, status string, d time.Duration) {
	if !m.isEnabled() {
		return
	}
	m.inflight.Dec()
	m.executions.WithLabelValues(nodeType, status).Inc()
	m.latency.WithLabelValues(nodeType, status).Observe(float64(d.Milliseconds()))
}

// RecordRecovery counts a finished recovery chain. outcome is "succeeded",
// "abandoned", "exhausted" or "failed".
func (m *Metrics) RecordRecovery(kind, outcome string) {
	if !m.isEnabled() {
		return
	}
	m.recoveries.WithLabelValues(kind, outcome).Inc()
}

// RecordSubstitution counts a provider switch.
func (m *Metrics) RecordSubstitution(from, to string) {
	if !m.isEnabled() {
		return
	}
	m.substitutions.WithLabelValues(from, to).Inc()
}

// Disable turns every recording method into a no-op.
func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable re-enables recording.
func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

func (m *Metrics) isEnabled() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}
