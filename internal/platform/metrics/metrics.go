// Package metrics exposes the Prometheus collectors the flow engine updates
// while executing steps: step counts/durations, provider call counts,
// tool call counts, and circuit breaker state transitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Config controls whether the metrics registry is wired up at all.
type Config struct {
	Enabled bool `env:"N3_METRICS_ENABLED,default=true"`
}

// Registry owns the engine's Prometheus collectors.
type Registry struct {
	StepExecutions   *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration  *prometheus.HistogramVec
	ToolCalls        *prometheus.CounterVec
	ToolDuration      *prometheus.HistogramVec
	CircuitState     *prometheus.GaugeVec
	FlowRuns         *prometheus.CounterVec
}

// New builds and registers the engine's collectors against reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		StepExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "n3flow",
			Name:      "step_executions_total",
			Help:      "Flow steps executed, by flow, step kind, and outcome.",
		}, []string{"flow", "kind", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "n3flow",
			Name:      "step_duration_seconds",
			Help:      "Flow step execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow", "kind"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "n3flow",
			Name:      "provider_calls_total",
			Help:      "AI provider calls, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "n3flow",
			Name:      "provider_call_duration_seconds",
			Help:      "AI provider call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "n3flow",
			Name:      "tool_calls_total",
			Help:      "Tool executor calls, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "n3flow",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "n3flow",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per key: 0=closed, 1=half-open, 2=open.",
		}, []string{"key"}),
		FlowRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "n3flow",
			Name:      "flow_runs_total",
			Help:      "Flow runs, by flow name and outcome.",
		}, []string{"flow", "outcome"}),
	}

	reg.MustRegister(
		r.StepExecutions, r.StepDuration,
		r.ProviderCalls, r.ProviderDuration,
		r.ToolCalls, r.ToolDuration,
		r.CircuitState, r.FlowRuns,
	)
	return r
}

// Noop returns a Registry whose collectors are registered on a fresh private
// registry, safe for use when metrics are disabled; the collectors still
// accept updates, but nothing exports them.
func Noop() *Registry {
	return New(prometheus.NewRegistry())
}
