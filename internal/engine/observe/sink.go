// Package observe implements the Observability Sink (C14): it turns step
// executions into structured log events, Prometheus metrics, and tracer
// spans, using small logging/metrics/tracing abstractions so the scheduler
// never imports logrus/otel/prometheus directly. Observability failures are
// swallowed here — a broken sink must never fail a flow step.
package observe

import (
	"context"
	"time"

	"github.com/n3flow/core/internal/platform/logging"
	"github.com/n3flow/core/internal/platform/metrics"
	"github.com/n3flow/core/internal/platform/tracing"
)

// Event describes one step execution for logging/metrics purposes.
type Event struct {
	Flow     string
	Step     string
	Kind     string
	Outcome  string // "ok", "error", "suspended"
	Duration time.Duration
	Err      error
}

// Sink fans a step Event out to logging, metrics, and tracing.
type Sink struct {
	Log     *logging.Logger
	Metrics *metrics.Registry
	Tracer  tracing.Tracer
}

// New builds a Sink from already-constructed platform components.
func New(log *logging.Logger, reg *metrics.Registry, tracer tracing.Tracer) *Sink {
	if tracer == nil {
		tracer = tracing.NoopTracer
	}
	return &Sink{Log: log, Metrics: reg, Tracer: tracer}
}

// StartStep starts a span for a step and returns a function that, when
// called with the step's outcome, records the span, the log line, and the
// Prometheus counters/histograms. Never panics and never returns an error.
func (s *Sink) StartStep(ctx context.Context, flowName, stepName, kind string) (context.Context, func(err error, suspended bool)) {
	ctx, endSpan := s.Tracer.StartSpan(ctx, "flow.step", map[string]string{
		"flow": flowName,
		"step": stepName,
		"kind": kind,
	})
	start := time.Now()

	return ctx, func(err error, suspended bool) {
		defer func() { _ = recover() }()

		dur := time.Since(start)
		outcome := "ok"
		switch {
		case suspended:
			outcome = "suspended"
		case err != nil:
			outcome = "error"
		}

		endSpan(err)

		if s.Metrics != nil {
			s.Metrics.StepExecutions.WithLabelValues(flowName, kind, outcome).Inc()
			s.Metrics.StepDuration.WithLabelValues(flowName, kind).Observe(dur.Seconds())
		}

		if s.Log != nil {
			entry := s.Log.WithContext(ctx).WithField("step", stepName).WithField("kind", kind).WithField("outcome", outcome).WithField("duration_ms", dur.Milliseconds())
			if err != nil {
				entry.WithField("error", err.Error()).Warn("step finished with error")
			} else {
				entry.Debug("step finished")
			}
		}
	}
}

// RecordFlowRun logs and counts the terminal outcome of an entire flow run.
func (s *Sink) RecordFlowRun(ctx context.Context, flowName, outcome string, dur time.Duration) {
	defer func() { _ = recover() }()
	if s.Metrics != nil {
		s.Metrics.FlowRuns.WithLabelValues(flowName, outcome).Inc()
	}
	if s.Log != nil {
		s.Log.WithContext(ctx).WithField("outcome", outcome).WithField("duration_ms", dur.Milliseconds()).Info("flow run finished")
	}
}
