// Package tracing adapts OpenTelemetry behind the Tracer interface the rest
// of the engine depends on, so step execution never imports the otel SDK
// directly.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether tracing is enabled and which service name spans
// are tagged with.
type Config struct {
	Enabled bool   `env:"N3_TRACING_ENABLED,default=false"`
	Service string `env:"N3_TRACING_SERVICE,default=n3flow"`
}

// OTelTracer implements Tracer on top of the global otel TracerProvider.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer builds a tracer named for service, using the currently
// registered global TracerProvider.
func NewOTelTracer(service string) *OTelTracer {
	return &OTelTracer{tracer: otel.Tracer(service)}
}

// NewGlobalTracer returns a Tracer, honoring cfg.Enabled: when tracing is
// disabled it returns NoopTracer instead of a real OTel tracer.
func NewGlobalTracer(cfg Config) Tracer {
	if !cfg.Enabled {
		return NoopTracer
	}
	return NewOTelTracer(cfg.Service)
}

// StartSpan starts a span named name with attributes attached, returning the
// child context and an end function that records err (if any) and closes
// the span.
func (t *OTelTracer) StartSpan(ctx context.Context, name string, attributes map[string]string) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(convertAttrs(attributes)...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func convertAttrs(attrs map[string]string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, attribute.String(k, v))
	}
	return out
}
