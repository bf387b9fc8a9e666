// Package logging wraps logrus with the structured fields the flow engine
// attaches to every log line: flow name, run id, step name, trace id.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const (
	// TraceIDKey is the context key under which the active trace id is stored.
	TraceIDKey ctxKey = "trace_id"
	// RunIDKey is the context key under which the active flow run id is stored.
	RunIDKey ctxKey = "run_id"
	// FlowNameKey is the context key under which the active flow name is stored.
	FlowNameKey ctxKey = "flow_name"
)

// Config controls log level, format, and destination.
type Config struct {
	Level  string `env:"N3_LOG_LEVEL,default=info"`
	Format string `env:"N3_LOG_FORMAT,default=json"`
	Output string `env:"N3_LOG_OUTPUT,default=stdout"`
}

// Logger wraps *logrus.Logger with the engine's field conventions.
type Logger struct {
	*logrus.Logger
	service string
}

// New builds a Logger for the named service/component using cfg.
func New(service string, cfg Config) (*Logger, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch cfg.Format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	l.SetOutput(out)

	return &Logger{Logger: l, service: service}, nil
}

// NewDefault builds a Logger with info/json/stdout defaults.
func NewDefault(service string) *Logger {
	l, _ := New(service, Config{Level: "info", Format: "json", Output: "stdout"})
	return l
}

// WithContext returns an entry pre-populated with the service name and any
// trace/run/flow identifiers present on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.WithField("service", l.service)
	if v, ok := ctx.Value(TraceIDKey).(string); ok && v != "" {
		entry = entry.WithField("trace_id", v)
	}
	if v, ok := ctx.Value(RunIDKey).(string); ok && v != "" {
		entry = entry.WithField("run_id", v)
	}
	if v, ok := ctx.Value(FlowNameKey).(string); ok && v != "" {
		entry = entry.WithField("flow", v)
	}
	return entry
}

// WithFlow attaches run and flow identifiers to ctx for later WithContext calls.
func WithFlow(ctx context.Context, flowName, runID string) context.Context {
	ctx = context.WithValue(ctx, FlowNameKey, flowName)
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithTraceID attaches a trace identifier to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}
