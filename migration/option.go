package migration

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source for manifest timestamps and migration ids.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDryRunAudit controls whether dry runs append a dry_run entry to the manifest. Default true.
func WithDryRunAudit(enabled bool) Option {
	return func(e *Engine) { e.auditDryRuns = enabled }
}

// WithIDSuffix overrides the generator of the random migration id suffix.
func WithIDSuffix(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.idSuffix = gen
		}
	}
}

// WithTracerProvider sets the provider of the span recorded around each migration.
// Default is the global provider from otel.GetTracerProvider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}
