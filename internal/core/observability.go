// Package core holds the knowledge base engine: precise rule matching,
// effectiveness aggregation, live iteration recording and manifest-driven
// rollback. Storage is always reached through domain.EntityStore.
package core

import (
	"context"
	"time"

	"hlskb/pkg/domain"
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder receives engine measurements. internal/metrics provides
// the prometheus implementation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	EffectivenessApplied(mode domain.Mode, created bool)
	RecordsDeleted(table domain.TableKind, n int)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) EffectivenessApplied(domain.Mode, bool)               {}
func (noopMetrics) RecordsDeleted(domain.TableKind, int)                 {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type options struct {
	logger  Logger
	metrics MetricsRecorder
	clock   Clock
}

func defaultOptions() options {
	return options{
		logger:  noopLogger{},
		metrics: noopMetrics{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
	}
}

// Option customises engine components.
type Option func(*options)

// WithLogger routes component logs to l.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics routes measurements to m.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) observe(ctx context.Context, op string, err error, start time.Time) {
	o.metrics.Observe(ctx, op, err == nil, time.Since(start))
}
