package dispatch

import (
	"log/slog"

	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/subscription"
)

const (
	defaultBatchLimit       = 100
	defaultBatchConcurrency = 8
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. A nil logger keeps the silent default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records call counts and durations.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithMaxInFlight bounds the number of calls executing at once. Zero means unbounded.
func WithMaxInFlight(n int) Option {
	return func(e *Engine) {
		e.maxInFlight = n
	}
}

// WithBatchLimit caps the number of entries in one batch frame.
func WithBatchLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchLimit = n
		}
	}
}

// WithBatchConcurrency caps how many entries of one batch run at once.
func WithBatchConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchConcurrency = n
		}
	}
}

// WithSubscriptions shares a subscription manager instead of creating one.
func WithSubscriptions(m *subscription.Manager) Option {
	return func(e *Engine) {
		e.subs = m
	}
}
