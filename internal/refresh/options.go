package refresh

import (
	"log/slog"
	"time"

	"github.com/dutschedule/dutnotify/internal/telemetry"
)

// Option configures a Container.
type Option func(*options)

type options struct {
	name         string
	ttl          time.Duration
	now          func() time.Time
	logger       *slog.Logger
	collector    telemetry.Collector
	executor     Executor
	fetchTimeout time.Duration
	onBefore     func()
	onAfter      func(bool)
}

func defaultOptions() options {
	return options{
		name:      "unnamed",
		ttl:       DefaultTTL,
		now:       time.Now,
		logger:    slog.Default(),
		collector: telemetry.Noop(),
		executor:  GoExecutor{},
	}
}

// WithName sets the name used in logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithTTL sets how long a successful fetch stays fresh. Non-positive values
// make every refresh fetch.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger used to trace fetch failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = loggerOrDefault(logger)
	}
}

// WithCollector sets the metrics collector.
func WithCollector(c telemetry.Collector) Option {
	return func(o *options) {
		if c != nil {
			o.collector = c
		}
	}
}

// WithExecutor sets where fetches run.
func WithExecutor(e Executor) Option {
	return func(o *options) {
		if e != nil {
			o.executor = e
		}
	}
}

// WithFetchTimeout bounds each fetch. Zero means no timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fetchTimeout = d
	}
}

// WithBeforeRefresh registers a hook invoked when a fetch is about to start.
func WithBeforeRefresh(fn func()) Option {
	return func(o *options) {
		o.onBefore = fn
	}
}

// WithAfterRefresh registers a hook invoked with the outcome of every refresh,
// including ones answered from a fresh value.
func WithAfterRefresh(fn func(bool)) Option {
	return func(o *options) {
		o.onAfter = fn
	}
}
