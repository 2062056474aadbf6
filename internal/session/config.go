package session

import (
	"log/slog"
	"time"

	"github.com/dutschedule/dutnotify/internal/refresh"
	"github.com/dutschedule/dutnotify/internal/telemetry"
)

// Config carries the settings shared by every container a Manager creates.
type Config struct {
	TTL                time.Duration
	FetchTimeout       time.Duration
	SearchHistoryLimit int
	Executor           refresh.Executor
	Collector          telemetry.Collector
	Logger             *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = refresh.DefaultTTL
	}
	if c.SearchHistoryLimit <= 0 {
		c.SearchHistoryLimit = 20
	}
	if c.Executor == nil {
		c.Executor = refresh.GoExecutor{}
	}
	if c.Collector == nil {
		c.Collector = telemetry.Noop()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func (c Config) options(name string) []refresh.Option {
	return []refresh.Option{
		refresh.WithName(name),
		refresh.WithTTL(c.TTL),
		refresh.WithFetchTimeout(c.FetchTimeout),
		refresh.WithExecutor(c.Executor),
		refresh.WithCollector(c.Collector),
		refresh.WithLogger(c.Logger),
	}
}
