package worker

import (
	"context"
	"log/slog"
	"time"
)

// Evictor drops idle in-memory sessions.
type Evictor interface {
	EvictIdle(ttl time.Duration) []string
}

// EvictCallback is called for every evicted device.
type EvictCallback func(deviceID string)

// StartSessionReaper periodically evicts device sessions idle for longer than ttl.
func StartSessionReaper(ctx context.Context, sessions Evictor, interval, ttl time.Duration, onEvict EvictCallback) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session reaper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				reapSessions(sessions, ttl, onEvict)
			case <-ctx.Done():
				slog.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func reapSessions(sessions Evictor, ttl time.Duration, onEvict EvictCallback) {
	evicted := sessions.EvictIdle(ttl)
	if len(evicted) == 0 {
		return
	}
	for _, id := range evicted {
		if onEvict != nil {
			onEvict(id)
		}
	}
	slog.Info("Session reaper evicted idle sessions", "count", len(evicted))
}
