// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
)

// ErrNotFound is returned when a record addressed by ID does not exist.
var ErrNotFound = errors.New("store: not found")

// Repository defines the interface for persisting device state.
type Repository interface {
	// GetDevice retrieves a device by ID. Returns nil, nil when absent.
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)

	// UpsertDevice creates or updates a device record.
	UpsertDevice(ctx context.Context, device *domain.Device) error

	// UpdateLastSeen updates the last_seen_at timestamp for a device.
	UpdateLastSeen(ctx context.Context, deviceID string, lastSeen time.Time) error

	// ListDevices returns every known device.
	ListDevices(ctx context.Context) ([]*domain.Device, error)

	// GetIdleDevices returns devices not seen within ttl.
	GetIdleDevices(ctx context.Context, ttl time.Duration) ([]*domain.Device, error)

	// GetSettings returns the device settings, or the defaults when none are stored.
	GetSettings(ctx context.Context, deviceID string) (domain.Settings, error)

	// SaveSettings stores the device settings.
	SaveSettings(ctx context.Context, deviceID string, settings domain.Settings) error

	// AddNotifications appends notifications to a device history, keeping the newest limit rows.
	AddNotifications(ctx context.Context, deviceID string, notifications []domain.Notification, limit int) error

	// ListNotifications returns up to limit notifications, newest first.
	ListNotifications(ctx context.Context, deviceID string, limit int) ([]domain.Notification, error)

	// MarkNotificationRead flags one notification as read.
	MarkNotificationRead(ctx context.Context, deviceID, notificationID string) error

	// ClearNotifications removes a device's notification history.
	ClearNotifications(ctx context.Context, deviceID string) error

	// GetSearchHistory returns the device's news search history, most recent first.
	GetSearchHistory(ctx context.Context, deviceID string) ([]domain.NewsSearchHistory, error)

	// SaveSearchHistory replaces the device's news search history.
	SaveSearchHistory(ctx context.Context, deviceID string, history []domain.NewsSearchHistory) error

	// ClearSearchHistory removes the device's news search history.
	ClearSearchHistory(ctx context.Context, deviceID string) error

	// GetNewsKeys returns the last seen news item keys of a feed.
	GetNewsKeys(ctx context.Context, kind domain.NewsType) ([]string, error)

	// SaveNewsKeys replaces the last seen news item keys of a feed.
	SaveNewsKeys(ctx context.Context, kind domain.NewsType, keys []string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
