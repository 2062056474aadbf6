// Package domain contains core domain types for the dutnotify service.
package domain

import (
	"time"
)

// Device is an anonymous client identity. Every device owns its own
// settings, notification history, search history and account session.
type Device struct {
	DeviceID   string    `json:"device_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IdleFor returns how long the device has been inactive.
func (d *Device) IdleFor(now time.Time) time.Duration {
	if d.LastSeenAt.IsZero() {
		return 0
	}
	idle := now.Sub(d.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}
