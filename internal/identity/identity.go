// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/store"
	"github.com/google/uuid"
)

const (
	DeviceCookieName = "dutnotify_device_id"
	DeviceHeaderName = "X-Device-ID"
	deviceCookieAge  = 180 * 24 * time.Hour
	// lastSeenGranularity limits last_seen_at writes to one per device per minute.
	lastSeenGranularity = time.Minute
)

type contextKey int

const deviceIDKey contextKey = iota

// DeviceIDFromContext extracts the device ID from the request context.
func DeviceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithDeviceID returns a context carrying deviceID.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

func isValidDeviceID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

func ensureDevice(ctx context.Context, repo store.Repository, deviceID string) error {
	device, err := repo.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	now := time.Now()
	if device == nil {
		return repo.UpsertDevice(ctx, &domain.Device{
			DeviceID:   deviceID,
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if device.IdleFor(now) < lastSeenGranularity {
		return nil
	}
	return repo.UpdateLastSeen(ctx, deviceID, now)
}

func setDeviceCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieAge.Seconds()),
		Expires:  time.Now().Add(deviceCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// deviceIDFromRequest prefers the cookie and falls back to the header used by
// non-browser clients. A new ID is minted when neither carries a valid one.
func deviceIDFromRequest(r *http.Request) (string, bool) {
	if c, err := r.Cookie(DeviceCookieName); err == nil && isValidDeviceID(c.Value) {
		return c.Value, false
	}
	if h := strings.TrimSpace(r.Header.Get(DeviceHeaderName)); isValidDeviceID(h) {
		return strings.ToLower(h), false
	}
	return uuid.NewString(), true
}

// Middleware injects the anonymous device identity into the request context.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID, created := deviceIDFromRequest(r)
			setDeviceCookie(w, deviceID, isDev)
			w.Header().Set(DeviceHeaderName, deviceID)

			if err := ensureDevice(r.Context(), repo, deviceID); err != nil {
				slog.Error("Failed to register device", "device_id", deviceID, "error", err)
				http.Error(w, `{"error":"failed to initialize device"}`, http.StatusInternalServerError)
				return
			}
			if created {
				slog.Info("New device registered", "device_id", deviceID, "ip", IPFromRequest(r))
			}

			next.ServeHTTP(w, r.WithContext(WithDeviceID(r.Context(), deviceID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

