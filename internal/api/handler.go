// Package api provides HTTP handlers for the dutnotify API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dutschedule/dutnotify/internal/identity"
	"github.com/dutschedule/dutnotify/internal/notify"
	"github.com/dutschedule/dutnotify/internal/refresh"
	"github.com/dutschedule/dutnotify/internal/session"
	"github.com/dutschedule/dutnotify/internal/store"
)

// maxRequestBodySize caps JSON request bodies.
const maxRequestBodySize = 1 << 20 // 1MB

// Publisher delivers events to connected clients.
type Publisher interface {
	Publish(m notify.Message) error
	PublishTo(deviceID string, m notify.Message) error
}

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	sessions *session.Manager
	pub      Publisher
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sessions *session.Manager, pub Publisher) *Handler {
	return &Handler{
		repo:     repo,
		sessions: sessions,
		pub:      pub,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// device resolves the caller's device session, writing an error response when
// it cannot.
func (h *Handler) device(w http.ResponseWriter, r *http.Request) (*session.Device, bool) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	d, err := h.sessions.Get(deviceID)
	if err != nil {
		slog.Error("Failed to open device session", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to open device session")
		return nil, false
	}
	return d, true
}

func (h *Handler) publishTo(deviceID string, m notify.Message) {
	if h.pub == nil {
		return
	}
	if err := h.pub.PublishTo(deviceID, m); err != nil {
		slog.Debug("Failed to publish message", "action", m.Action, "device_id", deviceID, "error", err)
	}
}

// queryBool parses a boolean query parameter, false when absent or invalid.
func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

// snapshotBody is the wire form of a container snapshot.
type snapshotBody[T any] struct {
	State           refresh.State `json:"state"`
	LastCompletedAt int64         `json:"last_completed_at"`
	Data            *T            `json:"data,omitempty"`
	Error           string        `json:"error,omitempty"`
}

func newSnapshotBody[T any](snap refresh.Snapshot[T]) snapshotBody[T] {
	body := snapshotBody[T]{
		State:           snap.State,
		LastCompletedAt: snap.LastCompletedAt,
		Data:            snap.Value,
	}
	if snap.Err != nil {
		body.Error = snap.Err.Error()
	}
	return body
}
