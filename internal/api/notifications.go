package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/identity"
	"github.com/dutschedule/dutnotify/internal/store"
)

// Bounds for GET /api/notifications?limit=.
const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 500
)

// NotificationHandler serves the notification history and live streams.
type NotificationHandler struct {
	*Handler
	stream http.Handler
	ws     http.Handler
}

// NewNotificationHandler creates a new NotificationHandler. stream and ws may
// be nil to leave the live endpoints unmounted.
func NewNotificationHandler(h *Handler, stream, ws http.Handler) *NotificationHandler {
	return &NotificationHandler{Handler: h, stream: stream, ws: ws}
}

// RegisterRoutes registers notification routes.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/notifications", func(r chi.Router) {
		r.Get("/", h.List)
		r.Delete("/", h.Clear)
		r.Post("/{id}/read", h.MarkRead)
		if h.stream != nil {
			r.Method(http.MethodGet, "/stream", h.stream)
		}
	})
	if h.ws != nil {
		r.Method(http.MethodGet, "/ws/notifications", h.ws)
	}
}

// List handles GET /api/notifications.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxNotificationLimit)
	}

	items, err := h.repo.ListNotifications(r.Context(), deviceID, limit)
	if err != nil {
		slog.Error("Failed to list notifications", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if items == nil {
		items = []domain.Notification{}
	}
	JSON(w, http.StatusOK, items)
}

// MarkRead handles POST /api/notifications/{id}/read.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := chi.URLParam(r, "id")
	err := h.repo.MarkNotificationRead(r.Context(), deviceID, id)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		slog.Error("Failed to mark notification read", "device_id", deviceID, "id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to update notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /api/notifications.
func (h *NotificationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.repo.ClearNotifications(r.Context(), deviceID); err != nil {
		slog.Error("Failed to clear notifications", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear notifications")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
