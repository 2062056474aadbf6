package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/dutschedule/dutnotify/internal/identity"
)

// WebSocketHandler serves the notification stream over WebSocket.
type WebSocketHandler struct {
	hub           *Hub
	registry      *ConnectionRegistry
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a WebSocket handler backed by hub.
func NewWebSocketHandler(hub *Hub, registry *ConnectionRegistry, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// clientMessage is what clients may send on the socket.
type clientMessage struct {
	Type        string `json:"type"`
	LastEventID int64  `json:"last_event_id,omitempty"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "device_id", deviceID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "device_id", deviceID)
		}
	}()

	sub, err := h.hub.Subscribe(deviceID, TransportWebSocket, 0)
	if err != nil {
		_ = h.writeJSON(r.Context(), ws, map[string]string{"error": "notifications_unavailable"})
		return
	}
	defer sub.Close()

	h.registry.Register(deviceID, sub.ID, ws)
	defer h.registry.Unregister(deviceID, sub.ID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var replayedUpTo int64
	if after, err := strconv.ParseInt(r.URL.Query().Get("last_event_id"), 10, 64); err == nil && after > 0 {
		replayedUpTo = h.replay(ctx, ws, deviceID, after)
	}

	if err := h.writeJSON(ctx, ws, map[string]any{
		"status":   "connected",
		"event_id": h.hub.NextEventID(),
	}); err != nil {
		return
	}
	slog.Info("Notification socket established", "device_id", deviceID, "conn_id", sub.ID)
	h.hub.Touch(deviceID)

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, deviceID)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.C():
			if !ok {
				return
			}
			if m.EventID <= replayedUpTo {
				continue
			}
			if err := h.writeJSON(ctx, ws, m); err != nil {
				slog.Debug("WebSocket write error", "error", err, "device_id", deviceID)
				return
			}
		}
	}
}

func (h *WebSocketHandler) replay(ctx context.Context, ws *websocket.Conn, deviceID string, after int64) int64 {
	var last int64
	for _, m := range h.hub.Missed(deviceID, after) {
		if err := h.writeJSON(ctx, ws, m); err != nil {
			slog.Debug("WebSocket replay error", "error", err, "device_id", deviceID)
			return last
		}
		last = m.EventID
	}
	return last
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, deviceID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "device_id", deviceID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "device_id", deviceID)
			}
			return
		}

		h.hub.Touch(deviceID)

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "ping":
			if err := h.writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case "replay":
			h.replay(ctx, ws, deviceID, msg.LastEventID)
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
