package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dutschedule/dutnotify/internal/identity"
)

// StreamConfig tunes the SSE stream.
type StreamConfig struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
}

// StreamHandler serves the notification stream over Server-Sent Events.
type StreamHandler struct {
	hub *Hub
	cfg StreamConfig
}

// NewStreamHandler creates an SSE handler backed by hub.
func NewStreamHandler(hub *Hub, cfg StreamConfig) *StreamHandler {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &StreamHandler{hub: hub, cfg: cfg}
}

// lastEventID reads the replay position from the Last-Event-ID header or the
// lastEventId query parameter.
func lastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// HandleStream streams notifications to the calling device. Reconnecting
// clients get the messages they missed, then a connected event, then live
// messages interleaved with keepalive pings.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	after := lastEventID(r)

	sub, err := h.hub.Subscribe(deviceID, TransportSSE, 0)
	if err != nil {
		http.Error(w, `{"error": "notifications unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	defer func() {
		sub.Close()
		slog.Info("SSE connection closed", "device_id", deviceID, "subscription", sub.ID)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.cfg.RetryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "device_id", deviceID)
		return
	}
	flusher.Flush()

	// Anything published after Subscribe is already in sub's channel; skip
	// replayed IDs when draining it.
	var replayedUpTo int64
	if after > 0 {
		missed := h.hub.Missed(deviceID, after)
		if len(missed) > 0 {
			slog.Info("Sending missed notifications", "device_id", deviceID, "count", len(missed))
		}
		for _, m := range missed {
			if err := writeMessage(w, m); err != nil {
				slog.Warn("failed to replay SSE message", "error", err, "device_id", deviceID)
				return
			}
			replayedUpTo = m.EventID
		}
	}

	eventID := h.hub.NextEventID()
	connected := fmt.Sprintf(`{"status":"connected","device_id":%q,"event_id":%d}`, deviceID, eventID)
	if err := writeSSEWithID(w, eventID, "connected", connected); err != nil {
		slog.Warn("failed to write SSE connected event", "error", err, "device_id", deviceID)
		return
	}
	flusher.Flush()

	slog.Info("SSE connection established",
		"device_id", deviceID,
		"event_id", eventID,
		"reconnect", after > 0,
	)
	h.hub.Touch(deviceID)

	keepalive := time.NewTicker(h.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case m, ok := <-sub.C():
			if !ok {
				return
			}
			if m.EventID <= replayedUpTo {
				continue
			}
			if err := writeMessage(w, m); err != nil {
				slog.Warn("failed to write SSE message", "error", err, "device_id", deviceID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				slog.Debug("failed to write SSE keepalive ping", "error", err, "device_id", deviceID)
				return
			}
			flusher.Flush()
			h.hub.Touch(deviceID)
		}
	}
}

func writeMessage(w io.Writer, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal SSE message: %w", err)
	}
	return writeSSEWithID(w, m.EventID, "message", string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
