package notify

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnectionRegistry tracks live WebSocket connections per device so they can
// be closed when the device session is evicted. Logging out keeps the socket
// open so the client still receives the logout event.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	active map[string]map[int64]*websocket.Conn
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		active: make(map[string]map[int64]*websocket.Conn),
	}
}

// Get returns the connection registered under deviceID and connID.
func (m *ConnectionRegistry) Get(deviceID string, connID int64) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if conns, ok := m.active[deviceID]; ok {
		return conns[connID]
	}
	return nil
}

// Count returns how many connections a device holds.
func (m *ConnectionRegistry) Count(deviceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[deviceID])
}

// Register adds a connection for a device.
func (m *ConnectionRegistry) Register(deviceID string, connID int64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[deviceID]; !exists {
		m.active[deviceID] = make(map[int64]*websocket.Conn)
	}
	if existing, exists := m.active[deviceID][connID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	m.active[deviceID][connID] = conn
	slog.Debug("Notification socket registered", "device_id", deviceID, "conn_id", connID)
}

// Unregister removes a connection if it is still the one registered.
func (m *ConnectionRegistry) Unregister(deviceID string, connID int64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[deviceID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.active, deviceID)
			}
			slog.Debug("Notification socket unregistered", "device_id", deviceID, "conn_id", connID)
		}
	}
}

// CloseDevice terminates every connection of a device.
func (m *ConnectionRegistry) CloseDevice(deviceID string, reason string) {
	m.mu.Lock()
	conns, ok := m.active[deviceID]
	delete(m.active, deviceID)
	m.mu.Unlock()
	if !ok {
		return
	}

	for id, conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
		slog.Info("Notification socket closed", "device_id", deviceID, "conn_id", id)
	}
}
