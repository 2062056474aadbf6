package notify

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dutschedule/dutnotify/internal/telemetry"
)

// Transports tracked in connection metrics.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// ErrHubClosed is returned when publishing after Close.
var ErrHubClosed = errors.New("notify: hub closed")

// HubConfig configures a Hub.
type HubConfig struct {
	// Buffer is the size of the publish channel.
	Buffer int
	// ReplaySize is how many messages are kept per device for replay.
	ReplaySize int
	// SubscriberBuffer is the default channel size of a subscription.
	SubscriberBuffer int
	// OnActivity is called when a device shows life on a stream.
	OnActivity func(deviceID string)
	Collector  telemetry.Collector
	Logger     *slog.Logger
}

// Subscription receives messages for one device until closed.
type Subscription struct {
	ID        int64
	DeviceID  string
	Transport string

	ch   chan Message
	hub  *Hub
	once sync.Once
}

// C returns the message channel. It is closed when the subscription or the
// hub closes.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub assigns event IDs to published messages, keeps them for replay and
// fans them out to subscribers.
type Hub struct {
	in        chan Message
	queue     *ReplayQueue
	collector telemetry.Collector
	logger    *slog.Logger
	subBuffer int
	activity  func(deviceID string)

	mu     sync.RWMutex
	subs   map[string]map[int64]*Subscription // deviceID -> subscription ID -> subscription
	nextID int64
	closed bool

	counterMu    sync.Mutex
	eventCounter int64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewHub creates a hub and starts its broadcast loop.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 32
	}
	if cfg.Collector == nil {
		cfg.Collector = telemetry.Noop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Hub{
		in:        make(chan Message, cfg.Buffer),
		queue:     NewReplayQueue(cfg.ReplaySize),
		collector: cfg.Collector,
		logger:    cfg.Logger,
		subBuffer: cfg.SubscriberBuffer,
		activity:  cfg.OnActivity,
		subs:      make(map[string]map[int64]*Subscription),
		done:      make(chan struct{}),
	}
	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// Publish broadcasts m to every device.
func (h *Hub) Publish(m Message) error {
	m.DeviceID = broadcastKey
	return h.enqueue(m)
}

// PublishTo sends m to a single device.
func (h *Hub) PublishTo(deviceID string, m Message) error {
	if deviceID == "" {
		return errors.New("notify: device ID is required")
	}
	m.DeviceID = deviceID
	return h.enqueue(m)
}

func (h *Hub) enqueue(m Message) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.in <- m:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// NextEventID reserves an event ID, used for stream control events.
func (h *Hub) NextEventID() int64 {
	h.counterMu.Lock()
	defer h.counterMu.Unlock()
	h.eventCounter++
	return h.eventCounter
}

// Missed returns messages a device has not seen since afterEventID.
func (h *Hub) Missed(deviceID string, afterEventID int64) []Message {
	return h.queue.Missed(deviceID, afterEventID)
}

// Subscribe registers a subscriber for deviceID. A non-positive buffer uses the
// hub default.
func (h *Hub) Subscribe(deviceID, transport string, buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = h.subBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	h.nextID++
	sub := &Subscription{
		ID:        h.nextID,
		DeviceID:  deviceID,
		Transport: transport,
		ch:        make(chan Message, buffer),
		hub:       h,
	}
	if _, ok := h.subs[deviceID]; !ok {
		h.subs[deviceID] = make(map[int64]*Subscription)
	}
	h.subs[deviceID][sub.ID] = sub
	h.reportLocked(transport)
	return sub, nil
}

func (h *Hub) unsubscribe(sub *Subscription) {
	sub.once.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if devSubs, ok := h.subs[sub.DeviceID]; ok {
			if _, ok := devSubs[sub.ID]; ok {
				delete(devSubs, sub.ID)
				close(sub.ch)
			}
			if len(devSubs) == 0 {
				delete(h.subs, sub.DeviceID)
			}
		}
		h.reportLocked(sub.Transport)
	})
}

// Touch reports stream activity for a device.
func (h *Hub) Touch(deviceID string) {
	if h.activity != nil {
		h.activity(deviceID)
	}
}

// Forget drops the replay history of a device. Live subscriptions are left
// alone; a device reconnecting later only misses its own past messages.
func (h *Hub) Forget(deviceID string) {
	h.queue.Prune(deviceID)
}

// Connections returns the number of live subscriptions of a device.
func (h *Hub) Connections(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[deviceID])
}

// Close stops the broadcast loop and closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.done)
	h.mu.Unlock()

	h.wg.Wait()

	h.mu.Lock()
	for deviceID, devSubs := range h.subs {
		for id, sub := range devSubs {
			close(sub.ch)
			delete(devSubs, id)
		}
		delete(h.subs, deviceID)
	}
	h.reportLocked(TransportSSE)
	h.reportLocked(TransportWebSocket)
	h.mu.Unlock()
}

// broadcastLoop assigns event IDs and distributes messages to subscribers.
func (h *Hub) broadcastLoop() {
	defer h.wg.Done()
	h.logger.Info("Notification broadcast loop started")
	for {
		select {
		case <-h.done:
			h.logger.Info("Notification broadcast loop shutting down")
			return
		case m := <-h.in:
			h.deliver(m)
		}
	}
}

func (h *Hub) deliver(m Message) {
	m.EventID = h.NextEventID()
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	h.queue.Enqueue(m)
	h.collector.IncBroadcast(m.Action)

	// Snapshot subscribers to avoid holding the lock during sends.
	h.mu.RLock()
	var targets []*Subscription
	if m.DeviceID == broadcastKey {
		for _, devSubs := range h.subs {
			for _, sub := range devSubs {
				targets = append(targets, sub)
			}
		}
	} else {
		for _, sub := range h.subs[m.DeviceID] {
			targets = append(targets, sub)
		}
	}
	for _, sub := range targets {
		h.sendLocked(sub, m)
	}
	h.mu.RUnlock()

	h.logger.Debug("Notification delivered",
		"action", m.Action,
		"device_id", m.DeviceID,
		"event_id", m.EventID,
		"subscribers", len(targets),
	)
}

// sendLocked never blocks: a slow subscriber loses its oldest pending message.
// Callers hold at least the read lock so the channel cannot close mid-send.
func (h *Hub) sendLocked(sub *Subscription, m Message) {
	select {
	case sub.ch <- m:
		return
	default:
	}
	select {
	case <-sub.ch:
		h.logger.Warn("Subscriber lagging, dropped oldest message", "device_id", sub.DeviceID, "subscription", sub.ID)
	default:
	}
	select {
	case sub.ch <- m:
	default:
	}
}

func (h *Hub) reportLocked(transport string) {
	n := 0
	for _, devSubs := range h.subs {
		for _, sub := range devSubs {
			if sub.Transport == transport {
				n++
			}
		}
	}
	h.collector.SetStreamConnections(transport, n)
}
