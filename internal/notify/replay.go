package notify

import (
	"sort"
	"sync"
)

// broadcastKey holds messages addressed to every device.
const broadcastKey = ""

// ring is a fixed-size buffer of messages that overwrites the oldest entry
// when full.
type ring struct {
	buf  []Message
	head int // write position
	tail int // read position
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]Message, size)}
}

func (r *ring) push(m Message) {
	if r.full {
		r.tail = (r.tail + 1) % len(r.buf)
	}
	r.buf[r.head] = m
	r.head = (r.head + 1) % len(r.buf)
	if r.head == r.tail {
		r.full = true
	}
}

func (r *ring) len() int {
	switch {
	case r.full:
		return len(r.buf)
	case r.head >= r.tail:
		return r.head - r.tail
	default:
		return len(r.buf) - r.tail + r.head
	}
}

// after returns messages with EventID greater than id, oldest first.
func (r *ring) after(id int64) []Message {
	var out []Message
	n := r.len()
	for i := 0; i < n; i++ {
		m := r.buf[(r.tail+i)%len(r.buf)]
		if m.EventID > id {
			out = append(out, m)
		}
	}
	return out
}

// ReplayQueue buffers recent messages so reconnecting clients can catch up.
// Each device gets its own bounded ring so one device's burst cannot evict
// messages belonging to another. Broadcasts share a separate ring.
type ReplayQueue struct {
	mu      sync.RWMutex
	rings   map[string]*ring
	maxSize int
}

// NewReplayQueue creates a queue keeping maxSize messages per device.
func NewReplayQueue(maxSize int) *ReplayQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &ReplayQueue{
		rings:   make(map[string]*ring),
		maxSize: maxSize,
	}
}

// Enqueue stores m in the ring of its target device.
func (q *ReplayQueue) Enqueue(m Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.rings[m.DeviceID]
	if !ok {
		r = newRing(q.maxSize)
		q.rings[m.DeviceID] = r
	}
	r.push(m)
}

// Missed returns the broadcast and device messages after afterEventID, in
// event order.
func (q *ReplayQueue) Missed(deviceID string, afterEventID int64) []Message {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var missed []Message
	if r, ok := q.rings[broadcastKey]; ok {
		missed = append(missed, r.after(afterEventID)...)
	}
	if deviceID != broadcastKey {
		if r, ok := q.rings[deviceID]; ok {
			missed = append(missed, r.after(afterEventID)...)
		}
	}
	sort.Slice(missed, func(i, j int) bool { return missed[i].EventID < missed[j].EventID })
	return missed
}

// Len returns the number of device rings held, broadcast included.
func (q *ReplayQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.rings)
}

// Prune drops the ring of a device.
func (q *ReplayQueue) Prune(deviceID string) {
	if deviceID == broadcastKey {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.rings, deviceID)
}
