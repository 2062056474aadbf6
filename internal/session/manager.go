package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/dut"
	"github.com/dutschedule/dutnotify/internal/store"
)

// Device groups the per-device state.
type Device struct {
	ID      string
	Account *AccountSession
	Search  *NewsSearch

	mu       sync.Mutex
	lastUsed time.Time
}

// LastUsed returns when the device session was last handed out.
func (d *Device) LastUsed() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastUsed
}

func (d *Device) touch(now time.Time) {
	d.mu.Lock()
	d.lastUsed = now
	d.mu.Unlock()
}

// Manager keeps device sessions in memory and owns the shared news feeds.
type Manager struct {
	src  dut.Source
	repo store.Repository
	cfg  Config
	now  func() time.Time

	global  *NewsFeed
	subject *NewsFeed

	mu      sync.RWMutex
	devices map[string]*Device
}

// NewManager creates a manager and the shared news feeds.
func NewManager(src dut.Source, repo store.Repository, cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	global, err := NewNewsFeed(domain.NewsTypeGlobal, src, cfg)
	if err != nil {
		return nil, fmt.Errorf("create global news feed: %w", err)
	}
	subject, err := NewNewsFeed(domain.NewsTypeSubject, src, cfg)
	if err != nil {
		return nil, fmt.Errorf("create subject news feed: %w", err)
	}
	return &Manager{
		src:     src,
		repo:    repo,
		cfg:     cfg,
		now:     time.Now,
		global:  global,
		subject: subject,
		devices: make(map[string]*Device),
	}, nil
}

// Feed returns the shared feed of kind.
func (m *Manager) Feed(kind domain.NewsType) (*NewsFeed, error) {
	switch kind {
	case domain.NewsTypeGlobal:
		return m.global, nil
	case domain.NewsTypeSubject:
		return m.subject, nil
	default:
		return nil, fmt.Errorf("unknown news type %q", kind)
	}
}

// Get returns the device session, creating it on first use.
func (m *Manager) Get(deviceID string) (*Device, error) {
	now := m.now()

	m.mu.RLock()
	d, ok := m.devices[deviceID]
	m.mu.RUnlock()
	if ok {
		d.touch(now)
		return d, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[deviceID]; ok {
		d.touch(now)
		return d, nil
	}

	account, err := newAccountSession(deviceID, m.src, m.cfg)
	if err != nil {
		return nil, fmt.Errorf("create account session: %w", err)
	}
	search, err := newNewsSearch(deviceID, m.src, m.repo, m.cfg)
	if err != nil {
		return nil, fmt.Errorf("create news search: %w", err)
	}
	d = &Device{ID: deviceID, Account: account, Search: search, lastUsed: now}
	m.devices[deviceID] = d
	slog.Info("Device session created", "device_id", deviceID)
	return d, nil
}

// Touch marks an existing device session as used. It reports whether the
// device has a session.
func (m *Manager) Touch(deviceID string) bool {
	m.mu.RLock()
	d, ok := m.devices[deviceID]
	m.mu.RUnlock()
	if ok {
		d.touch(m.now())
	}
	return ok
}

// Lookup returns the device session without creating or touching it.
func (m *Manager) Lookup(deviceID string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	return d, ok
}

// Evict drops a device session. Its containers are reset so late fetches are
// discarded with it.
func (m *Manager) Evict(deviceID string) bool {
	m.mu.Lock()
	d, ok := m.devices[deviceID]
	delete(m.devices, deviceID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	d.Account.resetAll()
	d.Search.container.ResetToDefault()
	slog.Info("Device session evicted", "device_id", deviceID)
	return true
}

// EvictIdle drops sessions unused for longer than ttl and returns their IDs.
func (m *Manager) EvictIdle(ttl time.Duration) []string {
	threshold := m.now().Add(-ttl)

	m.mu.RLock()
	var idle []string
	for id, d := range m.devices {
		if d.LastUsed().Before(threshold) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	evicted := make([]string, 0, len(idle))
	for _, id := range idle {
		if m.Evict(id) {
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Len returns the number of live device sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}
