package session

import (
	"testing"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerGetCreatesOnce(t *testing.T) {
	m, err := NewManager(newFakeSource(), newTestRepo(t), Config{})
	require.NoError(t, err)

	d1, err := m.Get("dev-1")
	require.NoError(t, err)
	d2, err := m.Get("dev-1")
	require.NoError(t, err)
	assert.Same(t, d1, d2)
	assert.Equal(t, 1, m.Len())

	_, ok := m.Lookup("dev-2")
	assert.False(t, ok)
}

func TestManagerEvict(t *testing.T) {
	m, err := NewManager(newFakeSource(), newTestRepo(t), Config{})
	require.NoError(t, err)

	_, err = m.Get("dev-1")
	require.NoError(t, err)
	assert.True(t, m.Evict("dev-1"))
	assert.False(t, m.Evict("dev-1"))
	assert.Equal(t, 0, m.Len())
}

func TestManagerEvictIdle(t *testing.T) {
	m, err := NewManager(newFakeSource(), newTestRepo(t), Config{})
	require.NoError(t, err)

	now := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	_, err = m.Get("old")
	require.NoError(t, err)

	now = now.Add(45 * time.Minute)
	_, err = m.Get("recent")
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	evicted := m.EvictIdle(time.Hour)
	assert.Equal(t, []string{"old"}, evicted)
	_, ok := m.Lookup("recent")
	assert.True(t, ok)
}

func TestManagerTouchKeepsSessionAlive(t *testing.T) {
	m, err := NewManager(newFakeSource(), newTestRepo(t), Config{})
	require.NoError(t, err)

	now := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	_, err = m.Get("streaming")
	require.NoError(t, err)
	_, err = m.Get("idle")
	require.NoError(t, err)

	now = now.Add(50 * time.Minute)
	assert.True(t, m.Touch("streaming"))
	assert.False(t, m.Touch("unknown"))
	_, ok := m.Lookup("unknown")
	assert.False(t, ok)

	now = now.Add(30 * time.Minute)
	assert.Equal(t, []string{"idle"}, m.EvictIdle(time.Hour))
	_, ok = m.Lookup("streaming")
	assert.True(t, ok)
}

func TestManagerFeeds(t *testing.T) {
	m, err := NewManager(newFakeSource(), newTestRepo(t), Config{})
	require.NoError(t, err)

	global, err := m.Feed(domain.NewsTypeGlobal)
	require.NoError(t, err)
	assert.Equal(t, domain.NewsTypeGlobal, global.Kind())

	_, err = m.Feed("weekly")
	assert.Error(t, err)
}
