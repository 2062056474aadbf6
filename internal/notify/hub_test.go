package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReceiver struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingReceiver) OnStatus(key, value string) { r.add("status:" + key + ":" + value) }
func (r *recordingReceiver) OnData(key string, _ any)    { r.add("data:" + key) }
func (r *recordingReceiver) OnError(key, msg string)     { r.add("error:" + key + ":" + msg) }

func (r *recordingReceiver) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func TestDispatchOrder(t *testing.T) {
	r := &recordingReceiver{}
	Dispatch(r, Message{Action: ActionNewsGlobal, Status: StatusNewNews, Data: []int{1}, Error: "boom"})
	assert.Equal(t, []string{
		"status:news.global:new_news",
		"data:news.global",
		"error:news.global:boom",
	}, r.calls)

	r = &recordingReceiver{}
	Dispatch(r, Message{Action: ActionAccountLogout, Status: StatusLoggedOut})
	assert.Equal(t, []string{"status:account.logout:logged_out"}, r.calls)

	Dispatch(nil, Message{Action: ActionNewsGlobal})
}

func TestReplayQueuePerDevice(t *testing.T) {
	q := NewReplayQueue(2)
	q.Enqueue(Message{EventID: 1, DeviceID: broadcastKey})
	q.Enqueue(Message{EventID: 2, DeviceID: "a"})
	q.Enqueue(Message{EventID: 3, DeviceID: "b"})
	q.Enqueue(Message{EventID: 4, DeviceID: "a"})
	q.Enqueue(Message{EventID: 5, DeviceID: "a"})

	ids := func(ms []Message) []int64 {
		out := make([]int64, 0, len(ms))
		for _, m := range ms {
			out = append(out, m.EventID)
		}
		return out
	}

	assert.Equal(t, []int64{1, 4, 5}, ids(q.Missed("a", 0)), "device ring keeps the newest two")
	assert.Equal(t, []int64{1, 3}, ids(q.Missed("b", 0)))
	assert.Equal(t, []int64{5}, ids(q.Missed("a", 4)))

	q.Prune("a")
	assert.Equal(t, []int64{1}, ids(q.Missed("a", 0)))
}

func TestRingWraps(t *testing.T) {
	r := newRing(3)
	assert.Equal(t, 0, r.len())
	for i := int64(1); i <= 5; i++ {
		r.push(Message{EventID: i})
	}
	assert.Equal(t, 3, r.len())
	got := r.after(0)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[0].EventID)
	assert.Equal(t, int64(5), got[2].EventID)
}

func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case m, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestHubPublishFansOut(t *testing.T) {
	h := NewHub(HubConfig{})
	defer h.Close()

	a, err := h.Subscribe("a", TransportSSE, 4)
	require.NoError(t, err)
	b, err := h.Subscribe("b", TransportWebSocket, 4)
	require.NoError(t, err)

	require.NoError(t, h.Publish(Message{Action: ActionNewsGlobal, Status: StatusNewNews}))
	ma := receive(t, a)
	mb := receive(t, b)
	assert.Equal(t, ma.EventID, mb.EventID)
	assert.False(t, ma.Timestamp.IsZero())

	require.NoError(t, h.PublishTo("b", Message{Action: ActionAccountLogin, Status: StatusLoggedIn}))
	mb = receive(t, b)
	assert.Equal(t, ActionAccountLogin, mb.Action)
	assert.Greater(t, mb.EventID, ma.EventID)

	select {
	case m := <-a.C():
		t.Fatalf("device a received a message for b: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Error(t, h.PublishTo("", Message{}))
}

func TestHubReplay(t *testing.T) {
	h := NewHub(HubConfig{ReplaySize: 10})
	defer h.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.PublishTo("a", Message{Action: ActionNewsSubject}))
	}
	require.Eventually(t, func() bool { return len(h.Missed("a", 0)) == 3 }, time.Second, 5*time.Millisecond)

	missed := h.Missed("a", 0)
	assert.Len(t, h.Missed("a", missed[0].EventID), 2)
	assert.Empty(t, h.Missed("b", 0))
}

func TestHubSlowSubscriberKeepsNewest(t *testing.T) {
	h := NewHub(HubConfig{})
	defer h.Close()

	sub, err := h.Subscribe("a", TransportSSE, 1)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.PublishTo("a", Message{Action: ActionNewsGlobal}))
	}
	require.Eventually(t, func() bool { return len(h.Missed("a", 0)) == 5 }, time.Second, 5*time.Millisecond)

	// The fifth send may still be in flight, so allow one stale message first.
	last := h.Missed("a", 0)[4].EventID
	got := receive(t, sub).EventID
	if got != last {
		got = receive(t, sub).EventID
	}
	assert.Equal(t, last, got)
}

func TestHubUnsubscribeAndClose(t *testing.T) {
	h := NewHub(HubConfig{})

	sub, err := h.Subscribe("a", TransportSSE, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Connections("a"))
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, h.Connections("a"))
	_, ok := <-sub.C()
	assert.False(t, ok)

	other, err := h.Subscribe("b", TransportSSE, 1)
	require.NoError(t, err)
	h.Close()
	h.Close()
	_, ok = <-other.C()
	assert.False(t, ok)
	other.Close()

	assert.ErrorIs(t, h.Publish(Message{}), ErrHubClosed)
	_, err = h.Subscribe("c", TransportSSE, 1)
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestHubForgetDropsDeviceReplay(t *testing.T) {
	h := NewHub(HubConfig{ReplaySize: 10})
	defer h.Close()

	sub, err := h.Subscribe("a", TransportSSE, 4)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, h.Publish(Message{Action: ActionNewsGlobal}))
	require.NoError(t, h.PublishTo("a", Message{Action: ActionAccountLogin}))
	receive(t, sub)
	receive(t, sub)
	require.Len(t, h.Missed("a", 0), 2)
	assert.Equal(t, 2, h.queue.Len())

	h.Forget("a")
	assert.Equal(t, 1, h.queue.Len())
	missed := h.Missed("a", 0)
	require.Len(t, missed, 1)
	assert.Equal(t, ActionNewsGlobal, missed[0].Action)
}
