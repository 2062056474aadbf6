// Package notify fans news and account events out to connected clients over
// Server-Sent Events and WebSocket, with replay for reconnecting clients.
package notify

import "time"

// Message actions.
const (
	ActionNewsGlobal     = "news.global"
	ActionNewsSubject    = "news.subject"
	ActionAccountLogin   = "account.login"
	ActionAccountLogout  = "account.logout"
	ActionSettingsUpdate = "settings.update"
)

// Message statuses.
const (
	StatusNewNews   = "new_news"
	StatusRefreshed = "refreshed"
	StatusLoggedIn  = "logged_in"
	StatusLoggedOut = "logged_out"
	StatusUpdated   = "updated"
)

// Message is one event delivered to clients. EventID and Timestamp are
// assigned by the Hub.
type Message struct {
	Action    string    `json:"action"`
	Status    string    `json:"status,omitempty"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	EventID   int64     `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	// DeviceID targets a single device. Empty means every device.
	DeviceID string `json:"-"`
}

// Receiver consumes messages field by field. Go clients of the SSE and
// WebSocket streams decode each event into a Message and hand it to Dispatch.
type Receiver interface {
	OnStatus(key, value string)
	OnData(key string, data any)
	OnError(key, msg string)
}

// Dispatch invokes the receiver callback of every field present on m, in
// status, data, error order, keyed by the action.
func Dispatch(r Receiver, m Message) {
	if r == nil {
		return
	}
	if m.Status != "" {
		r.OnStatus(m.Action, m.Status)
	}
	if m.Data != nil {
		r.OnData(m.Action, m.Data)
	}
	if m.Error != "" {
		r.OnError(m.Action, m.Error)
	}
}
