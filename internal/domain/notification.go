package domain

import (
	"time"

	"github.com/google/uuid"
)

// Notification tags.
const (
	TagNewsGlobal  = "news_global"
	TagNewsSubject = "news_subject"
)

// Notification is one entry of a device's notification history.
type Notification struct {
	ID          string    `json:"id"`
	Tag         string    `json:"tag"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Read        bool      `json:"read"`
	Payload     string    `json:"payload,omitempty"`
}

// NewNotification builds an unread notification with a fresh ID.
func NewNotification(tag, title, description string, ts time.Time) Notification {
	return Notification{
		ID:          uuid.NewString(),
		Tag:         tag,
		Title:       title,
		Description: description,
		Timestamp:   ts,
	}
}
