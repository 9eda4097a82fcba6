package models

import "time"

type Channel string

const (
	ChannelInApp Channel = "in-app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

// Level is the display priority of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

func (l Level) IsValid() bool {
	switch l {
	case LevelInfo, LevelSuccess, LevelWarning, LevelError:
		return true
	}
	return false
}

// NotificationStatus tracks the lifecycle of a notification as a whole;
// per-recipient progress lives on DeliveryRecord.
type NotificationStatus string

const (
	StatusDraft     NotificationStatus = "draft"
	StatusScheduled NotificationStatus = "scheduled"
	StatusSending   NotificationStatus = "sending"
	StatusSent      NotificationStatus = "sent"
	StatusFailed    NotificationStatus = "failed"
)

// Notification is the logical message. Title and Body are post-render:
// placeholder substitution happens once, at dispatch, before records are
// created. Immutable after sending starts except for status transitions.
type Notification struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Body        string             `json:"body"`
	Kind        Kind               `json:"kind"`
	Level       Level              `json:"level"`
	ActionURL   string             `json:"action_url,omitempty"`
	ActionText  string             `json:"action_text,omitempty"`
	ImageURL    string             `json:"image_url,omitempty"`
	Payload     *Payload           `json:"payload,omitempty"`
	Targeting   TargetingSpec      `json:"targeting"`
	Channels    []Channel          `json:"channels"`
	ScheduledAt *time.Time         `json:"scheduled_at,omitempty"`
	Status      NotificationStatus `json:"status"`
	CreatedBy   string             `json:"created_by"`
	CreatedAt   time.Time          `json:"created_at"`
}
