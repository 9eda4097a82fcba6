package models

import "time"

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message"`
}

// CreateNotificationRequest is the admin submission. Either Template (a
// template name plus Values) or a literal Title/Body pair is given.
type CreateNotificationRequest struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Template    string            `json:"template"`
	Values      map[string]string `json:"values"`
	Kind        Kind              `json:"kind"`
	Level       Level             `json:"level"`
	ActionURL   string            `json:"action_url"`
	ActionText  string            `json:"action_text"`
	ImageURL    string            `json:"image_url"`
	Payload     *Payload          `json:"payload"`
	Targeting   TargetingSpec     `json:"targeting" binding:"required"`
	Channels    []Channel         `json:"channels" binding:"required,min=1"`
	ScheduledAt *time.Time        `json:"scheduled_at"`
}

type DispatchResponse struct {
	NotificationID string             `json:"notification_id"`
	Status         NotificationStatus `json:"status"`
	Recipients     int                `json:"recipients"`
	Records        int                `json:"records"`
	UnknownIDs     int                `json:"unknown_ids,omitempty"`
	QueuedAt       time.Time          `json:"queued_at"`
}

type PreviewRequest struct {
	Template string            `json:"template" binding:"required"`
	Values   map[string]string `json:"values"`
}

type PreviewResponse struct {
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Unresolved []string `json:"unresolved_placeholders"`
}

// FeedItem is the client-facing notification shape served by the read
// API and mirrored on the push channel. Version is server-assigned and
// strictly increases with every state change; clients keep the entry
// with the highest version.
type FeedItem struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Level      Level      `json:"level"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	ActionURL  string     `json:"action_url,omitempty"`
	ActionText string     `json:"action_text,omitempty"`
	ImageURL   string     `json:"image_url,omitempty"`
	Payload    *Payload   `json:"payload,omitempty"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// Read reports whether the recipient has read this entry.
func (f FeedItem) Read() bool { return f.ReadAt != nil }

// EventAt returns the external event time for kinds that carry one.
func (f FeedItem) EventAt() (time.Time, bool) {
	if f.Payload != nil && f.Payload.VerificationCall != nil {
		return f.Payload.VerificationCall.ScheduledAt, true
	}
	return time.Time{}, false
}

// Internal reports whether the action link is an application route.
// Anything not starting with "/" opens as an external link.
func (f FeedItem) Internal() bool {
	return len(f.ActionURL) > 0 && f.ActionURL[0] == '/'
}
