package models

import "time"

// RecordStatus is the per-recipient, per-channel delivery state.
// pending -> delivered -> read, or pending -> failed. read and failed
// are terminal.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordDelivered RecordStatus = "delivered"
	RecordRead      RecordStatus = "read"
	RecordFailed    RecordStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s RecordStatus) Terminal() bool {
	return s == RecordRead || s == RecordFailed
}

// DeliveryRecord tracks one (notification, recipient, channel) delivery.
// At most one active record exists per pair; resends update in place.
type DeliveryRecord struct {
	ID             string       `json:"id"`
	NotificationID string       `json:"notification_id"`
	RecipientID    string       `json:"recipient_id"`
	Channel        Channel      `json:"channel"`
	Status         RecordStatus `json:"status"`
	DeliveredAt    *time.Time   `json:"delivered_at,omitempty"`
	ReadAt         *time.Time   `json:"read_at,omitempty"`
	FailureReason  string       `json:"failure_reason,omitempty"`
	Version        int64        `json:"version"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// DeliveryStats aggregates record states for one notification.
type DeliveryStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
	Failed    int `json:"failed"`
}

// OpenRate is read/total, 0 when no records exist.
func (s DeliveryStats) OpenRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Read) / float64(s.Total)
}

// FailureRate is failed/total, 0 when no records exist.
func (s DeliveryStats) FailureRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Total)
}
