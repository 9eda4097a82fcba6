package models

import "time"

// ChannelJob is the brokered unit of work consumed by channel workers.
// One job corresponds to one delivery record.
type ChannelJob struct {
	RecordID       string    `json:"record_id"`
	NotificationID string    `json:"notification_id"`
	RecipientID    string    `json:"recipient_id"`
	Channel        Channel   `json:"channel"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Level          Level     `json:"level"`
	CorrelationID  string    `json:"correlation_id"`
	Timestamp      time.Time `json:"timestamp"`
}
