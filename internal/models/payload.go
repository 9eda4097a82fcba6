package models

import "time"

// Kind tags a notification with its domain meaning. Each kind carries a
// dedicated payload struct so consumers switch on the tag instead of
// probing an open bag of optional fields.
type Kind string

const (
	KindSystem           Kind = "system"
	KindBooking          Kind = "booking"
	KindVerificationCall Kind = "verification_call"
	KindPayout           Kind = "payout"
	KindRejection        Kind = "rejection"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindSystem, KindBooking, KindVerificationCall, KindPayout, KindRejection:
		return true
	}
	return false
}

type BookingPayload struct {
	BookingID   string    `json:"booking_id"`
	SubjectName string    `json:"subject_name"`
	StartsAt    time.Time `json:"starts_at"`
}

// VerificationCallPayload carries the scheduled time of an external
// verification call. The client gates the join link on this timestamp.
type VerificationCallPayload struct {
	CallID      string    `json:"call_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	MeetingURL  string    `json:"meeting_url"`
}

type PayoutPayload struct {
	PayoutID string `json:"payout_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type RejectionPayload struct {
	Subject string `json:"subject"`
	Reason  string `json:"reason"`
}

// Payload is the tagged union of per-kind data. Exactly the pointer
// matching Kind is set; the rest stay nil.
type Payload struct {
	Booking          *BookingPayload          `json:"booking,omitempty"`
	VerificationCall *VerificationCallPayload `json:"verification_call,omitempty"`
	Payout           *PayoutPayload           `json:"payout,omitempty"`
	Rejection        *RejectionPayload        `json:"rejection,omitempty"`
}
