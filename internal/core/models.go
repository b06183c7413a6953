package core

import (
	"time"
)

// ScheduledMessage status values. Transitions:
// scheduled -> sending -> sent | failed, scheduled -> cancelled.
// sent, failed and cancelled are terminal.
const (
	StatusScheduled = "scheduled"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// IsTerminal reports whether a scheduled-message status admits no further
// transitions.
func IsTerminal(status string) bool {
	return status == StatusSent || status == StatusFailed || status == StatusCancelled
}

// Message types.
const (
	TypeAnnouncement = "announcement"
	TypeChannel      = "channel"
	TypeDirect       = "direct"
	TypeInvitation   = "invitation"
)

// Delivery channels.
const (
	ChannelSMS  = "sms"
	ChannelPush = "push"
)

// MessageDelivery status values.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

type Guest struct {
	ID            string   `json:"id"`
	EventID       string   `json:"event_id"`
	Phone         *string  `json:"phone,omitempty"`
	Tags          []string `json:"tags"`
	Declined      bool     `json:"declined"`
	OptedOutOfSMS bool     `json:"opted_out_of_sms"`
	Removed       bool     `json:"removed"`
}

// GuestRef is the slice of a Guest the dispatch path needs: identity plus
// the normalized phone to hand the gateway.
type GuestRef struct {
	ID    string `json:"id"`
	Phone string `json:"phone"`
}

// RecipientFilter selects the audience of a message. Exactly one variant is
// active, keyed by Kind. Non-explicit kinds (all, tags, rsvp) are re-resolved
// against the live roster at dispatch time so late-joining guests are
// included; explicit selections are frozen at schedule time. That asymmetry
// is intentional.
type RecipientFilter struct {
	Kind       string   `json:"kind"` // all | tags | explicit | rsvp
	Tags       []string `json:"tags,omitempty"`
	RequireAll bool     `json:"require_all,omitempty"`
	GuestIDs   []string `json:"guest_ids,omitempty"`
	Statuses   []string `json:"statuses,omitempty"` // attending | declined
}

const (
	FilterAll      = "all"
	FilterTags     = "tags"
	FilterExplicit = "explicit"
	FilterRSVP     = "rsvp"
)

const (
	RSVPAttending = "attending"
	RSVPDeclined  = "declined"
)

// Explicit reports whether the audience was fixed at schedule time.
func (f RecipientFilter) Explicit() bool { return f.Kind == FilterExplicit }

// Message is a realized send. Immutable once created.
type Message struct {
	ID                 string     `json:"id"`
	EventID            string     `json:"event_id"`
	Content            string     `json:"content"`
	MessageType        string     `json:"message_type"`
	ScheduledMessageID *string    `json:"scheduled_message_id,omitempty"`
	DeliveredCount     int        `json:"delivered_count"`
	FailedCount        int        `json:"failed_count"`
	CreatedAt          time.Time  `json:"created_at"`
	SentAt             *time.Time `json:"sent_at,omitempty"`
}

type ScheduledMessage struct {
	ID                string          `json:"id"`
	EventID           string          `json:"event_id"`
	Content           string          `json:"content"`
	MessageType       string          `json:"message_type"`
	Filter            RecipientFilter `json:"filter"`
	RecipientIDs      []string        `json:"recipient_ids"` // snapshot at schedule time
	SendAt            time.Time       `json:"send_at"`       // always UTC
	ScheduledTZ       string          `json:"scheduled_tz"`
	ScheduledLocal    string          `json:"scheduled_local"` // display only, never compared
	IdempotencyKey    string          `json:"idempotency_key"`
	Status            string          `json:"status"`
	RecipientCount    int             `json:"recipient_count"`
	SuccessCount      int             `json:"success_count"`
	FailureCount      int             `json:"failure_count"`
	ModificationCount int             `json:"modification_count"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	ModifiedAt        time.Time       `json:"modified_at"`
}

type MessageDelivery struct {
	ID            string    `json:"id"`
	MessageID     string    `json:"message_id"`
	GuestID       string    `json:"guest_id"`
	PhoneSnapshot string    `json:"phone_snapshot"`
	Channel       string    `json:"channel"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}
