package domain

import "time"

// DeliveryStatus traces the monotonic path of one delivery:
// pending → sent → delivered → read, or pending → failed.
// The drain workers drive only pending → {sent, failed}; the delivered and
// read transitions are reserved for an external callback surface.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryPending, DeliverySent, DeliveryDelivered, DeliveryRead, DeliveryFailed:
		return true
	}
	return false
}

func (s DeliveryStatus) Terminal() bool {
	return s != DeliveryPending
}

// Delivery records one attempt to hand a broadcast to one recipient.
// There is exactly one delivery per (broadcast, recipient) pair.
type Delivery struct {
	ID           string         `json:"id"`
	BroadcastID  string         `json:"broadcast_id"`
	Recipient    string         `json:"recipient"`
	Status       DeliveryStatus `json:"status"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time     `json:"delivered_at,omitempty"`
	ReadAt       *time.Time     `json:"read_at,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	RetryCount   int            `json:"retry_count"`
	CreatedAt    time.Time      `json:"created_at"`
}
