package domain

import (
	"encoding/json"
	"time"
)

// Inbound event names on the payment topic.
const (
	EventPaymentSucceeded = "PaymentSucceeded"
	EventPaymentFailed    = "PaymentFailed"
)

// EventWrapper is the envelope of every message on the shared topics.
type EventWrapper struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type PaymentSucceededEvent struct {
	OrderID     int64     `json:"order_id"`
	PaymentID   int64     `json:"payment_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	PaidAt      time.Time `json:"paid_at"`
}

type PaymentFailedEvent struct {
	OrderID   int64     `json:"order_id"`
	PaymentID int64     `json:"payment_id"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

// OrderEventMessage mirrors one outbox row onto the order topic.
type OrderEventMessage struct {
	OutboxID      int64           `json:"outbox_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
