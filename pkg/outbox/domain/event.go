package domain

import (
	"encoding/json"
	"math"
	"time"
)

type EventType string

const (
	EventOrderCreated       EventType = "ORDER_CREATED"
	EventOrderStatusUpdated EventType = "ORDER_STATUS_UPDATED"
	EventPaymentCompleted   EventType = "PAYMENT_COMPLETED"
)

const (
	AggregateOrder = "ORDER"

	DefaultMaxRetries = 5
	backoffBase       = 5
)

type OutboxEvent struct {
	ID            int64           `db:"id" json:"id"`
	EventType     EventType       `db:"event_type" json:"event_type"`
	AggregateType string          `db:"aggregate_type" json:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id" json:"aggregate_id"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Processed     bool            `db:"processed" json:"processed"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	MaxRetries    int             `db:"max_retries" json:"max_retries"`
	LastError     *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
	ProcessedAt   *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// RetryDelay returns 5^k seconds. Events that never failed skip the delay
// entirely, see NextAttemptAt.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	return time.Duration(math.Pow(backoffBase, float64(retryCount))) * time.Second
}

func (e *OutboxEvent) NextAttemptAt() time.Time {
	if e.RetryCount == 0 {
		return e.CreatedAt
	}

	return e.UpdatedAt.Add(RetryDelay(e.RetryCount))
}

func (e *OutboxEvent) Quarantined() bool {
	return !e.Processed && e.RetryCount >= e.MaxRetries
}

// Eligible mirrors the fetch predicate of the outbox repository.
func (e *OutboxEvent) Eligible(now time.Time) bool {
	if e.Processed || e.Quarantined() {
		return false
	}

	return !now.Before(e.NextAttemptAt())
}
