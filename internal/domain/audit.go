package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditOrderCreated   AuditAction = "ORDER_CREATED"
	AuditOrderPaid      AuditAction = "ORDER_PAID"
	AuditOrderCancelled AuditAction = "ORDER_CANCELLED"
	AuditOrderAccepted  AuditAction = "ORDER_ACCEPTED"
	AuditOrderReady     AuditAction = "ORDER_READY"
	AuditOrderCompleted AuditAction = "ORDER_COMPLETED"
)

const AggregateOrder = "ORDER"

const redacted = "***"

var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"token":         {},
	"refreshtoken":  {},
	"refresh_token": {},
	"accesstoken":   {},
	"access_token":  {},
	"creditcard":    {},
	"credit_card":   {},
}

// AuditLogEntry is append-only.
type AuditLogEntry struct {
	ID            uuid.UUID       `json:"id"`
	Action        AuditAction     `json:"action"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	UserID        *int64          `json:"user_id,omitempty"`
	IPAddress     string          `json:"ip_address,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	Changes       json.RawMessage `json:"changes"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewAuditEntry builds an entry with sanitized changes. changes may be any
// JSON-encodable value.
func NewAuditEntry(action AuditAction, aggregateType, aggregateID string, actor Actor, changes any) (*AuditLogEntry, error) {
	raw, err := json.Marshal(changes)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}

	sanitized, err := json.Marshal(SanitizeChanges(decoded))
	if err != nil {
		return nil, err
	}

	entry := &AuditLogEntry{
		ID:            uuid.New(),
		Action:        action,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		IPAddress:     actor.IP,
		UserAgent:     actor.UserAgent,
		Changes:       sanitized,
	}
	if actor.UserID != 0 {
		id := actor.UserID
		entry.UserID = &id
	}

	return entry, nil
}

// SanitizeChanges returns a copy of v with secret-bearing keys redacted at
// any depth. Keys match case-insensitively.
func SanitizeChanges(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, secret := sensitiveKeys[strings.ToLower(k)]; secret {
				out[k] = redacted
				continue
			}
			out[k] = SanitizeChanges(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = SanitizeChanges(val)
		}
		return out
	default:
		return v
	}
}
