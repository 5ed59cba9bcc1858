package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Event names understood by the socket gateway.
const (
	EventOrderNew    = "order:new"
	EventOrderUpdate = "order:update"
)

// Emitter delivers a payload to every socket joined to room.
type Emitter interface {
	Emit(ctx context.Context, room, event string, payload any) error
}

func UserRoom(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

func RoleRoom(role domain.Role) string {
	return fmt.Sprintf("roles:%s", role)
}

// Channel is the pub/sub channel the gateway subscribes to for room.
func Channel(room string) string {
	return fmt.Sprintf("socket.io#/#%s#", room)
}

type Message struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type RedisEmitter struct {
	client *redis.Client
	tracer trace.Tracer
}

func NewRedisEmitter(client *redis.Client) *RedisEmitter {
	return &RedisEmitter{
		client: client,
		tracer: otel.Tracer("notification_emitter"),
	}
}

func (e *RedisEmitter) Emit(ctx context.Context, room, event string, payload any) error {
	ctx, span := e.tracer.Start(ctx, "RedisEmitter.Emit")
	defer span.End()

	span.SetAttributes(
		attribute.String("room", room),
		attribute.String("event", event),
	)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	msg, err := json.Marshal(Message{Room: room, Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := e.client.Publish(ctx, Channel(room), msg).Err(); err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to publish to %s: %w", room, err)
	}

	return nil
}
