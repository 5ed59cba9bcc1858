package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	generalDomain "github.com/Alejandroperezitsur/ITSUR-Eats/pkg/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/kafka"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	outboxDomain "github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/worker"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// SocketNotifier turns outbox events into room notifications.
type SocketNotifier struct {
	emitter Emitter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewSocketNotifier(emitter Emitter, logger *zap.Logger) *SocketNotifier {
	return &SocketNotifier{
		emitter: emitter,
		breaker: utils.NewBreaker("socket-emitter", logger),
		logger:  logger,
	}
}

func (n *SocketNotifier) OrderCreated(ctx context.Context, event *outboxDomain.OutboxEvent) error {
	var payload domain.OrderCreatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.EventType, err)
	}

	return n.emit(ctx, RoleRoom(domain.RoleCafeteriaStaff), EventOrderNew, payload)
}

func (n *SocketNotifier) OrderStatusUpdated(ctx context.Context, event *outboxDomain.OutboxEvent) error {
	var payload domain.OrderStatusUpdatedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.EventType, err)
	}

	return n.emit(ctx, UserRoom(payload.CustomerID), EventOrderUpdate, payload)
}

func (n *SocketNotifier) PaymentCompleted(ctx context.Context, event *outboxDomain.OutboxEvent) error {
	var payload domain.PaymentCompletedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.EventType, err)
	}

	if err := n.emit(ctx, UserRoom(payload.CustomerID), EventOrderUpdate, payload); err != nil {
		return err
	}

	return n.emit(ctx, RoleRoom(domain.RoleCafeteriaStaff), EventOrderUpdate, payload)
}

func (n *SocketNotifier) emit(ctx context.Context, room, name string, payload any) error {
	err := utils.RunWithBreaker(n.breaker, func() error {
		return n.emitter.Emit(ctx, room, name, payload)
	})
	if err != nil {
		mylogger.Warn(
			ctx,
			n.logger,
			"Failed to emit notification",
			zap.String("room", room),
			zap.String("event", name),
			zap.Error(err),
		)

		return err
	}

	return nil
}

// KafkaPublisher mirrors every outbox row onto the order topic.
type KafkaPublisher struct {
	producer kafka.Producer
	topic    string
	breaker  *gobreaker.CircuitBreaker
}

func NewKafkaPublisher(producer kafka.Producer, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		breaker:  utils.NewBreaker("kafka-publisher", logger),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *outboxDomain.OutboxEvent) error {
	msg := generalDomain.OrderEventMessage{
		OutboxID:      event.ID,
		EventType:     string(event.EventType),
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		OccurredAt:    event.CreatedAt,
	}

	return utils.RunWithBreaker(p.breaker, func() error {
		return p.producer.ProduceMessage(ctx, p.topic, event.AggregateID, msg)
	})
}

// AuditMirror writes each delivered event to the audit logger.
type AuditMirror struct {
	logger *zap.Logger
}

func NewAuditMirror(logger *zap.Logger) *AuditMirror {
	return &AuditMirror{logger: logger.Named("audit")}
}

func (a *AuditMirror) Record(ctx context.Context, event *outboxDomain.OutboxEvent) error {
	mylogger.Info(
		ctx,
		a.logger,
		"Order event",
		zap.Int64("event_id", event.ID),
		zap.String("event_type", string(event.EventType)),
		zap.String("aggregate_id", event.AggregateID),
		zap.Int("retry_count", event.RetryCount),
	)

	return nil
}

// Routes wires the handlers for every event type. A nil publisher leaves
// Kafka mirroring out.
func Routes(notifier *SocketNotifier, publisher *KafkaPublisher, mirror *AuditMirror) worker.Routes {
	with := func(primary worker.Handler) []worker.Handler {
		handlers := []worker.Handler{primary}
		if publisher != nil {
			handlers = append(handlers, worker.Handler{Name: "kafka_publish", Handle: publisher.Publish})
		}

		return append(handlers, worker.Handler{Name: "audit_mirror", Handle: mirror.Record})
	}

	return worker.Routes{
		OrderCreated:       with(worker.Handler{Name: "notify_staff", Handle: notifier.OrderCreated}),
		OrderStatusUpdated: with(worker.Handler{Name: "notify_customer", Handle: notifier.OrderStatusUpdated}),
		PaymentCompleted:   with(worker.Handler{Name: "notify_payment", Handle: notifier.PaymentCompleted}),
	}
}
