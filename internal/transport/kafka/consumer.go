package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	generalDomain "github.com/Alejandroperezitsur/ITSUR-Eats/pkg/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/kafka"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type PaymentService interface {
	MarkPaid(ctx context.Context, event *generalDomain.PaymentSucceededEvent) (*domain.Order, error)
}

type Consumer struct {
	service PaymentService
	logger  *zap.Logger
}

func NewConsumer(service PaymentService, logger *zap.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

// Start blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, brokers []string, groupID string, topics []string) error {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		groupID,
		topics,
		c.processMessage,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	mylogger.Info(
		ctx,
		c.logger,
		"Processing message",
		zap.String("topic", msg.Topic),
	)

	var wrapper generalDomain.EventWrapper
	if err := json.Unmarshal(msg.Value, &wrapper); err != nil {
		mylogger.Error(ctx, c.logger, "Error unmarshalling wrapper", zap.Error(err))
		return err
	}

	switch wrapper.Event {
	case generalDomain.EventPaymentSucceeded:
		var event generalDomain.PaymentSucceededEvent
		if err := json.Unmarshal(wrapper.Payload, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to unmarshal payload", zap.Error(err))
			return err
		}

		_, err := c.service.MarkPaid(ctx, &event)
		if err == nil {
			return nil
		}

		// Redelivered or late payments leave the order untouched.
		if errors.Is(err, domain.ErrInvalidStateTransition) || errors.Is(err, domain.ErrOrderNotFound) {
			mylogger.Warn(
				ctx,
				c.logger,
				"Payment not applied",
				zap.Int64("order_id", event.OrderID),
				zap.Int64("payment_id", event.PaymentID),
				zap.Error(err),
			)

			return nil
		}

		mylogger.Error(ctx, c.logger, "Failed to mark order paid", zap.Error(err))
		return err
	case generalDomain.EventPaymentFailed:
		var event generalDomain.PaymentFailedEvent
		if err := json.Unmarshal(wrapper.Payload, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to unmarshal payload", zap.Error(err))
			return err
		}

		mylogger.Warn(
			ctx,
			c.logger,
			"Payment failed",
			zap.Int64("order_id", event.OrderID),
			zap.String("reason", event.Reason),
		)
	default:
		mylogger.Warn(ctx, c.logger, "Ignored event type", zap.String("event_type", wrapper.Event))
	}

	return nil
}
