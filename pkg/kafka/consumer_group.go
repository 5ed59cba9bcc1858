package kafka

import (
	"context"
	"fmt"

	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type HandlerFunc func(ctx context.Context, msg *sarama.ConsumerMessage) error

type ConsumerGroup struct {
	brokers     []string
	groupID     string
	topics      []string
	handlerFunc HandlerFunc
	logger      *zap.Logger
}

func NewConsumerGroup(
	brokers []string,
	groupID string,
	topics []string,
	handlerFunc HandlerFunc,
	logger *zap.Logger,
) *ConsumerGroup {
	return &ConsumerGroup{
		brokers:     brokers,
		groupID:     groupID,
		topics:      topics,
		handlerFunc: handlerFunc,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled.
func (c *ConsumerGroup) Run(ctx context.Context) error {
	config := sarama.NewConfig()
	config.Version = sarama.V3_0_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	group, err := sarama.NewConsumerGroup(c.brokers, c.groupID, config)
	if err != nil {
		return fmt.Errorf("error creating consumer group %s: %w", c.groupID, err)
	}

	defer func() {
		if err := group.Close(); err != nil {
			mylogger.Error(context.WithoutCancel(ctx), c.logger, "Error closing consumer group", zap.Error(err))
		}
	}()

	go func() {
		for err := range group.Errors() {
			mylogger.Warn(ctx, c.logger, "Consumer group error", zap.Error(err))
		}
	}()

	consumer := &saramaHandler{
		handler: c.handlerFunc,
		logger:  c.logger,
		tracer:  otel.Tracer("pkg/kafka/consumer"),
	}

	for {
		err := group.Consume(ctx, c.topics, consumer)
		if err != nil {
			mylogger.Error(ctx, c.logger, "Error consuming in consumer loop", zap.Error(err))
		}

		if ctx.Err() != nil {
			mylogger.Info(context.WithoutCancel(ctx), c.logger, "Context cancelled, shutting down consumer")
			return nil
		}
	}
}

type saramaHandler struct {
	handler HandlerFunc
	logger  *zap.Logger
	tracer  trace.Tracer
}

func (h *saramaHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *saramaHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *saramaHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ctx, span := h.startSpan(session.Context(), msg)

		err := h.handler(ctx, msg)
		if err == nil {
			session.MarkMessage(msg, "")
		} else {
			span.RecordError(err)

			mylogger.Error(
				ctx,
				h.logger,
				"Failed to process message",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}

		span.End()
	}

	return nil
}

func (h *saramaHandler) startSpan(ctx context.Context, msg *sarama.ConsumerMessage) (context.Context, trace.Span) {
	carrier := propagation.MapCarrier{}
	for _, header := range msg.Headers {
		carrier[string(header.Key)] = string(header.Value)
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	return h.tracer.Start(ctx, "kafka_process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
}
