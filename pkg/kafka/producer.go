package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const MessageIDHeader = "message-id"

type Producer interface {
	ProduceMessage(ctx context.Context, topic, key string, message interface{}) error
	Close() error
}

type producer struct {
	syncProducer sarama.SyncProducer
	logger       *zap.Logger
}

func NewProducer(brokers []string, logger *zap.Logger) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("error creating producer: %w", err)
	}

	return &producer{syncProducer: p, logger: logger}, nil
}

// ProduceMessage sends message as JSON. The key selects the partition so
// messages of one aggregate keep their order.
func (p *producer) ProduceMessage(ctx context.Context, topic, key string, message interface{}) error {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("error marshaling message: %w", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]sarama.RecordHeader, 0, len(carrier)+1)
	headers = append(headers, sarama.RecordHeader{
		Key:   []byte(MessageIDHeader),
		Value: []byte(uuid.NewString()),
	})
	for k, v := range carrier {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(jsonMsg),
		Headers: headers,
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.syncProducer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}

	mylogger.Debug(
		ctx,
		p.logger,
		"Message sent",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)

	return nil
}

func (p *producer) Close() error {
	return p.syncProducer.Close()
}
