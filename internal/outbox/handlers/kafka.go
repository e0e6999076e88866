// Package handlers contains reference outbox.Handler implementations.
package handlers

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/correlator-io/correlator/internal/outbox"
)

// KafkaPublisher forwards outbox messages onto a Kafka topic, one Writer
// per destination topic. It is the reference "fan the outbox out to a
// broker" handler.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaPublisher builds a publisher writing to destTopic on brokers.
func NewKafkaPublisher(brokers []string, destTopic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        destTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
	}
}

// Handle implements outbox.Handler: publishes the message keyed by its
// correlation id so related events land on the same partition.
func (p *KafkaPublisher) Handle(ctx context.Context, msg outbox.Message) error {
	key := []byte(msg.CorrelationID)
	if len(key) == 0 {
		key = nil
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: msg.Payload,
	})
	if err != nil {
		p.logger.Error("kafka publish failed", slog.String("topic", msg.Topic), slog.Any("error", err))

		return err
	}

	return nil
}

// Close releases the underlying Kafka writer's connections.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
