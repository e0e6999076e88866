package handlers_test

import (
	"context"
	"testing"
	"time"

	segmentiokafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/correlator-io/correlator/internal/outbox"
	"github.com/correlator-io/correlator/internal/outbox/handlers"
)

func TestKafkaPublisherHandlePublishesMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := kafka.Run(ctx, "confluentinc/confluent-local:7.6.1")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	const topic = "outbox.published"

	publisher := handlers.NewKafkaPublisher(brokers, topic, nil)
	t.Cleanup(func() { _ = publisher.Close() })

	msg := outbox.Message{Topic: topic, Payload: []byte(`{"ok":true}`), CorrelationID: "corr-1"}
	require.NoError(t, publisher.Handle(ctx, msg))

	reader := segmentiokafka.NewReader(segmentiokafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	t.Cleanup(func() { _ = reader.Close() })

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	got, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"ok":true}`), got.Value)
	require.Equal(t, []byte("corr-1"), got.Key)
}
