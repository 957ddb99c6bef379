package repository

import (
	"context"

	"TrapFlow/internal/domain/models"
	pkgkafka "TrapFlow/pkg/kafka"
)

// KafkaEventMirror publishes journaled events to a Kafka topic keyed by trap
// type, so partition ordering holds per type.
type KafkaEventMirror struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventMirror(producer *pkgkafka.Producer, topic string) *KafkaEventMirror {
	return &KafkaEventMirror{producer: producer, topic: topic}
}

func (m *KafkaEventMirror) Publish(ctx context.Context, e *models.TrapEvent) error {
	return m.producer.Publish(ctx, m.topic, []byte(e.TrapType), e)
}

func (m *KafkaEventMirror) Close() error {
	if m.producer != nil {
		return m.producer.Close()
	}
	return nil
}
