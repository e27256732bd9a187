package kafka

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/bus"
)

// BusMirror транслирует события внутренней шины во внешний Kafka-топик.
// Зеркалирование best-effort: продюсер опционален, и его сбой не влияет
// на внутренние подписки шины.
type BusMirror struct {
	producer *Producer
	topic    string
	logger   *log.Entry
}

// NewBusMirror создаёт зеркало шины в Kafka.
func NewBusMirror(producer *Producer, topic string) *BusMirror {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &BusMirror{
		producer: producer,
		topic:    topic,
		logger:   log.WithField("component", "kafka-bus-mirror"),
	}
}

// Attach подписывает зеркало на перечисленные топики шины.
func (m *BusMirror) Attach(b *bus.Bus, topics ...string) {
	for _, topic := range topics {
		b.Subscribe(topic, m.Handle)
	}
}

// Handle публикует одно событие шины в Kafka.
func (m *BusMirror) Handle(ctx context.Context, event bus.Event) error {
	if m == nil || m.producer == nil {
		return fmt.Errorf("kafka bus mirror is not initialized")
	}

	key := ""
	if orderID, ok := event.Payload["order_id"].(string); ok {
		key = orderID
	}

	outbound := NewOrderEvent(EventType(event.Topic), key, event.Payload)
	if !event.OccurredAt.IsZero() {
		outbound.Timestamp = event.OccurredAt
	}

	if err := m.producer.PublishEvent(m.topic, key, outbound); err != nil {
		m.logger.WithError(err).WithField("event_type", event.Topic).
			Warn("failed to mirror bus event to kafka")
		return err
	}
	return nil
}
