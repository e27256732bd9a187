package kafka

import (
	"encoding/json"
	"time"
)

// EventType определяет тип события во внешнем контуре.
type EventType string

const (
	// Order события
	EventTypeOrderCreated  EventType = "order.created"
	EventTypeOrderPaid     EventType = "order.paid"
	EventTypeOrderCanceled EventType = "order.canceled"
	EventTypeOrderRefunded EventType = "order.refunded"

	// Payment события
	EventTypePaymentFailedFinal EventType = "payment.failed_final"

	// Delivery события
	EventTypeDeliveryAssigned   EventType = "delivery.assigned"
	EventTypeDeliveryCompleted  EventType = "delivery.completed"
	EventTypeDeliveryFailed     EventType = "delivery.failed"
	EventTypeDeliveryPermFailed EventType = "delivery.permanently_failed"
)

// Topics для Kafka
const (
	// TopicOrderEvents — исходящий поток событий fulfillment-контура.
	TopicOrderEvents = "fulfillment.order.events"
	// TopicPaymentWebhooks — входящий поток событий платёжного провайдера.
	TopicPaymentWebhooks = "fulfillment.payment.webhooks"
	// TopicDeadLetterQueue — Dead Letter Queue для failed messages.
	TopicDeadLetterQueue = "fulfillment.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет исходящее событие fulfillment-контура.
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создаёт новое событие fulfillment-контура.
func NewOrderEvent(eventType EventType, orderID string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// WebhookEnvelope — сообщение входящего потока платёжных webhook-ов.
// Body хранится сырым: подпись провайдера считается по байтам тела,
// и любой reserialize её инвалидирует.
type WebhookEnvelope struct {
	Provider   string          `json:"provider"`
	Signature  string          `json:"signature"`
	Body       json.RawMessage `json:"body"`
	ReceivedAt time.Time       `json:"received_at"`
}

// WebhookBody — распарсенное тело платёжного события.
type WebhookBody struct {
	Type            string    `json:"type"`
	EntityID        string    `json:"entity_id"`
	ProviderOrderID string    `json:"provider_order_id"`
	AmountMinor     int64     `json:"amount_minor"`
	Currency        string    `json:"currency"`
	Reason          string    `json:"reason,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
