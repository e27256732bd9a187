package domain

import (
	"fmt"
	"time"
)

// WebhookEventType — тип асинхронного события платёжного провайдера.
type WebhookEventType string

const (
	EventPaymentCaptured   WebhookEventType = "payment_captured"
	EventPaymentFailed     WebhookEventType = "payment_failed"
	EventPaymentAuthorized WebhookEventType = "payment_authorized"
	EventOrderPaid         WebhookEventType = "order_paid"
	EventRefundCreated     WebhookEventType = "refund_created"
	EventRefundProcessed   WebhookEventType = "refund_processed"
)

// WebhookEvent — входящее событие провайдера после парсинга сырого payload.
type WebhookEvent struct {
	Type WebhookEventType
	// EntityID — стабильный идентификатор сущности у провайдера
	// (payment id для платёжных событий, refund id для возвратов).
	EntityID string
	// ProviderOrderID связывает событие с платежом в нашей системе.
	ProviderOrderID string
	AmountMinor     int64
	Currency        string
	Reason          string
	OccurredAt      time.Time
}

// DedupKey возвращает детерминированный ключ идемпотентности события.
// Ключ строится только из идентификаторов, стабильных на стороне провайдера.
// Время получения в ключ не входит: иначе повторная доставка того же события
// получала бы новый ключ и дедупликация переставала бы работать.
func (e WebhookEvent) DedupKey() string {
	return fmt.Sprintf("%s:%s", e.Type, e.EntityID)
}

// Validate проверяет ключевые поля события.
func (e *WebhookEvent) Validate() []error {
	var errs []error

	if e.Type == "" {
		errs = append(errs, ErrEventTypeRequired)
	}
	if e.EntityID == "" {
		errs = append(errs, ErrEntityIDRequired)
	}

	return errs
}

// WebhookEventStatus описывает жизненный цикл записи о событии.
type WebhookEventStatus string

const (
	// WebhookEventProcessing — событие принято и обрабатывается.
	WebhookEventProcessing WebhookEventStatus = "processing"
	// WebhookEventApplied — мутация платежа/заказа выполнена, повтор события — no-op.
	WebhookEventApplied WebhookEventStatus = "applied"
	// WebhookEventAbandoned — retry-бюджет исчерпан, событие ждёт ручной сверки.
	WebhookEventAbandoned WebhookEventStatus = "abandoned"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s WebhookEventStatus) Valid() bool {
	switch s {
	case WebhookEventProcessing, WebhookEventApplied, WebhookEventAbandoned:
		return true
	default:
		return false
	}
}

// WebhookEventRecord хранит состояние обработки события по dedup-ключу.
type WebhookEventRecord struct {
	Key       string
	Type      WebhookEventType
	Status    WebhookEventStatus
	Attempts  int
	LastError string
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}
