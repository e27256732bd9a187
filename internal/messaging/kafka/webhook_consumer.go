package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/webhook"
)

// WebhookConsumer подключает поток платёжных webhook-ов к процессору событий.
// Сообщения с невалидной подписью и abandoned-события уходят в DLQ через
// общий retry-механизм консьюмера.
type WebhookConsumer struct {
	processor *webhook.Processor
	consumer  *Consumer
	logger    *log.Entry
}

// NewWebhookConsumer создаёт консьюмер входящих платёжных событий.
func NewWebhookConsumer(brokers []string, groupID string, processor *webhook.Processor, dlqProducer *Producer) (*WebhookConsumer, error) {
	wc := &WebhookConsumer{
		processor: processor,
		logger:    log.WithField("component", "webhook-consumer"),
	}

	consumer, err := NewConsumerWithDLQ(brokers, groupID, []string{TopicPaymentWebhooks}, wc.handleMessage, dlqProducer, 3)
	if err != nil {
		return nil, err
	}
	wc.consumer = consumer
	return wc, nil
}

// Start запускает консьюмер.
func (wc *WebhookConsumer) Start(ctx context.Context) error {
	return wc.consumer.Start(ctx)
}

// Stop останавливает консьюмер.
func (wc *WebhookConsumer) Stop() error {
	return wc.consumer.Stop()
}

func (wc *WebhookConsumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	envelope, err := ParseWebhookEnvelope(message)
	if err != nil {
		return err
	}
	return wc.HandleEnvelope(ctx, envelope)
}

// HandleEnvelope проверяет подпись и передаёт событие процессору.
func (wc *WebhookConsumer) HandleEnvelope(ctx context.Context, envelope *WebhookEnvelope) error {
	if !wc.processor.VerifySignature(envelope.Signature, envelope.Body) {
		wc.logger.WithField("provider", envelope.Provider).Warn("webhook signature verification failed")
		return domain.ErrSignatureInvalid
	}

	event, err := decodeWebhookBody(envelope.Body)
	if err != nil {
		return err
	}

	result, err := wc.processor.ProcessEvent(event)
	if err != nil {
		// Abandoned-событие уже зафиксировано для ручной сверки; повтор
		// сообщения консьюмером привёл бы к бесконечному циклу.
		if errors.Is(err, domain.ErrEventAbandoned) {
			wc.logger.WithError(err).WithField("dedup_key", event.DedupKey()).
				Error("webhook event abandoned, leaving for reconciliation")
			return err
		}
		return err
	}

	if result.Duplicate {
		wc.logger.WithField("dedup_key", event.DedupKey()).Debug("duplicate webhook delivery acknowledged")
	}
	return nil
}

func decodeWebhookBody(body []byte) (domain.WebhookEvent, error) {
	var parsed WebhookBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("failed to unmarshal webhook body: %w", err)
	}
	return domain.WebhookEvent{
		Type:            domain.WebhookEventType(parsed.Type),
		EntityID:        parsed.EntityID,
		ProviderOrderID: parsed.ProviderOrderID,
		AmountMinor:     parsed.AmountMinor,
		Currency:        parsed.Currency,
		Reason:          parsed.Reason,
		OccurredAt:      parsed.OccurredAt,
	}, nil
}
