package webhook

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// RetryConfig конфигурация retry-логики обработчиков событий.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию:
// 3 попытки, базовая задержка 1 секунда с удвоением.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      8 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Result — итог обработки одного события.
type Result struct {
	// Duplicate — событие с таким dedup-ключом уже применено; side effects не было.
	Duplicate bool
	// Applied — мутация платежа/заказа выполнена.
	Applied bool
	// Abandoned — retry-бюджет исчерпан, событие ждёт ручной сверки.
	Abandoned bool
	// Attempts — число выполненных попыток обработчика.
	Attempts int
}

// Processor применяет асинхронные события платёжного провайдера к платежам
// и заказам. Провайдер может доставлять события повторно и не по порядку,
// поэтому обработка идемпотентна по dedup-ключу, а терминальные статусы
// (paid, refunded) никогда не откатываются назад.
type Processor struct {
	events   domain.WebhookEventRepository
	payments domain.PaymentRepository
	orders   domain.OrderRepository
	notify   domain.NotificationSink
	signer   *Signer
	retry    RetryConfig
	logger   *log.Entry
	metrics  *metrics.FulfillmentMetrics

	// sleep подменяется в тестах, чтобы не ждать реальный backoff.
	sleep func(time.Duration)
}

// NewProcessor создаёт процессор webhook-событий.
func NewProcessor(
	events domain.WebhookEventRepository,
	payments domain.PaymentRepository,
	orders domain.OrderRepository,
	notify domain.NotificationSink,
	signer *Signer,
	retry RetryConfig,
	logger *log.Entry,
) *Processor {
	if logger == nil {
		logger = log.New().WithField("component", "webhook")
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	return &Processor{
		events:   events,
		payments: payments,
		orders:   orders,
		notify:   notify,
		signer:   signer,
		retry:    retry,
		logger:   logger,
		metrics:  metrics.NewFulfillmentMetrics(),
		sleep:    time.Sleep,
	}
}

// NewProcessorWithoutMetrics создаёт процессор без метрик (для тестов).
func NewProcessorWithoutMetrics(
	events domain.WebhookEventRepository,
	payments domain.PaymentRepository,
	orders domain.OrderRepository,
	notify domain.NotificationSink,
	signer *Signer,
	retry RetryConfig,
	logger *log.Entry,
) *Processor {
	p := NewProcessor(events, payments, orders, notify, signer, retry, logger)
	p.metrics = nil
	return p
}

// VerifySignature проверяет подпись сырого тела запроса.
// Без настроенного секрета проверка пропускается с явным предупреждением в логе:
// это осознанный insecure-режим для dev-окружений, а не тихий bypass.
func (p *Processor) VerifySignature(signature string, body []byte) bool {
	if p.signer == nil || !p.signer.Enabled() {
		p.logger.Warn("webhook secret is not configured, skipping signature verification (insecure mode)")
		return true
	}
	return p.signer.Verify(signature, body)
}

// ProcessEvent применяет событие провайдера ровно один раз.
func (p *Processor) ProcessEvent(event domain.WebhookEvent) (Result, error) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordWebhookDuration(time.Since(start))
		}
	}()

	if errs := event.Validate(); len(errs) > 0 {
		return Result{}, errs[0]
	}

	key := event.DedupKey()
	eventLogger := p.logger.WithFields(log.Fields{
		"event_type": event.Type,
		"dedup_key":  key,
	})

	record, duplicate, err := p.events.CreateProcessing(key, event.Type, nil)
	if err != nil {
		return Result{}, fmt.Errorf("register webhook event: %w", err)
	}
	if duplicate && record.Status == domain.WebhookEventApplied {
		if p.metrics != nil {
			p.metrics.RecordWebhookDuplicate()
		}
		eventLogger.Debug("duplicate webhook event discarded")
		return Result{Duplicate: true}, nil
	}
	if duplicate && record.Status == domain.WebhookEventProcessing {
		// Конкурентная доставка того же события: первая обработка ещё идёт.
		// Отдаём duplicate, провайдер повторит при необходимости.
		if p.metrics != nil {
			p.metrics.RecordWebhookDuplicate()
		}
		eventLogger.Debug("webhook event already in flight")
		return Result{Duplicate: true}, nil
	}

	result, handlerErr := p.applyWithRetry(event, eventLogger)

	if handlerErr == nil {
		if err := p.events.MarkApplied(key, result.Attempts); err != nil {
			eventLogger.WithError(err).Error("failed to mark webhook event applied")
		}
		if p.metrics != nil {
			p.metrics.RecordWebhookApplied()
		}
		result.Applied = true
		return result, nil
	}

	// Исчерпанные retry не глотаются: событие остаётся видимым для ручной сверки.
	if err := p.events.MarkAbandoned(key, result.Attempts, handlerErr.Error()); err != nil {
		eventLogger.WithError(err).Error("failed to mark webhook event abandoned")
	}
	if p.metrics != nil {
		p.metrics.RecordWebhookAbandoned()
	}
	result.Abandoned = true
	eventLogger.WithError(handlerErr).WithField("attempts", result.Attempts).
		Error("webhook event abandoned after retries")
	return result, fmt.Errorf("%w: %s", domain.ErrEventAbandoned, handlerErr)
}

func (p *Processor) applyWithRetry(event domain.WebhookEvent, eventLogger *log.Entry) (Result, error) {
	var lastErr error
	delay := p.retry.InitialDelay
	result := Result{}

	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := p.apply(event)
		if err == nil {
			if attempt > 1 {
				eventLogger.WithField("attempt", attempt).Info("webhook handler succeeded after retry")
			}
			return result, nil
		}
		lastErr = err

		if !p.shouldRetry(err) {
			eventLogger.WithError(err).Warn("webhook handler failed with non-retryable error")
			return result, err
		}

		if attempt < p.retry.MaxAttempts {
			eventLogger.WithError(err).WithFields(log.Fields{
				"attempt": attempt,
				"delay":   delay,
			}).Warn("webhook handler failed, retrying")
			if p.metrics != nil {
				p.metrics.RecordWebhookRetry()
			}

			p.sleep(delay)

			delay = time.Duration(float64(delay) * p.retry.BackoffFactor)
			if p.retry.MaxDelay > 0 && delay > p.retry.MaxDelay {
				delay = p.retry.MaxDelay
			}
		}
	}

	return result, lastErr
}

// shouldRetry определяет, стоит ли повторять обработчик при данной ошибке.
// Not-found повторяется: платёж/заказ могли ещё не дореплицироваться.
func (p *Processor) shouldRetry(err error) bool {
	if domain.IsValidation(err) {
		return false
	}
	return domain.IsNotFound(err) || domain.IsTransient(err)
}

// apply диспетчеризует событие по типу. Неизвестные типы подтверждаются
// как no-op: каталог событий провайдера шире нашего.
func (p *Processor) apply(event domain.WebhookEvent) error {
	switch event.Type {
	case domain.EventPaymentCaptured, domain.EventOrderPaid:
		return p.applyPaymentCaptured(event)
	case domain.EventPaymentAuthorized:
		return p.applyPaymentAuthorized(event)
	case domain.EventPaymentFailed:
		return p.applyPaymentFailed(event)
	case domain.EventRefundCreated:
		return p.applyRefundCreated(event)
	case domain.EventRefundProcessed:
		return p.applyRefundProcessed(event)
	default:
		p.logger.WithField("event_type", event.Type).Info("unknown webhook event type acknowledged as no-op")
		return nil
	}
}

func (p *Processor) applyPaymentCaptured(event domain.WebhookEvent) error {
	payment, err := p.payments.GetByProviderOrderID(event.ProviderOrderID)
	if err != nil {
		return err
	}
	// Уже оплаченный платёж не пересохраняется, но заказ всё равно
	// домечается ниже: предыдущая попытка могла упасть между сохранением
	// платежа и MarkPaid, и повтор обязан добежать до конца.
	if !payment.Status.Terminal() {
		payment.Status = domain.PaymentStatusPaid
		if payment.ProviderPaymentID == "" {
			payment.ProviderPaymentID = event.EntityID
		}
		if err := p.savePayment(payment); err != nil {
			return err
		}
	}

	paidAt := event.OccurredAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	if err := p.orders.MarkPaid(payment.OrderID, payment.ID, paidAt); err != nil {
		return err
	}
	_ = p.orders.AppendTimelineEvent(domain.TimelineEvent{
		OrderID:  payment.OrderID,
		Type:     "PaymentCaptured",
		Occurred: paidAt,
	})

	p.notifyEvent("payment.captured", map[string]interface{}{
		"order_id":   payment.OrderID,
		"payment_id": payment.ID,
	})
	return nil
}

func (p *Processor) applyPaymentAuthorized(event domain.WebhookEvent) error {
	payment, err := p.payments.GetByProviderOrderID(event.ProviderOrderID)
	if err != nil {
		return err
	}
	// Authorized после captured — обычный реордеринг провайдера: no-op,
	// терминальный статус не регрессирует.
	if payment.Status.Terminal() || payment.Status == domain.PaymentStatusFailed {
		return nil
	}

	payment.Status = domain.PaymentStatusAuthorized
	if payment.ProviderPaymentID == "" {
		payment.ProviderPaymentID = event.EntityID
	}
	return p.savePayment(payment)
}

func (p *Processor) applyPaymentFailed(event domain.WebhookEvent) error {
	payment, err := p.payments.GetByProviderOrderID(event.ProviderOrderID)
	if err != nil {
		return err
	}
	// Failed после успешного capture игнорируется: терминальный статус сильнее.
	if payment.Status.Terminal() {
		return nil
	}
	// Уже failed платёж не пересохраняется, но заказ всё равно домечается:
	// повтор после сбоя на MarkPaymentFailed обязан добежать до конца.
	if payment.Status != domain.PaymentStatusFailed {
		payment.Status = domain.PaymentStatusFailed
		if err := p.savePayment(payment); err != nil {
			return err
		}
	}

	if err := p.orders.MarkPaymentFailed(payment.OrderID, event.Reason); err != nil {
		return err
	}

	p.notifyEvent("payment.failed", map[string]interface{}{
		"order_id": payment.OrderID,
		"reason":   event.Reason,
	})
	return nil
}

func (p *Processor) applyRefundCreated(event domain.WebhookEvent) error {
	payment, err := p.payments.GetByProviderOrderID(event.ProviderOrderID)
	if err != nil {
		return err
	}
	if _, exists := payment.FindRefund(event.EntityID); exists {
		return nil
	}

	refund := domain.Refund{
		ID:               uuid.NewString(),
		ProviderRefundID: event.EntityID,
		AmountMinor:      event.AmountMinor,
		Status:           domain.RefundStatusCreated,
		Reason:           event.Reason,
		CreatedAt:        time.Now().UTC(),
	}
	return p.payments.AppendRefund(payment.ID, refund)
}

func (p *Processor) applyRefundProcessed(event domain.WebhookEvent) error {
	payment, err := p.payments.GetByProviderOrderID(event.ProviderOrderID)
	if err != nil {
		return err
	}

	refund, exists := payment.FindRefund(event.EntityID)
	if !exists {
		// refund_processed пришёл раньше refund_created — создаём запись сразу
		// в конечном статусе.
		refund = domain.Refund{
			ID:               uuid.NewString(),
			ProviderRefundID: event.EntityID,
			AmountMinor:      event.AmountMinor,
			Status:           domain.RefundStatusProcessed,
			Reason:           event.Reason,
			CreatedAt:        time.Now().UTC(),
		}
		if err := p.payments.AppendRefund(payment.ID, refund); err != nil {
			return err
		}
		payment, err = p.payments.Get(payment.ID)
		if err != nil {
			return err
		}
	} else if refund.Status != domain.RefundStatusProcessed {
		if err := p.payments.UpdateRefundStatus(payment.ID, event.EntityID, domain.RefundStatusProcessed); err != nil {
			return err
		}
		payment, err = p.payments.Get(payment.ID)
		if err != nil {
			return err
		}
	}

	// Полный возврат переводит платёж и заказ в refunded.
	if payment.RefundedMinor() >= payment.AmountMinor && payment.Status != domain.PaymentStatusRefunded {
		fresh, err := p.payments.Get(payment.ID)
		if err != nil {
			return err
		}
		fresh.Status = domain.PaymentStatusRefunded
		if err := p.savePayment(fresh); err != nil {
			return err
		}
		if err := p.orders.SetStatus(fresh.OrderID, domain.OrderStatusRefunded); err != nil {
			return err
		}
		p.notifyEvent("payment.refunded", map[string]interface{}{
			"order_id":   fresh.OrderID,
			"payment_id": fresh.ID,
		})
	}
	return nil
}

// savePayment сохраняет платёж, перечитывая свежую версию при конфликте.
func (p *Processor) savePayment(payment domain.Payment) error {
	const maxSaveRetries = 3

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		err := p.payments.Save(payment)
		if err == nil {
			return nil
		}
		if !domain.IsVersionConflict(err) {
			return err
		}

		fresh, loadErr := p.payments.Get(payment.ID)
		if loadErr != nil {
			return loadErr
		}
		// Конкурент мог довести платёж до терминального статуса. Не перетираем.
		if fresh.Status.Terminal() {
			return nil
		}
		fresh.Status = payment.Status
		fresh.ProviderPaymentID = payment.ProviderPaymentID
		payment = fresh
	}
	return domain.ErrVersionConflict
}

func (p *Processor) notifyEvent(event string, payload map[string]interface{}) {
	if p.notify == nil {
		return
	}
	p.notify.Notify(event, payload)
}
