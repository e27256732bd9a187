package webhook

import (
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

type stubSink struct {
	mu     sync.Mutex
	events []string
}

func (s *stubSink) Notify(event string, payload map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// flakyPayments симулирует replication lag: первые failures обращений
// по provider order id завершаются ErrPaymentNotFound.
type flakyPayments struct {
	domain.PaymentRepository
	mu       sync.Mutex
	failures int
}

func (f *flakyPayments) GetByProviderOrderID(providerOrderID string) (domain.Payment, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	f.mu.Unlock()
	return f.PaymentRepository.GetByProviderOrderID(providerOrderID)
}

// flakyOrders симулирует replication lag на стороне заказов: первые failures
// вызовов MarkPaid/MarkPaymentFailed завершаются ErrOrderNotFound.
type flakyOrders struct {
	domain.OrderRepository
	mu       sync.Mutex
	failures int
}

func (f *flakyOrders) take() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return true
	}
	return false
}

func (f *flakyOrders) MarkPaid(orderID, paymentID string, paidAt time.Time) error {
	if f.take() {
		return domain.ErrOrderNotFound
	}
	return f.OrderRepository.MarkPaid(orderID, paymentID, paidAt)
}

func (f *flakyOrders) MarkPaymentFailed(orderID, reason string) error {
	if f.take() {
		return domain.ErrOrderNotFound
	}
	return f.OrderRepository.MarkPaymentFailed(orderID, reason)
}

type processorEnv struct {
	processor *Processor
	events    domain.WebhookEventRepository
	payments  domain.PaymentRepository
	orders    domain.OrderRepository
	sink      *stubSink
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      4 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func newProcessorEnv(t *testing.T, payments domain.PaymentRepository) *processorEnv {
	t.Helper()

	env := &processorEnv{
		events:   memory.NewWebhookEventRepository(),
		payments: payments,
		orders:   memory.NewOrderRepository(),
		sink:     &stubSink{},
	}
	if env.payments == nil {
		env.payments = memory.NewPaymentRepository()
	}

	logger := log.New().WithField("component", "webhook-test")
	env.processor = NewProcessorWithoutMetrics(
		env.events, env.payments, env.orders, env.sink,
		NewSigner("test-secret"), fastRetry(), logger,
	)
	env.processor.sleep = func(time.Duration) {}
	return env
}

// withFlakyOrders подменяет репозиторий заказов и пересобирает процессор.
func withFlakyOrders(t *testing.T, env *processorEnv, failures int) {
	t.Helper()

	env.orders = &flakyOrders{OrderRepository: env.orders, failures: failures}
	logger := log.New().WithField("component", "webhook-test")
	env.processor = NewProcessorWithoutMetrics(
		env.events, env.payments, env.orders, env.sink,
		NewSigner("test-secret"), fastRetry(), logger,
	)
	env.processor.sleep = func(time.Duration) {}
}

func seedPaymentAndOrder(t *testing.T, env *processorEnv) {
	t.Helper()

	now := time.Now().UTC()
	require.NoError(t, env.orders.Create(domain.Order{
		ID:          "order-1",
		CustomerID:  "customer-1",
		Status:      domain.OrderStatusPending,
		Currency:    "INR",
		AmountMinor: 50000,
		Items:       []domain.OrderItem{{ProductID: "p1", Qty: 1, PriceMinor: 50000}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
	require.NoError(t, env.payments.Create(domain.Payment{
		ID:              "payment-1",
		OrderID:         "order-1",
		Provider:        "razorpay",
		ProviderOrderID: "order_prov_1",
		Status:          domain.PaymentStatusPending,
		AmountMinor:     50000,
		Currency:        "INR",
		CreatedAt:       now,
		UpdatedAt:       now,
	}))
}

func capturedEvent() domain.WebhookEvent {
	return domain.WebhookEvent{
		Type:            domain.EventPaymentCaptured,
		EntityID:        "pay_prov_1",
		ProviderOrderID: "order_prov_1",
		AmountMinor:     50000,
		Currency:        "INR",
		OccurredAt:      time.Now().UTC(),
	}
}

func TestProcessEventCaptured(t *testing.T) {
	env := newProcessorEnv(t, nil)
	seedPaymentAndOrder(t, env)

	result, err := env.processor.ProcessEvent(capturedEvent())
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.False(t, result.Duplicate)

	payment, err := env.payments.Get("payment-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, payment.Status)
	assert.Equal(t, "pay_prov_1", payment.ProviderPaymentID)

	order, err := env.orders.Get("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.Equal(t, "payment-1", order.PaymentID)
	assert.Contains(t, env.sink.events, "payment.captured")
}

func TestProcessEventDuplicateDiscarded(t *testing.T) {
	env := newProcessorEnv(t, nil)
	seedPaymentAndOrder(t, env)

	first, err := env.processor.ProcessEvent(capturedEvent())
	require.NoError(t, err)
	require.True(t, first.Applied)

	orderAfterFirst, err := env.orders.Get("order-1")
	require.NoError(t, err)

	// Сетевой повтор того же события: второй результат — duplicate, статус
	// заказа меняется ровно один раз.
	second, err := env.processor.ProcessEvent(capturedEvent())
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Applied)

	orderAfterSecond, err := env.orders.Get("order-1")
	require.NoError(t, err)
	assert.Equal(t, orderAfterFirst.Version, orderAfterSecond.Version)
	assert.Equal(t, domain.OrderStatusPaid, orderAfterSecond.Status)
}

func TestProcessEventAuthorizedAfterCapturedNoRegression(t *testing.T) {
	env := newProcessorEnv(t, nil)
	seedPaymentAndOrder(t, env)

	_, err := env.processor.ProcessEvent(capturedEvent())
	require.NoError(t, err)

	authorized := domain.WebhookEvent{
		Type:            domain.EventPaymentAuthorized,
		EntityID:        "pay_prov_1",
		ProviderOrderID: "order_prov_1",
	}
	result, err := env.processor.ProcessEvent(authorized)
	require.NoError(t, err)
	assert.True(t, result.Applied)

	payment, err := env.payments.Get("payment-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, payment.Status, "captured must not regress to authorized")

	order, err := env.orders.Get("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
}

func TestProcessEventFailedAfterCapturedIgnored(t *testing.T) {
	env := newProcessorEnv(t, nil)
	seedPaymentAndOrder(t, env)

	_, err := env.processor.ProcessEvent(capturedEvent())
	require.NoError(t, err)

	failed := domain.WebhookEvent{
		Type:            domain.EventPaymentFailed,
		EntityID:        "pay_prov_2",
		ProviderOrderID: "order_prov_1",
		Reason:          "insufficient funds",
	}
	_, err = env.processor.ProcessEvent(failed)
	require.NoError(t, err)

	payment, err := env.payments.Get("payment-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, payment.Status)
}

func TestProcessEventPaymentFailed(t *testing.T) {
	env := newProcessorEnv(t, nil)
	seedPaymentAndOrder(t, env)

	failed := domain.WebhookEvent{
		Type:            domain.EventPaymentFailed,
		EntityID:        "pay_prov_1",
		ProviderOrderID: "order_prov_1",
		Reason:          "card declined",
	}
	result, err := env.processor.ProcessEvent(failed)
	require.NoError(t, err)
	assert.True(t, result.Applied)

	order, err := env.orders.Get("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaymentFailed, order.Status)
	assert.Contains(t, env.sink.events, "payment.failed")
}

func TestProcessEventRetriesOnReplicationLag(t *testing.T) {
	base := memory.NewPaymentRepository()
	flaky := &flakyPayments{PaymentRepository: base, failures: 2}
	env := newProcessorEnv(t, flaky)
	seedPaymentAndOrder(t, env)

	result, err := env.processor.ProcessEvent(capturedEvent())
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, 3, result.Attempts, "two not-found failures then success")
}

func TestProcessEventCapturedCompletesOrderOnRetry(t *testing.T) {
	env := newProcessorEnv(t, nil)
	withFlakyOrders(t, env, 1)
	seedPaymentAndOrder(t, env)

	result, err := env.processor.ProcessEvent(capturedEvent())
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, 2, result.Attempts)

	// Первая попытка упала уже после сохранения платежа. Повтор видит
	// терминальный платёж, но обязан дометить заказ до paid, иначе
	// расхождение останется навсегда: событие помечено применённым.
	payment, err := env.payments.Get("payment-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, payment.Status)

	order, err := env.orders.Get("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.Equal(t, "payment-1", order.PaymentID)
	assert.Contains(t, env.sink.events, "payment.captured")
}

func TestProcessEventFailedCompletesOrderOnRetry(t *testing.T) {
	env := newProcessorEnv(t, nil)
	withFlakyOrders(t, env, 1)
	seedPaymentAndOrder(t, env)

	failed := domain.WebhookEvent{
		Type:            domain.EventPaymentFailed,
		EntityID:        "pay_prov_1",
		ProviderOrderID: "order_prov_1",
		Reason:          "card declined",
	}
	result, err := env.processor.ProcessEvent(failed)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, 2, result.Attempts)

	order, err := env.orders.Get("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaymentFailed, order.Status)
	assert.Contains(t, env.sink.events, "payment.failed")
}

func TestProcessEventAbandonedAfterRetries(t *testing.T) {
	base := memory.NewPaymentRepository()
	flaky := &flakyPayments{PaymentRepository: base, failures: 10}
	env := newProcessorEnv(t, flaky)
	seedPaymentAndOrder(t, env)

	result, err := env.processor.ProcessEvent(capturedEvent())
	require.ErrorIs(t, err, domain.ErrEventAbandoned)
	assert.True(t, result.Abandoned)
	assert.Equal(t, 3, result.Attempts)

	// Событие не должно пропасть: оно доступно для ручной сверки.
	abandoned, err := env.events.ListAbandoned(0)
	require.NoError(t, err)
	require.Len(t, abandoned, 1)
	assert.Equal(t, capturedEvent().DedupKey(), abandoned[0].Key)

	// Повторная доставка после восстановления применяет событие.
	flaky.mu.Lock()
	flaky.failures = 0
	flaky.mu.Unlock()

	retried, err := env.processor.ProcessEvent(capturedEvent())
	require.NoError(t, err)
	assert.True(t, retried.Applied)
}

func TestProcessEventUnknownTypeAcknowledged(t *testing.T) {
	env := newProcessorEnv(t, nil)

	unknown := domain.WebhookEvent{
		Type:     domain.WebhookEventType("payment.disputed"),
		EntityID: "dsp_1",
	}
	result, err := env.processor.ProcessEvent(unknown)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, 1, result.Attempts)
}

func TestProcessEventValidation(t *testing.T) {
	env := newProcessorEnv(t, nil)

	_, err := env.processor.ProcessEvent(domain.WebhookEvent{EntityID: "x"})
	require.ErrorIs(t, err, domain.ErrEventTypeRequired)

	_, err = env.processor.ProcessEvent(domain.WebhookEvent{Type: domain.EventOrderPaid})
	require.ErrorIs(t, err, domain.ErrEntityIDRequired)
}

func TestRefundLifecycle(t *testing.T) {
	env := newProcessorEnv(t, nil)
	seedPaymentAndOrder(t, env)

	_, err := env.processor.ProcessEvent(capturedEvent())
	require.NoError(t, err)

	created := domain.WebhookEvent{
		Type:            domain.EventRefundCreated,
		EntityID:        "rfnd_1",
		ProviderOrderID: "order_prov_1",
		AmountMinor:     50000,
		Reason:          "customer request",
	}
	_, err = env.processor.ProcessEvent(created)
	require.NoError(t, err)

	payment, err := env.payments.Get("payment-1")
	require.NoError(t, err)
	require.Len(t, payment.Refunds, 1)
	assert.Equal(t, domain.RefundStatusCreated, payment.Refunds[0].Status)

	processed := domain.WebhookEvent{
		Type:            domain.EventRefundProcessed,
		EntityID:        "rfnd_1",
		ProviderOrderID: "order_prov_1",
		AmountMinor:     50000,
	}
	_, err = env.processor.ProcessEvent(processed)
	require.NoError(t, err)

	payment, err = env.payments.Get("payment-1")
	require.NoError(t, err)
	require.Len(t, payment.Refunds, 1)
	assert.Equal(t, domain.RefundStatusProcessed, payment.Refunds[0].Status)
	assert.Equal(t, domain.PaymentStatusRefunded, payment.Status)

	order, err := env.orders.Get("order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, order.Status)
}

func TestRefundProcessedBeforeCreated(t *testing.T) {
	env := newProcessorEnv(t, nil)
	seedPaymentAndOrder(t, env)

	_, err := env.processor.ProcessEvent(capturedEvent())
	require.NoError(t, err)

	// refund_processed пришёл раньше refund_created: запись создаётся сразу
	// в конечном статусе, а последующий refund_created — no-op.
	processed := domain.WebhookEvent{
		Type:            domain.EventRefundProcessed,
		EntityID:        "rfnd_1",
		ProviderOrderID: "order_prov_1",
		AmountMinor:     50000,
	}
	_, err = env.processor.ProcessEvent(processed)
	require.NoError(t, err)

	created := domain.WebhookEvent{
		Type:            domain.EventRefundCreated,
		EntityID:        "rfnd_1",
		ProviderOrderID: "order_prov_1",
		AmountMinor:     50000,
	}
	_, err = env.processor.ProcessEvent(created)
	require.NoError(t, err)

	payment, err := env.payments.Get("payment-1")
	require.NoError(t, err)
	require.Len(t, payment.Refunds, 1)
	assert.Equal(t, domain.RefundStatusProcessed, payment.Refunds[0].Status)
}

func TestVerifySignatureInsecureMode(t *testing.T) {
	env := newProcessorEnv(t, nil)

	// Без секрета проверка явно пропускается.
	env.processor.signer = NewSigner("")
	assert.True(t, env.processor.VerifySignature("anything", []byte(`{}`)))

	// С секретом — работает строго.
	signer := NewSigner("test-secret")
	env.processor.signer = signer
	body := []byte(`{"ok":true}`)
	assert.True(t, env.processor.VerifySignature(signer.Sign(body), body))
	assert.False(t, env.processor.VerifySignature("deadbeef", body))
}
