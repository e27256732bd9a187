package integration

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/delivery"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/webhook"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

// FulfillmentLifecycleTestSuite тестирует полный жизненный цикл заказа:
// резерв стока, платёжный webhook, конвертацию резерва в списание,
// назначение агента и попытки доставки.
type FulfillmentLifecycleTestSuite struct {
	suite.Suite
	coordinator *inventory.Coordinator
	processor   *webhook.Processor
	engine      *delivery.Engine

	orders   domain.OrderRepository
	payments domain.PaymentRepository
	agents   domain.AgentRepository
	attempts domain.AttemptRepository
	stock    *memory.StockRepository
}

func (suite *FulfillmentLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	suite.orders = memory.NewOrderRepository()
	suite.payments = memory.NewPaymentRepository()
	suite.agents = memory.NewAgentRepository()
	suite.attempts = memory.NewAttemptRepository()
	suite.stock = memory.NewStockRepository()

	suite.coordinator = inventory.NewCoordinatorWithoutMetrics(
		inventory.NewStore(), suite.stock, inventory.DefaultConfig(), logger)

	suite.processor = webhook.NewProcessorWithoutMetrics(
		memory.NewWebhookEventRepository(),
		suite.payments,
		suite.orders,
		nil,
		webhook.NewSigner("integration-secret"),
		webhook.DefaultRetryConfig(),
		logger,
	)

	suite.engine = delivery.NewEngineWithoutMetrics(
		suite.agents, suite.orders, suite.attempts, nil,
		delivery.DefaultConfig(), logger)
}

func (suite *FulfillmentLifecycleTestSuite) seedWorld() {
	suite.stock.SetStock("laptop-pro", 5)
	suite.stock.SetStock("mouse-wireless", 20)

	require.NoError(suite.T(), suite.orders.Create(domain.Order{
		ID:          "order-1",
		SessionID:   "session-1",
		Status:      domain.OrderStatusPending,
		Pincode:     "560001",
		Currency:    "INR",
		AmountMinor: 209898,
		Items: []domain.OrderItem{
			{ProductID: "laptop-pro", Qty: 1},
			{ProductID: "mouse-wireless", Qty: 2},
		},
	}))

	require.NoError(suite.T(), suite.payments.Create(domain.Payment{
		ID:              "payment-1",
		OrderID:         "order-1",
		Provider:        "razorpay",
		ProviderOrderID: "prov-order-1",
		Status:          domain.PaymentStatusPending,
		AmountMinor:     209898,
		Currency:        "INR",
	}))

	require.NoError(suite.T(), suite.agents.Create(domain.Agent{
		ID:          "agent-1",
		Name:        "first agent",
		Pincodes:    []string{"560001"},
		Rating:      4.8,
		MaxOrders:   5,
		IsAvailable: true,
	}))
}

func (suite *FulfillmentLifecycleTestSuite) TestSuccessfulLifecycle() {
	ctx := context.Background()
	suite.seedWorld()

	// 1. Checkout резервирует позиции заказа.
	reserve := suite.coordinator.ReserveItems("session-1", []domain.ReservationItem{
		{ProductID: "laptop-pro", Qty: 1},
		{ProductID: "mouse-wireless", Qty: 2},
	})
	require.True(suite.T(), reserve.Success)
	require.Equal(suite.T(), int32(4), suite.coordinator.VerifyAvailability("laptop-pro", 1).AvailableStock)

	// 2. Провайдер подтверждает оплату webhook-событием.
	result, err := suite.processor.ProcessEvent(domain.WebhookEvent{
		Type:            domain.EventPaymentCaptured,
		EntityID:        "prov-pay-1",
		ProviderOrderID: "prov-order-1",
		AmountMinor:     209898,
		Currency:        "INR",
		OccurredAt:      time.Now().UTC(),
	})
	require.NoError(suite.T(), err)
	require.False(suite.T(), result.Duplicate)

	order, err := suite.orders.Get("order-1")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPaid, order.Status)
	require.Equal(suite.T(), "payment-1", order.PaymentID)

	// 3. Оплаченный резерв конвертируется в постоянное списание.
	require.NoError(suite.T(), suite.coordinator.CommitReservation("session-1"))
	onHand, err := suite.stock.GetStock("laptop-pro")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), int32(4), onHand)

	// 4. Заказ назначается лучшему агенту зоны.
	results := suite.engine.AutoAssignOrders(ctx, []string{"order-1"})
	require.Len(suite.T(), results, 1)
	require.NoError(suite.T(), results[0].Err)
	require.Equal(suite.T(), "agent-1", results[0].AgentID)

	// 5. Агент берёт заказ в рейс.
	require.NoError(suite.T(), suite.engine.StartDelivery(ctx, "order-1"))
	order, err = suite.orders.Get("order-1")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusOutForDelivery, order.Status)

	// 6. Успешная попытка закрывает доставку и освобождает слот агента.
	require.NoError(suite.T(), suite.engine.RecordDeliveryAttempt(
		ctx, "order-1", domain.AttemptOutcomeSuccessful, "", nil))

	order, err = suite.orders.Get("order-1")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusDelivered, order.Status)

	agent, err := suite.agents.Get("agent-1")
	require.NoError(suite.T(), err)
	require.Empty(suite.T(), agent.CurrentOrders)
	require.Equal(suite.T(), 1, agent.CompletedOrders)
}

func (suite *FulfillmentLifecycleTestSuite) TestDuplicateWebhookIsHarmless() {
	suite.seedWorld()

	event := domain.WebhookEvent{
		Type:            domain.EventPaymentCaptured,
		EntityID:        "prov-pay-1",
		ProviderOrderID: "prov-order-1",
		OccurredAt:      time.Now().UTC(),
	}

	first, err := suite.processor.ProcessEvent(event)
	require.NoError(suite.T(), err)
	require.False(suite.T(), first.Duplicate)

	payment, err := suite.payments.Get("payment-1")
	require.NoError(suite.T(), err)
	versionAfterFirst := payment.Version

	// Повторная доставка того же события провайдером.
	second, err := suite.processor.ProcessEvent(event)
	require.NoError(suite.T(), err)
	require.True(suite.T(), second.Duplicate)

	payment, err = suite.payments.Get("payment-1")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), versionAfterFirst, payment.Version)
}

func (suite *FulfillmentLifecycleTestSuite) TestPaymentFailureReleasesReservation() {
	suite.seedWorld()

	reserve := suite.coordinator.ReserveItems("session-1", []domain.ReservationItem{
		{ProductID: "laptop-pro", Qty: 1},
	})
	require.True(suite.T(), reserve.Success)

	_, err := suite.processor.ProcessEvent(domain.WebhookEvent{
		Type:            domain.EventPaymentFailed,
		EntityID:        "prov-pay-1",
		ProviderOrderID: "prov-order-1",
		Reason:          "insufficient_funds",
		OccurredAt:      time.Now().UTC(),
	})
	require.NoError(suite.T(), err)

	order, err := suite.orders.Get("order-1")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPaymentFailed, order.Status)

	suite.coordinator.ReleaseReservation("session-1")
	require.Equal(suite.T(), int32(5), suite.coordinator.VerifyAvailability("laptop-pro", 1).AvailableStock)

	onHand, err := suite.stock.GetStock("laptop-pro")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), int32(5), onHand)
}

func (suite *FulfillmentLifecycleTestSuite) TestThreeFailedAttemptsPermanentlyFail() {
	ctx := context.Background()
	suite.seedWorld()

	results := suite.engine.AutoAssignOrders(ctx, []string{"order-1"})
	require.Len(suite.T(), results, 1)
	require.NoError(suite.T(), results[0].Err)

	for i := 0; i < 3; i++ {
		require.NoError(suite.T(), suite.engine.RecordDeliveryAttempt(
			ctx, "order-1", domain.AttemptOutcomeFailed, "door locked", nil))
	}

	order, err := suite.orders.Get("order-1")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPermanentlyFailed, order.Status)

	agent, err := suite.agents.Get("agent-1")
	require.NoError(suite.T(), err)
	require.Empty(suite.T(), agent.CurrentOrders)
	require.Equal(suite.T(), 1, agent.FailedOrders)

	// Четвёртая попытка после терминального статуса отклоняется.
	err = suite.engine.RecordDeliveryAttempt(ctx, "order-1", domain.AttemptOutcomeFailed, "again", nil)
	require.ErrorIs(suite.T(), err, domain.ErrAttemptAfterTerminal)
}

func TestFulfillmentLifecycleSuite(t *testing.T) {
	suite.Run(t, new(FulfillmentLifecycleTestSuite))
}
