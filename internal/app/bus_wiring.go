package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/bus"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/delivery"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
)

// wireBus связывает жизненный цикл заказа с таблицей резервов и доставкой:
// создание заказа резервирует сток и запускает автоназначение агента,
// отмена и окончательный провал оплаты снимают резерв, подтверждённая
// оплата конвертирует резерв в списание. Платёжные уведомления
// webhook-процессора переводятся в канонические топики заказа, чтобы
// подписчики не знали про платёжный слой.
func wireBus(b *bus.Bus, coordinator *inventory.Coordinator, engine *delivery.Engine, orders domain.OrderRepository, logger *log.Entry) {
	if logger == nil {
		logger = log.WithField("component", "bus-wiring")
	}

	b.Subscribe(bus.TopicOrderCreated, func(ctx context.Context, event bus.Event) error {
		sessionID, _ := event.Payload["session_id"].(string)
		items := parseReservationItems(event.Payload["items"])
		if sessionID == "" || len(items) == 0 {
			logger.WithField("topic", event.Topic).Warn("order.created event without session or items, skipping")
			return nil
		}
		coordinator.ReserveItems(sessionID, items)

		// Cash-on-delivery: агент назначается сразу при создании заказа,
		// не дожидаясь оплаты. Неуспех назначения не откатывает резерв.
		if orderID, ok := event.Payload["order_id"].(string); ok && orderID != "" {
			for _, result := range engine.AutoAssignOrders(ctx, []string{orderID}) {
				if result.Err != nil {
					logger.WithError(result.Err).WithField("order_id", result.OrderID).
						Warn("auto-assignment failed, order left unassigned")
				}
			}
		}
		return nil
	})

	release := func(_ context.Context, event bus.Event) error {
		sessionID, err := sessionFromPayload(orders, event.Payload)
		if err != nil {
			return err
		}
		coordinator.ReleaseReservation(sessionID)
		return nil
	}
	b.Subscribe(bus.TopicOrderCanceled, release)
	b.Subscribe(bus.TopicPaymentFailedFinal, release)

	b.Subscribe(bus.TopicOrderPaid, func(_ context.Context, event bus.Event) error {
		sessionID, err := sessionFromPayload(orders, event.Payload)
		if err != nil {
			return err
		}
		return coordinator.CommitReservation(sessionID)
	})

	// Мост из платёжных уведомлений в топики заказа. Publish из обработчика
	// безопасен: dispatcher кладёт событие в очередь, не рекурсию.
	b.Subscribe("payment.captured", func(_ context.Context, event bus.Event) error {
		return republishForOrder(b, orders, event, bus.TopicOrderPaid)
	})
	b.Subscribe("payment.failed", func(_ context.Context, event bus.Event) error {
		return republishForOrder(b, orders, event, bus.TopicPaymentFailedFinal)
	})
}

// republishForOrder дополняет платёжное событие session_id заказа и публикует
// его в канонический топик.
func republishForOrder(b *bus.Bus, orders domain.OrderRepository, event bus.Event, topic string) error {
	orderID, _ := event.Payload["order_id"].(string)
	if orderID == "" {
		return nil
	}
	order, err := orders.Get(orderID)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"order_id":   orderID,
		"session_id": order.SessionID,
	}
	if reason, ok := event.Payload["reason"].(string); ok && reason != "" {
		payload["reason"] = reason
	}
	b.Publish(topic, payload)
	return nil
}

// sessionFromPayload достаёт session_id из события; при его отсутствии
// разрешает order_id через хранилище заказов.
func sessionFromPayload(orders domain.OrderRepository, payload map[string]interface{}) (string, error) {
	if sessionID, ok := payload["session_id"].(string); ok && sessionID != "" {
		return sessionID, nil
	}
	orderID, _ := payload["order_id"].(string)
	if orderID == "" {
		return "", nil
	}
	order, err := orders.Get(orderID)
	if err != nil {
		return "", err
	}
	return order.SessionID, nil
}

// parseReservationItems разбирает позиции резерва из payload события.
// Поддерживаются и типизированные позиции (внутренний publisher), и
// generic-формат после JSON-декодирования.
func parseReservationItems(raw interface{}) []domain.ReservationItem {
	switch value := raw.(type) {
	case []domain.ReservationItem:
		return value
	case []interface{}:
		items := make([]domain.ReservationItem, 0, len(value))
		for _, entry := range value {
			m, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			productID, _ := m["product_id"].(string)
			qty := parseQty(m["qty"])
			if productID == "" || qty <= 0 {
				continue
			}
			items = append(items, domain.ReservationItem{ProductID: productID, Qty: qty})
		}
		return items
	default:
		return nil
	}
}

func parseQty(raw interface{}) int32 {
	switch value := raw.(type) {
	case int32:
		return value
	case int:
		return int32(value)
	case int64:
		return int32(value)
	case float64:
		return int32(value)
	default:
		return 0
	}
}
