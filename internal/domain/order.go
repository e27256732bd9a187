package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в fulfillment-контуре.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не подтверждена провайдером.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid — оплата подтверждена webhook-событием провайдера.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusPaymentFailed — провайдер сообщил о неуспешной оплате.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	// OrderStatusAssigned — заказ закреплён за агентом доставки.
	OrderStatusAssigned OrderStatus = "assigned"
	// OrderStatusOutForDelivery — агент выехал с заказом.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered — заказ доставлен (терминальный статус).
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusDeliveryFailed — попытка доставки не удалась, ждём решение.
	OrderStatusDeliveryFailed OrderStatus = "delivery_failed"
	// OrderStatusRescheduled — доставка перенесена на новую дату.
	OrderStatusRescheduled OrderStatus = "rescheduled"
	// OrderStatusPermanentlyFailed — исчерпан лимит попыток доставки (терминальный статус).
	OrderStatusPermanentlyFailed OrderStatus = "permanently_failed"
	// OrderStatusCanceled — заказ отменён до завершения цикла.
	OrderStatusCanceled OrderStatus = "canceled"
	// OrderStatusRefunded — средства по заказу возвращены клиенту.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Terminal сообщает, завершён ли жизненный цикл заказа.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusPermanentlyFailed, OrderStatusCanceled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ProductID  string
	Qty        int32
	PriceMinor int64
}

// Order агрегирует состояние заказа, видимое fulfillment-ядру.
// Источник истины по заказам — durable store; in-memory резервы к заказу не привязаны.
type Order struct {
	ID             string
	CustomerID     string
	SessionID      string
	Status         OrderStatus
	Pincode        string
	Currency       string
	AmountMinor    int64
	Items          []OrderItem
	AgentID        string // пустая строка — активного назначения нет
	FailedAttempts int32
	PaymentID      string
	PaidAt         time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrProductIDRequired)
	}
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrQuantityInvalid)
		}
	}

	return errs
}

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
