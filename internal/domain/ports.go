package domain

import "time"

// StockRepository описывает доступ к складским остаткам каталога.
type StockRepository interface {
	// GetStock возвращает on-hand остаток товара или ErrProductNotFound.
	GetStock(productID string) (int32, error)
	// DecrementStock списывает количество при конвертации резерва в продажу.
	DecrementStock(productID string, qty int32) error
}

// OrderRepository описывает требования fulfillment-ядра к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
	// SetStatus меняет статус заказа, не трогая остальные поля.
	SetStatus(orderID string, status OrderStatus) error
	// AppendTimelineEvent добавляет событие в timeline заказа.
	AppendTimelineEvent(event TimelineEvent) error
	// MarkPaid помечает заказ оплаченным и связывает его с платежом.
	MarkPaid(orderID, paymentID string, paidAt time.Time) error
	// MarkPaymentFailed возвращает заказ в состояние до оплаты.
	MarkPaymentFailed(orderID, reason string) error
}

// PaymentRepository хранит платежи, ключ поиска — provider order id.
type PaymentRepository interface {
	Create(payment Payment) error
	Get(id string) (Payment, error)
	// GetByProviderOrderID возвращает платёж или ErrPaymentNotFound.
	GetByProviderOrderID(providerOrderID string) (Payment, error)
	// Save применяет обновления с учётом optimistic locking.
	Save(payment Payment) error
	// AppendRefund добавляет возврат в append-only список платежа.
	AppendRefund(paymentID string, refund Refund) error
	// UpdateRefundStatus меняет статус одного возврата.
	UpdateRefundStatus(paymentID, providerRefundID string, status RefundStatus) error
}

// WebhookEventRepository хранит записи об обработке webhook-событий.
type WebhookEventRepository interface {
	// CreateProcessing создаёт запись в статусе processing.
	// Для уже существующего ключа возвращает текущую запись и признак дубликата.
	CreateProcessing(key string, eventType WebhookEventType, payload []byte) (WebhookEventRecord, bool, error)
	Get(key string) (WebhookEventRecord, error)
	// MarkApplied фиксирует успешную обработку события.
	MarkApplied(key string, attempts int) error
	// MarkAbandoned фиксирует исчерпание retry-бюджета.
	MarkAbandoned(key string, attempts int, lastError string) error
	// ListAbandoned возвращает события, ожидающие ручной сверки.
	ListAbandoned(limit int) ([]WebhookEventRecord, error)
	// Delete удаляет запись: событие возвращается в очередь переобработки.
	Delete(key string) error
}

// AgentRepository хранит агентов доставки и их текущую загрузку.
type AgentRepository interface {
	Create(agent Agent) error
	Get(id string) (Agent, error)
	// ListByPincode возвращает агентов, обслуживающих зону, в стабильном порядке по id.
	ListByPincode(pincode string) ([]Agent, error)
	// Save применяет обновления с учётом optimistic locking.
	Save(agent Agent) error
	// AddOrder атомарно добавляет заказ агенту, проверяя ёмкость.
	// Возвращает ErrAgentCapacityExceeded, если свободных слотов нет.
	AddOrder(agentID, orderID string) error
	// RemoveOrder атомарно убирает заказ и пересчитывает доступность агента.
	RemoveOrder(agentID, orderID string) error
}

// AttemptRepository хранит попытки доставки; записи неизменяемы.
type AttemptRepository interface {
	// Append добавляет попытку. Номер должен быть ровно на 1 больше последнего.
	Append(attempt DeliveryAttempt) error
	// List возвращает попытки заказа в порядке возрастания номера.
	List(orderID string) ([]DeliveryAttempt, error)
	// CountFailed возвращает число неуспешных попыток заказа.
	CountFailed(orderID string) (int, error)
}

// NotificationSink принимает fire-and-forget уведомления для внешних слоёв
// (WebSocket, аналитика). Реализация не должна блокировать вызывающего.
type NotificationSink interface {
	Notify(event string, payload map[string]interface{})
}
