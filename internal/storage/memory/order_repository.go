package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu       sync.RWMutex
	items    map[string]domain.Order
	timeline map[string][]domain.TimelineEvent
}

// NewOrderRepository возвращает in-memory репозиторий заказов для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:    make(map[string]domain.Order),
		timeline: make(map[string][]domain.TimelineEvent),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrVersionConflict
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrVersionConflict
	}
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// SetStatus меняет только статус заказа.
func (r *orderRepositoryInMemory) SetStatus(orderID string, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = status
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	r.items[orderID] = order
	return nil
}

// AppendTimelineEvent добавляет событие в timeline заказа.
func (r *orderRepositoryInMemory) AppendTimelineEvent(event domain.TimelineEvent) error {
	if event.OrderID == "" {
		return domain.ErrOrderIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	r.timeline[event.OrderID] = append(r.timeline[event.OrderID], event)
	return nil
}

// MarkPaid помечает заказ оплаченным. Повторный вызов для уже оплаченного
// заказа — no-op: это опора идемпотентности webhook-обработчиков.
func (r *orderRepositoryInMemory) MarkPaid(orderID, paymentID string, paidAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Status == domain.OrderStatusPaid {
		return nil
	}

	order.Status = domain.OrderStatusPaid
	order.PaymentID = paymentID
	order.PaidAt = paidAt
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	r.items[orderID] = order
	return nil
}

// MarkPaymentFailed возвращает заказ в состояние до оплаты.
// Терминальные статусы не откатываются.
func (r *orderRepositoryInMemory) MarkPaymentFailed(orderID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Status.Terminal() || order.Status == domain.OrderStatusPaid {
		return nil
	}

	order.Status = domain.OrderStatusPaymentFailed
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	r.items[orderID] = order

	r.timeline[orderID] = append(r.timeline[orderID], domain.TimelineEvent{
		OrderID:  orderID,
		Type:     "PaymentFailed",
		Reason:   reason,
		Occurred: time.Now().UTC(),
	})
	return nil
}

// Timeline возвращает события заказа (вспомогательный метод для тестов).
func (r *orderRepositoryInMemory) Timeline(orderID string) []domain.TimelineEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.timeline[orderID]
	out := make([]domain.TimelineEvent, len(events))
	copy(out, events)
	return out
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
