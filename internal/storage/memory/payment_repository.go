package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// paymentRepositoryInMemory — in-memory реализация PaymentRepository.
type paymentRepositoryInMemory struct {
	mu         sync.RWMutex
	items      map[string]domain.Payment
	byProvider map[string]string // provider order id → payment id
}

// NewPaymentRepository возвращает in-memory репозиторий платежей для локальной разработки и тестов.
func NewPaymentRepository() domain.PaymentRepository {
	return &paymentRepositoryInMemory{
		items:      make(map[string]domain.Payment),
		byProvider: make(map[string]string),
	}
}

// Create сохраняет новый платёж, если ID ещё не занят.
func (r *paymentRepositoryInMemory) Create(payment domain.Payment) error {
	if errs := payment.Validate(); len(errs) > 0 {
		return errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[payment.ID]; exists {
		return domain.ErrVersionConflict
	}
	r.items[payment.ID] = clonePayment(payment)
	r.byProvider[payment.ProviderOrderID] = payment.ID
	return nil
}

// Get возвращает платёж или ErrPaymentNotFound.
func (r *paymentRepositoryInMemory) Get(id string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.items[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return clonePayment(payment), nil
}

// GetByProviderOrderID ищет платёж по идентификатору заказа у провайдера.
func (r *paymentRepositoryInMemory) GetByProviderOrderID(providerOrderID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byProvider[providerOrderID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return clonePayment(r.items[id]), nil
}

// Save перезаписывает платёж, проверяя версию (optimistic locking).
func (r *paymentRepositoryInMemory) Save(payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[payment.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if current.Version != payment.Version {
		return domain.ErrVersionConflict
	}
	payment.Version++
	payment.UpdatedAt = time.Now().UTC()
	r.items[payment.ID] = clonePayment(payment)
	return nil
}

// AppendRefund добавляет возврат в append-only список платежа.
// Повторная запись того же provider refund id — no-op.
func (r *paymentRepositoryInMemory) AppendRefund(paymentID string, refund domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	payment, ok := r.items[paymentID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if _, exists := payment.FindRefund(refund.ProviderRefundID); exists {
		return nil
	}

	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	payment.Refunds = append(payment.Refunds, refund)
	payment.Version++
	payment.UpdatedAt = time.Now().UTC()
	r.items[paymentID] = payment
	return nil
}

// UpdateRefundStatus меняет статус возврата по provider refund id.
func (r *paymentRepositoryInMemory) UpdateRefundStatus(paymentID, providerRefundID string, status domain.RefundStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	payment, ok := r.items[paymentID]
	if !ok {
		return domain.ErrPaymentNotFound
	}

	for i := range payment.Refunds {
		if payment.Refunds[i].ProviderRefundID == providerRefundID {
			payment.Refunds[i].Status = status
			payment.Version++
			payment.UpdatedAt = time.Now().UTC()
			r.items[paymentID] = payment
			return nil
		}
	}
	return domain.ErrPaymentNotFound
}

func clonePayment(src domain.Payment) domain.Payment {
	dst := src
	dst.Refunds = append([]domain.Refund(nil), src.Refunds...)
	return dst
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
