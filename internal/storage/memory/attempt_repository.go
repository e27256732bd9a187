package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// attemptRepositoryInMemory — in-memory журнал попыток доставки.
type attemptRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string][]domain.DeliveryAttempt
}

// NewAttemptRepository создаёт in-memory журнал попыток доставки.
func NewAttemptRepository() domain.AttemptRepository {
	return &attemptRepositoryInMemory{
		items: make(map[string][]domain.DeliveryAttempt),
	}
}

// Append добавляет попытку. Номер обязан быть ровно на 1 больше последнего:
// это даёт строго возрастающую нумерацию даже при конкурентных вызовах.
func (r *attemptRepositoryInMemory) Append(attempt domain.DeliveryAttempt) error {
	if errs := attempt.Validate(); len(errs) > 0 {
		return errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.items[attempt.OrderID]
	expected := int32(len(existing) + 1)
	if attempt.Number != expected {
		return fmt.Errorf("attempt number %d, expected %d: %w",
			attempt.Number, expected, domain.ErrAttemptOutOfOrder)
	}

	if attempt.RecordedAt.IsZero() {
		attempt.RecordedAt = time.Now().UTC()
	}
	r.items[attempt.OrderID] = append(existing, attempt)
	return nil
}

// List возвращает попытки заказа в порядке возрастания номера.
func (r *attemptRepositoryInMemory) List(orderID string) ([]domain.DeliveryAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	attempts := r.items[orderID]
	out := make([]domain.DeliveryAttempt, len(attempts))
	copy(out, attempts)
	return out, nil
}

// CountFailed возвращает число неуспешных попыток заказа.
// Перенесённые попытки (rescheduled) неуспешными не считаются.
func (r *attemptRepositoryInMemory) CountFailed(orderID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, attempt := range r.items[orderID] {
		if attempt.Outcome == domain.AttemptOutcomeFailed {
			count++
		}
	}
	return count, nil
}

var _ domain.AttemptRepository = (*attemptRepositoryInMemory)(nil)
