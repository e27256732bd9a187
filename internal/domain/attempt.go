package domain

import "time"

// AttemptOutcome — исход одной попытки доставки.
type AttemptOutcome string

const (
	// AttemptOutcomeSuccessful — заказ доставлен.
	AttemptOutcomeSuccessful AttemptOutcome = "successful"
	// AttemptOutcomeFailed — попытка не удалась.
	AttemptOutcomeFailed AttemptOutcome = "failed"
	// AttemptOutcomeRescheduled — доставка перенесена на новую дату.
	AttemptOutcomeRescheduled AttemptOutcome = "rescheduled"
)

// Valid проверяет, что исход относится к поддерживаемым значениям.
func (o AttemptOutcome) Valid() bool {
	switch o {
	case AttemptOutcomeSuccessful, AttemptOutcomeFailed, AttemptOutcomeRescheduled:
		return true
	default:
		return false
	}
}

// DeliveryAttempt — неизменяемая запись попытки доставки заказа.
// Номера попыток строго возрастают в рамках заказа; записи append-only.
type DeliveryAttempt struct {
	ID            string
	OrderID       string
	AgentID       string
	Number        int32
	Outcome       AttemptOutcome
	Reason        string
	NextAttemptAt *time.Time // заполняется только при переносе
	RecordedAt    time.Time
}

// Validate проверяет ключевые поля попытки.
func (a *DeliveryAttempt) Validate() []error {
	var errs []error

	if a.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if !a.Outcome.Valid() {
		errs = append(errs, ErrAttemptOutcomeInvalid)
	}

	return errs
}
