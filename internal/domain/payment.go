package domain

import "time"

// PaymentStatus описывает состояние платежа в системе.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж инициирован, провайдер ещё не ответил.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusAttempted — клиент начал оплату, ждём подтверждающий webhook.
	PaymentStatusAttempted PaymentStatus = "attempted"
	// PaymentStatusAuthorized — сумма зарезервирована у провайдера, но не списана.
	PaymentStatusAuthorized PaymentStatus = "authorized"
	// PaymentStatusPaid — деньги списаны, заказ оплачен.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed — провайдер отклонил платёж или произошла ошибка.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded — средства возвращены клиенту полностью.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Terminal сообщает, является ли статус платежа конечным.
// Терминальные статусы не откатываются назад вне зависимости от порядка прихода событий.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusRefunded
}

// RefundStatus описывает состояние возврата средств.
type RefundStatus string

const (
	// RefundStatusCreated — возврат создан у провайдера.
	RefundStatusCreated RefundStatus = "created"
	// RefundStatusProcessed — возврат исполнен, деньги ушли клиенту.
	RefundStatusProcessed RefundStatus = "processed"
)

// Refund — одна запись возврата внутри платежа. Список возвратов append-only.
type Refund struct {
	ID               string
	ProviderRefundID string
	AmountMinor      int64
	Status           RefundStatus
	Reason           string
	CreatedAt        time.Time
}

// Payment описывает платёж, связанный ровно с одним заказом.
// Мутируется только webhook-процессором и явной инициацией возврата.
type Payment struct {
	ID                string
	OrderID           string
	Provider          string
	ProviderOrderID   string
	ProviderPaymentID string // может быть пустым до первого события провайдера
	Status            PaymentStatus
	AmountMinor       int64
	Currency          string
	Refunds           []Refund
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Validate проверяет корректность ключевых полей платежа.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.ProviderOrderID == "" {
		errs = append(errs, ErrEntityIDRequired)
	}

	return errs
}

// FindRefund ищет возврат по provider refund id; второй результат — признак наличия.
func (p *Payment) FindRefund(providerRefundID string) (Refund, bool) {
	for _, r := range p.Refunds {
		if r.ProviderRefundID == providerRefundID {
			return r, true
		}
	}
	return Refund{}, false
}

// RefundedMinor возвращает суммарно возвращённую сумму.
func (p *Payment) RefundedMinor() int64 {
	var total int64
	for _, r := range p.Refunds {
		total += r.AmountMinor
	}
	return total
}
