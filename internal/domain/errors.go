package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора checkout-сессии.
	ErrSessionIDRequired = errors.New("session_id is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка некорректного количества в резерве (<= 0).
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего идентификатора агента доставки.
	ErrAgentIDRequired = errors.New("agent_id is required")
	// Ошибка отсутствующего pincode зоны доставки.
	ErrPincodeRequired = errors.New("pincode is required")
	// Ошибка отсутствующего типа webhook-события.
	ErrEventTypeRequired = errors.New("event type is required")
	// Ошибка отсутствующего идентификатора сущности провайдера в событии.
	ErrEntityIDRequired = errors.New("provider entity id is required")
	// Ошибка некорректного исхода попытки доставки.
	ErrAttemptOutcomeInvalid = errors.New("attempt outcome is invalid")

	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentNotFound возвращается, если платёж не найден по provider order id.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrAgentNotFound возвращается, если агент доставки не найден.
	ErrAgentNotFound = errors.New("delivery agent not found")
	// ErrEventNotFound возвращается, если webhook-событие отсутствует в журнале.
	ErrEventNotFound = errors.New("webhook event not found")

	// ErrAgentCapacityExceeded — агент уже везёт максимум заказов.
	ErrAgentCapacityExceeded = errors.New("agent capacity exceeded")
	// ErrAgentUnavailable — агент помечен недоступным для назначения.
	ErrAgentUnavailable = errors.New("agent is not available")
	// ErrOrderAlreadyAssigned — у заказа уже есть активное назначение.
	ErrOrderAlreadyAssigned = errors.New("order already assigned")
	// ErrOrderTerminal — заказ в терминальном статусе, переход невозможен.
	ErrOrderTerminal = errors.New("order is in terminal state")
	// ErrOrderNotDispatchable — заказ не в статусе, допускающем выход в рейс.
	ErrOrderNotDispatchable = errors.New("order is not ready for dispatch")
	// ErrAttemptAfterTerminal — попытка доставки после permanently_failed/delivered.
	ErrAttemptAfterTerminal = errors.New("delivery attempt recorded after terminal state")
	// ErrAttemptOutOfOrder — номер попытки нарушает строгую нумерацию заказа.
	ErrAttemptOutOfOrder = errors.New("delivery attempt number out of order")

	// ErrVersionConflict сигнализирует о конфликте версий при сохранении (optimistic locking).
	ErrVersionConflict = errors.New("version conflict")
	// ErrStoreUnavailable — временная недоступность backing store, можно повторить попытку.
	ErrStoreUnavailable = errors.New("store temporarily unavailable")
	// ErrSignatureInvalid — подпись webhook не прошла проверку.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrEventAbandoned — событие исчерпало retry-бюджет и оставлено для ручной сверки.
	ErrEventAbandoned = errors.New("webhook event abandoned after retries")
)

// IsNotFound проверяет, относится ли ошибка к классу "сущность не найдена".
// Такие ошибки webhook-процессор повторяет ограниченное число раз (replication lag).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrAgentNotFound) ||
		errors.Is(err, ErrEventNotFound)
}

// IsTransient проверяет, является ли ошибка временной инфраструктурной.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsCapacityExceeded проверяет ошибку переполнения ёмкости агента.
func IsCapacityExceeded(err error) bool {
	return errors.Is(err, ErrAgentCapacityExceeded)
}

// IsValidation проверяет, относится ли ошибка к классу входной валидации.
// Такие ошибки не повторяются ни одним компонентом.
func IsValidation(err error) bool {
	return errors.Is(err, ErrSessionIDRequired) ||
		errors.Is(err, ErrProductIDRequired) ||
		errors.Is(err, ErrQuantityInvalid) ||
		errors.Is(err, ErrOrderIDRequired) ||
		errors.Is(err, ErrAgentIDRequired) ||
		errors.Is(err, ErrPincodeRequired) ||
		errors.Is(err, ErrEventTypeRequired) ||
		errors.Is(err, ErrEntityIDRequired) ||
		errors.Is(err, ErrAttemptOutcomeInvalid) ||
		errors.Is(err, ErrAttemptOutOfOrder)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
