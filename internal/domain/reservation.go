package domain

import "time"

// ReservationItem — одна позиция временного резерва (товар и количество).
type ReservationItem struct {
	ProductID string
	Qty       int32
}

// Reservation описывает временный резерв стока под checkout-сессию.
// На одну сессию существует не более одного активного резерва; повторное
// резервирование сначала снимает предыдущий. Резервы живут только в памяти
// процесса и теряются при рестарте — это документированное поведение,
// приемлемое при TTL в 30 минут.
type Reservation struct {
	SessionID string
	Items     []ReservationItem
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired сообщает, истёк ли резерв к моменту now.
// Срок проверяется при каждом чтении, а не только фоновой зачисткой.
func (r *Reservation) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// QtyFor возвращает зарезервированное количество по товару.
func (r *Reservation) QtyFor(productID string) int32 {
	var total int32
	for _, item := range r.Items {
		if item.ProductID == productID {
			total += item.Qty
		}
	}
	return total
}

// Validate проверяет ключевые поля резерва.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.SessionID == "" {
		errs = append(errs, ErrSessionIDRequired)
	}
	for _, item := range r.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrQuantityInvalid)
		}
	}

	return errs
}

// Availability — результат проверки доступного к продаже стока.
type Availability struct {
	ProductID      string
	Available      bool
	AvailableStock int32
}
