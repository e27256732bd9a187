package domain

import "time"

// Agent описывает агента доставки и его текущую загрузку.
// Инвариант: len(CurrentOrders) никогда не превышает MaxOrders.
type Agent struct {
	ID              string
	Name            string
	Phone           string
	Pincodes        []string // зоны обслуживания
	Rating          float64  // 0..5
	MaxOrders       int
	CurrentOrders   []string
	CompletedOrders int
	FailedOrders    int
	IsAvailable     bool
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Covers сообщает, обслуживает ли агент указанный pincode.
func (a *Agent) Covers(pincode string) bool {
	for _, p := range a.Pincodes {
		if p == pincode {
			return true
		}
	}
	return false
}

// SpareCapacity возвращает число свободных слотов агента.
func (a *Agent) SpareCapacity() int {
	spare := a.MaxOrders - len(a.CurrentOrders)
	if spare < 0 {
		return 0
	}
	return spare
}

// HasOrder сообщает, закреплён ли заказ за агентом.
func (a *Agent) HasOrder(orderID string) bool {
	for _, id := range a.CurrentOrders {
		if id == orderID {
			return true
		}
	}
	return false
}

// RemoveOrder убирает заказ из текущего набора и пересчитывает доступность.
func (a *Agent) RemoveOrder(orderID string) {
	kept := a.CurrentOrders[:0]
	for _, id := range a.CurrentOrders {
		if id != orderID {
			kept = append(kept, id)
		}
	}
	a.CurrentOrders = kept
	a.IsAvailable = len(a.CurrentOrders) < a.MaxOrders
}
