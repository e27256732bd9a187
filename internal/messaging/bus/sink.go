package bus

import "github.com/vladislavdragonenkov/fulfillment/internal/domain"

// Sink адаптирует шину под NotificationSink доменных сервисов: уведомление
// сервиса публикуется как событие шины с топиком, равным имени события.
type Sink struct {
	bus *Bus
}

var _ domain.NotificationSink = (*Sink)(nil)

// NewSink создаёт sink поверх шины.
func NewSink(b *Bus) *Sink {
	return &Sink{bus: b}
}

// Notify публикует уведомление в шину. Семантика Publish сохраняется:
// вызов не блокирует, при переполненной очереди событие теряется.
func (s *Sink) Notify(event string, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event, payload)
}
