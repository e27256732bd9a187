package bus

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

// Топики внутренней шины fulfillment-событий.
const (
	TopicOrderCreated       = "order.created"
	TopicOrderCanceled      = "order.canceled"
	TopicOrderPaid          = "order.paid"
	TopicPaymentFailedFinal = "payment.failed_final"
	TopicDeliveryAssigned   = "delivery.assigned"
	TopicDeliveryCompleted  = "delivery.completed"
	TopicDeliveryPermFailed = "delivery.permanently_failed"
)

const defaultQueueSize = 1024

var (
	busPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_bus_published_total",
		Help: "Total number of events accepted by the in-process bus.",
	}, []string{"topic"})
	busDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_bus_dropped_total",
		Help: "Total number of events dropped because the bus queue was full.",
	}, []string{"topic"})
	busHandlerErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_bus_handler_errors_total",
		Help: "Total number of subscriber handler errors.",
	})
)

// Event — событие внутренней шины.
type Event struct {
	Topic      string
	Payload    map[string]interface{}
	OccurredAt time.Time
}

// Handler обрабатывает событие шины. Ошибка логируется и не останавливает
// доставку остальным подписчикам.
type Handler func(ctx context.Context, event Event) error

// Options задаёт параметры шины.
type Options struct {
	Logger    *log.Entry
	QueueSize int
}

// Option настраивает Bus.
type Option func(*Options)

// WithLogger задаёт logger шины.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithQueueSize задаёт ёмкость очереди событий.
func WithQueueSize(size int) Option {
	return func(opts *Options) {
		opts.QueueSize = size
	}
}

// Bus — внутрипроцессная шина событий с ограниченной очередью.
// Publish не блокирует вызывающего: при переполненной очереди событие
// отбрасывается и учитывается счётчиком. Доставка подписчикам идёт в одной
// dispatcher-горутине, поэтому обработчики получают события по порядку.
type Bus struct {
	queue  chan Event
	logger *log.Entry

	mu       sync.RWMutex
	handlers map[string][]Handler

	dropMu  sync.Mutex
	dropped map[string]uint64
}

// New создаёт шину событий.
func New(options ...Option) *Bus {
	opts := Options{
		QueueSize: defaultQueueSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "event-bus")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	return &Bus{
		queue:    make(chan Event, opts.QueueSize),
		logger:   logger,
		handlers: make(map[string][]Handler),
		dropped:  make(map[string]uint64),
	}
}

// Subscribe регистрирует обработчик топика. Подписки выполняются на этапе
// wiring, до запуска dispatcher-а.
func (b *Bus) Subscribe(topic string, handler Handler) {
	if topic == "" || handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish кладёт событие в очередь. Никогда не блокирует: при переполнении
// событие отбрасывается. Потеря внутренних событий допустима — источником
// истины остаётся durable store, шина лишь ускоряет реакцию.
func (b *Bus) Publish(topic string, payload map[string]interface{}) bool {
	event := Event{
		Topic:      topic,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}

	select {
	case b.queue <- event:
		busPublishedTotal.WithLabelValues(topic).Inc()
		return true
	default:
		busDroppedTotal.WithLabelValues(topic).Inc()
		b.dropMu.Lock()
		b.dropped[topic]++
		b.dropMu.Unlock()
		b.logger.WithField("topic", topic).Warn("bus queue full, event dropped")
		return false
	}
}

// Dropped возвращает число отброшенных событий топика.
func (b *Bus) Dropped(topic string) uint64 {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	return b.dropped[topic]
}

// Run запускает dispatcher до отмены ctx. Оставшиеся в очереди события
// при остановке дообрабатываются.
func (b *Bus) Run(ctx context.Context) {
	b.logger.Info("event bus started")
	for {
		select {
		case <-ctx.Done():
			b.drain()
			b.logger.Info("event bus stopped")
			return
		case event := <-b.queue:
			b.dispatch(ctx, event)
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case event := <-b.queue:
			b.dispatch(context.Background(), event)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := b.handlers[event.Topic]
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			busHandlerErrorsTotal.Inc()
			b.logger.WithError(err).WithField("topic", event.Topic).
				Error("bus handler failed")
		}
	}
}
