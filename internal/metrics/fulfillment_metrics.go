package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics содержит метрики ядра fulfillment.
type FulfillmentMetrics struct {
	// Счётчики резервов
	reservationsCreated   prometheus.Counter
	reservationsReleased  prometheus.Counter
	reservationsCommitted prometheus.Counter

	// Счётчики webhook-событий
	webhookApplied    prometheus.Counter
	webhookDuplicates prometheus.Counter
	webhookAbandoned  prometheus.Counter
	webhookRetries    prometheus.Counter

	// Счётчики доставки
	deliveryAssigned     prometheus.Counter
	deliveryCompleted    prometheus.Counter
	deliveryFailed       prometheus.Counter
	deliveryRescheduled  prometheus.Counter
	deliveryPermanent    prometheus.Counter
	assignmentsRejected  *prometheus.CounterVec

	// Гистограммы времени обработки
	webhookDuration    prometheus.Histogram
	assignmentDuration prometheus.Histogram
}

// NewFulfillmentMetrics создаёт новый экземпляр метрик fulfillment.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return newFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &FulfillmentMetrics{
		reservationsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_reservations_created_total",
			Help: "Total number of stock reservations created",
		}),
		reservationsReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_reservations_released_total",
			Help: "Total number of stock reservations released explicitly",
		}),
		reservationsCommitted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_reservations_committed_total",
			Help: "Total number of reservations converted to permanent stock decrements",
		}),
		webhookApplied: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_webhook_applied_total",
			Help: "Total number of webhook events applied successfully",
		}),
		webhookDuplicates: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_webhook_duplicates_total",
			Help: "Total number of duplicate webhook events discarded",
		}),
		webhookAbandoned: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_webhook_abandoned_total",
			Help: "Total number of webhook events abandoned after exhausting retries",
		}),
		webhookRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_webhook_retries_total",
			Help: "Total number of webhook handler retry attempts",
		}),
		deliveryAssigned: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_delivery_assigned_total",
			Help: "Total number of orders assigned to delivery agents",
		}),
		deliveryCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_delivery_completed_total",
			Help: "Total number of deliveries completed successfully",
		}),
		deliveryFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_delivery_failed_total",
			Help: "Total number of failed delivery attempts recorded",
		}),
		deliveryRescheduled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_delivery_rescheduled_total",
			Help: "Total number of deliveries rescheduled after a failed attempt",
		}),
		deliveryPermanent: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_delivery_permanently_failed_total",
			Help: "Total number of orders that exhausted the delivery attempt budget",
		}),
		assignmentsRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_assignments_rejected_total",
			Help: "Total number of rejected agent assignments grouped by reason",
		}, []string{"reason"}),
		webhookDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_webhook_duration_seconds",
			Help:    "Duration of webhook event processing in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		assignmentDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_assignment_duration_seconds",
			Help:    "Duration of agent assignment in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordReservationCreated увеличивает счётчик созданных резервов.
func (m *FulfillmentMetrics) RecordReservationCreated() {
	m.reservationsCreated.Inc()
}

// RecordReservationReleased увеличивает счётчик снятых резервов.
func (m *FulfillmentMetrics) RecordReservationReleased() {
	m.reservationsReleased.Inc()
}

// RecordReservationCommitted увеличивает счётчик конвертированных резервов.
func (m *FulfillmentMetrics) RecordReservationCommitted() {
	m.reservationsCommitted.Inc()
}

// RecordWebhookApplied увеличивает счётчик применённых событий.
func (m *FulfillmentMetrics) RecordWebhookApplied() {
	m.webhookApplied.Inc()
}

// RecordWebhookDuplicate увеличивает счётчик отброшенных дублей.
func (m *FulfillmentMetrics) RecordWebhookDuplicate() {
	m.webhookDuplicates.Inc()
}

// RecordWebhookAbandoned увеличивает счётчик оставленных событий.
func (m *FulfillmentMetrics) RecordWebhookAbandoned() {
	m.webhookAbandoned.Inc()
}

// RecordWebhookRetry увеличивает счётчик повторов обработчиков.
func (m *FulfillmentMetrics) RecordWebhookRetry() {
	m.webhookRetries.Inc()
}

// RecordWebhookDuration записывает время обработки события.
func (m *FulfillmentMetrics) RecordWebhookDuration(duration time.Duration) {
	m.webhookDuration.Observe(duration.Seconds())
}

// RecordDeliveryAssigned увеличивает счётчик назначений.
func (m *FulfillmentMetrics) RecordDeliveryAssigned() {
	m.deliveryAssigned.Inc()
}

// RecordDeliveryCompleted увеличивает счётчик успешных доставок.
func (m *FulfillmentMetrics) RecordDeliveryCompleted() {
	m.deliveryCompleted.Inc()
}

// RecordDeliveryFailed увеличивает счётчик неуспешных попыток.
func (m *FulfillmentMetrics) RecordDeliveryFailed() {
	m.deliveryFailed.Inc()
}

// RecordDeliveryRescheduled увеличивает счётчик переносов.
func (m *FulfillmentMetrics) RecordDeliveryRescheduled() {
	m.deliveryRescheduled.Inc()
}

// RecordDeliveryPermanentFailure увеличивает счётчик терминальных провалов доставки.
func (m *FulfillmentMetrics) RecordDeliveryPermanentFailure() {
	m.deliveryPermanent.Inc()
}

// RecordAssignmentRejected увеличивает счётчик отклонённых назначений.
func (m *FulfillmentMetrics) RecordAssignmentRejected(reason string) {
	m.assignmentsRejected.WithLabelValues(reason).Inc()
}

// RecordAssignmentDuration записывает время назначения агента.
func (m *FulfillmentMetrics) RecordAssignmentDuration(duration time.Duration) {
	m.assignmentDuration.Observe(duration.Seconds())
}
