package delivery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

const (
	// DefaultMaxAttempts — предел неуспешных попыток доставки одного заказа.
	DefaultMaxAttempts = 3
	// DefaultRescheduleHour — час (локального времени) переноса доставки
	// на следующий день.
	DefaultRescheduleHour = 10

	// Веса скоринга агента: рейтинг и свободная ёмкость.
	ratingWeight   = 0.4
	capacityWeight = 0.6
)

// Config задаёт политику движка назначения доставки.
type Config struct {
	// MaxAttempts — число неуспешных попыток, после которого заказ
	// переводится в permanently_failed.
	MaxAttempts int
	// RescheduleHour — час следующего дня, на который переносится доставка.
	RescheduleHour int
}

// DefaultConfig возвращает политику по умолчанию: 3 попытки, перенос на 10:00.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    DefaultMaxAttempts,
		RescheduleHour: DefaultRescheduleHour,
	}
}

// RankedAgent — агент с вычисленным скором пригодности для назначения.
type RankedAgent struct {
	Agent domain.Agent
	Score float64
}

// AssignmentResult — итог назначения одного заказа в batch-режиме.
type AssignmentResult struct {
	OrderID string
	AgentID string
	Err     error
}

// Engine назначает заказы агентам доставки и ведёт жизненный цикл попыток.
// Проверка ёмкости агента и закрепление заказа — одна атомарная операция
// репозитория, поэтому конкурентные назначения не переполняют агента.
type Engine struct {
	agents   domain.AgentRepository
	orders   domain.OrderRepository
	attempts domain.AttemptRepository
	notify   domain.NotificationSink
	cfg      Config
	logger   *log.Entry
	metrics  *metrics.FulfillmentMetrics

	// now подменяется в тестах для детерминированных расчётов переноса.
	now func() time.Time
}

// NewEngine создаёт движок назначения доставки.
func NewEngine(
	agents domain.AgentRepository,
	orders domain.OrderRepository,
	attempts domain.AttemptRepository,
	notify domain.NotificationSink,
	cfg Config,
	logger *log.Entry,
) *Engine {
	if logger == nil {
		logger = log.New().WithField("component", "delivery")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RescheduleHour <= 0 || cfg.RescheduleHour > 23 {
		cfg.RescheduleHour = DefaultRescheduleHour
	}
	return &Engine{
		agents:   agents,
		orders:   orders,
		attempts: attempts,
		notify:   notify,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.NewFulfillmentMetrics(),
		now:      func() time.Time { return time.Now() },
	}
}

// NewEngineWithoutMetrics создаёт движок без метрик (для тестов).
func NewEngineWithoutMetrics(
	agents domain.AgentRepository,
	orders domain.OrderRepository,
	attempts domain.AttemptRepository,
	notify domain.NotificationSink,
	cfg Config,
	logger *log.Entry,
) *Engine {
	e := NewEngine(agents, orders, attempts, notify, cfg, logger)
	e.metrics = nil
	return e
}

// AvailableAgents возвращает агентов зоны, способных принять заказ,
// отсортированных по убыванию скора. Скор агрегирует рейтинг агента и долю
// свободной ёмкости. При равном скоре порядок детерминирован по id агента,
// чтобы повторный вызов с тем же состоянием давал тот же список.
func (e *Engine) AvailableAgents(ctx context.Context, pincode string) ([]RankedAgent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pincode == "" {
		return nil, domain.ErrPincodeRequired
	}

	agents, err := e.agents.ListByPincode(pincode)
	if err != nil {
		return nil, fmt.Errorf("list agents for pincode %s: %w", pincode, err)
	}

	ranked := make([]RankedAgent, 0, len(agents))
	for _, agent := range agents {
		if !agent.IsAvailable || agent.SpareCapacity() == 0 {
			continue
		}
		ranked = append(ranked, RankedAgent{Agent: agent, Score: scoreAgent(agent)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Agent.ID < ranked[j].Agent.ID
	})
	return ranked, nil
}

// scoreAgent вычисляет скор пригодности: нормированный рейтинг с весом 0.4
// и доля свободной ёмкости с весом 0.6.
func scoreAgent(agent domain.Agent) float64 {
	ratingNorm := agent.Rating / 5.0
	capacityNorm := 0.0
	if agent.MaxOrders > 0 {
		capacityNorm = float64(agent.SpareCapacity()) / float64(agent.MaxOrders)
	}
	return ratingWeight*ratingNorm + capacityWeight*capacityNorm
}

// AssignOrderToAgent закрепляет заказ за агентом. Проверка ёмкости и запись
// заказа в набор агента выполняются атомарно; при нехватке слотов возвращается
// domain.ErrAgentCapacityExceeded без каких-либо side effects.
func (e *Engine) AssignOrderToAgent(ctx context.Context, agentID, orderID string) error {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordAssignmentDuration(time.Since(start))
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	order, err := e.orders.Get(orderID)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		e.recordRejection("terminal_order")
		return fmt.Errorf("%w: order %s is %s", domain.ErrOrderTerminal, orderID, order.Status)
	}
	if order.AgentID != "" {
		// Повторное назначение того же агента — идемпотентный no-op.
		if order.AgentID == agentID {
			return nil
		}
		e.recordRejection("already_assigned")
		return fmt.Errorf("%w: order %s already assigned to %s", domain.ErrOrderAlreadyAssigned, orderID, order.AgentID)
	}

	if err := e.agents.AddOrder(agentID, orderID); err != nil {
		if domain.IsCapacityExceeded(err) {
			e.recordRejection("capacity_exceeded")
		}
		return err
	}

	if err := e.updateOrder(orderID, func(o *domain.Order) {
		o.Status = domain.OrderStatusAssigned
		o.AgentID = agentID
	}); err != nil {
		// Откатываем закрепление, чтобы слот агента не остался занятым.
		if rmErr := e.agents.RemoveOrder(agentID, orderID); rmErr != nil {
			e.logger.WithError(rmErr).WithFields(log.Fields{
				"agent_id": agentID,
				"order_id": orderID,
			}).Error("failed to roll back agent assignment")
		}
		return err
	}

	_ = e.orders.AppendTimelineEvent(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     "AgentAssigned",
		Reason:   agentID,
		Occurred: e.now().UTC(),
	})

	if e.metrics != nil {
		e.metrics.RecordDeliveryAssigned()
	}
	e.logger.WithFields(log.Fields{
		"order_id": orderID,
		"agent_id": agentID,
	}).Info("order assigned to agent")

	e.notifyEvent("delivery.assigned", map[string]interface{}{
		"order_id": orderID,
		"agent_id": agentID,
	})
	return nil
}

// AutoAssignOrders назначает пачку заказов лучшим доступным агентам их зон.
// Назначения независимы: сбой одного заказа не прерывает остальные.
func (e *Engine) AutoAssignOrders(ctx context.Context, orderIDs []string) []AssignmentResult {
	results := make([]AssignmentResult, 0, len(orderIDs))

	for _, orderID := range orderIDs {
		if err := ctx.Err(); err != nil {
			results = append(results, AssignmentResult{OrderID: orderID, Err: err})
			continue
		}
		agentID, err := e.autoAssignOne(ctx, orderID)
		results = append(results, AssignmentResult{OrderID: orderID, AgentID: agentID, Err: err})
	}
	return results
}

func (e *Engine) autoAssignOne(ctx context.Context, orderID string) (string, error) {
	order, err := e.orders.Get(orderID)
	if err != nil {
		return "", err
	}

	ranked, err := e.AvailableAgents(ctx, order.Pincode)
	if err != nil {
		return "", err
	}
	if len(ranked) == 0 {
		e.recordRejection("no_agents")
		return "", fmt.Errorf("%w: pincode %s", domain.ErrAgentUnavailable, order.Pincode)
	}

	// Кандидаты пробуются по убыванию скора: конкурент мог занять последний
	// слот лучшего агента между ранжированием и закреплением.
	var lastErr error
	for _, candidate := range ranked {
		err := e.AssignOrderToAgent(ctx, candidate.Agent.ID, orderID)
		if err == nil {
			return candidate.Agent.ID, nil
		}
		if !domain.IsCapacityExceeded(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// StartDelivery переводит заказ в out_for_delivery: агент взял заказ в рейс.
// Допустимые исходные статусы — assigned и rescheduled; повторный вызов для
// заказа, уже находящегося в рейсе, — идемпотентный no-op.
func (e *Engine) StartDelivery(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	order, err := e.orders.Get(orderID)
	if err != nil {
		return err
	}
	if order.Status == domain.OrderStatusOutForDelivery {
		return nil
	}
	if order.Status.Terminal() {
		return fmt.Errorf("%w: order %s is %s", domain.ErrOrderTerminal, orderID, order.Status)
	}
	if order.AgentID == "" {
		return fmt.Errorf("%w: order %s has no assigned agent", domain.ErrAgentNotFound, orderID)
	}
	if order.Status != domain.OrderStatusAssigned && order.Status != domain.OrderStatusRescheduled {
		return fmt.Errorf("%w: order %s is %s", domain.ErrOrderNotDispatchable, orderID, order.Status)
	}

	if err := e.updateOrder(orderID, func(o *domain.Order) {
		o.Status = domain.OrderStatusOutForDelivery
	}); err != nil {
		return err
	}

	_ = e.orders.AppendTimelineEvent(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     "OutForDelivery",
		Occurred: e.now().UTC(),
	})

	e.logger.WithFields(log.Fields{
		"order_id": orderID,
		"agent_id": order.AgentID,
	}).Info("order out for delivery")
	return nil
}

// RecordDeliveryAttempt регистрирует исход попытки доставки и продвигает
// жизненный цикл заказа. Попытки нумеруются строго последовательно; попытка
// по заказу в терминальном статусе отклоняется.
func (e *Engine) RecordDeliveryAttempt(ctx context.Context, orderID string, outcome domain.AttemptOutcome, reason string, nextAttemptAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !outcome.Valid() {
		return domain.ErrAttemptOutcomeInvalid
	}

	order, err := e.orders.Get(orderID)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		// Четвёртая попытка после permanently_failed (и любая попытка после
		// delivered) — ошибка вызывающего, а не событие жизненного цикла.
		return fmt.Errorf("%w: order %s is %s", domain.ErrAttemptAfterTerminal, orderID, order.Status)
	}
	if order.AgentID == "" {
		return fmt.Errorf("%w: order %s has no assigned agent", domain.ErrAgentNotFound, orderID)
	}

	existing, err := e.attempts.List(orderID)
	if err != nil {
		return err
	}

	attempt := domain.DeliveryAttempt{
		ID:            uuid.NewString(),
		OrderID:       orderID,
		AgentID:       order.AgentID,
		Number:        int32(len(existing)) + 1,
		Outcome:       outcome,
		Reason:        reason,
		NextAttemptAt: nextAttemptAt,
		RecordedAt:    e.now().UTC(),
	}
	if errs := attempt.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if err := e.attempts.Append(attempt); err != nil {
		return err
	}

	switch outcome {
	case domain.AttemptOutcomeSuccessful:
		return e.completeDelivery(order, attempt)
	case domain.AttemptOutcomeFailed:
		return e.failDelivery(order, attempt)
	case domain.AttemptOutcomeRescheduled:
		return e.rescheduleDelivery(order, attempt)
	}
	return nil
}

// HandleFailedDelivery регистрирует неуспешную попытку и, если лимит не
// исчерпан, переносит доставку на следующий день в настроенный час.
func (e *Engine) HandleFailedDelivery(ctx context.Context, orderID, reason string, autoReschedule bool) error {
	if err := e.RecordDeliveryAttempt(ctx, orderID, domain.AttemptOutcomeFailed, reason, nil); err != nil {
		return err
	}

	order, err := e.orders.Get(orderID)
	if err != nil {
		return err
	}
	if order.Status.Terminal() || !autoReschedule {
		return nil
	}

	next := e.nextRescheduleTime(e.now())
	return e.RecordDeliveryAttempt(ctx, orderID, domain.AttemptOutcomeRescheduled, "auto reschedule after failed attempt", &next)
}

func (e *Engine) completeDelivery(order domain.Order, attempt domain.DeliveryAttempt) error {
	if err := e.updateOrder(order.ID, func(o *domain.Order) {
		o.Status = domain.OrderStatusDelivered
	}); err != nil {
		return err
	}

	if err := e.agents.RemoveOrder(order.AgentID, order.ID); err != nil {
		e.logger.WithError(err).WithField("agent_id", order.AgentID).
			Error("failed to release agent slot after delivery")
	}
	e.updateAgentStats(order.AgentID, func(a *domain.Agent) {
		a.CompletedOrders++
	})

	_ = e.orders.AppendTimelineEvent(domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     "Delivered",
		Occurred: attempt.RecordedAt,
	})

	if e.metrics != nil {
		e.metrics.RecordDeliveryCompleted()
	}
	e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"agent_id": order.AgentID,
		"attempt":  attempt.Number,
	}).Info("order delivered")

	e.notifyEvent("delivery.completed", map[string]interface{}{
		"order_id": order.ID,
		"agent_id": order.AgentID,
	})
	return nil
}

func (e *Engine) failDelivery(order domain.Order, attempt domain.DeliveryAttempt) error {
	failed, err := e.attempts.CountFailed(order.ID)
	if err != nil {
		return err
	}

	if failed >= e.cfg.MaxAttempts {
		return e.failPermanently(order, attempt, failed)
	}

	if err := e.updateOrder(order.ID, func(o *domain.Order) {
		o.Status = domain.OrderStatusDeliveryFailed
		o.FailedAttempts = int32(failed)
	}); err != nil {
		return err
	}

	_ = e.orders.AppendTimelineEvent(domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     "DeliveryFailed",
		Reason:   attempt.Reason,
		Occurred: attempt.RecordedAt,
	})

	if e.metrics != nil {
		e.metrics.RecordDeliveryFailed()
	}
	e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"failed":   failed,
		"limit":    e.cfg.MaxAttempts,
	}).Warn("delivery attempt failed")
	return nil
}

// failPermanently переводит заказ в permanently_failed, освобождает слот
// агента и пересчитывает его доступность.
func (e *Engine) failPermanently(order domain.Order, attempt domain.DeliveryAttempt, failed int) error {
	if err := e.updateOrder(order.ID, func(o *domain.Order) {
		o.Status = domain.OrderStatusPermanentlyFailed
		o.FailedAttempts = int32(failed)
	}); err != nil {
		return err
	}

	if err := e.agents.RemoveOrder(order.AgentID, order.ID); err != nil {
		e.logger.WithError(err).WithField("agent_id", order.AgentID).
			Error("failed to release agent slot after permanent failure")
	}
	e.updateAgentStats(order.AgentID, func(a *domain.Agent) {
		a.FailedOrders++
	})

	_ = e.orders.AppendTimelineEvent(domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     "PermanentlyFailed",
		Reason:   attempt.Reason,
		Occurred: attempt.RecordedAt,
	})

	if e.metrics != nil {
		e.metrics.RecordDeliveryPermanentFailure()
	}
	e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"agent_id": order.AgentID,
		"failed":   failed,
	}).Error("order permanently failed after exhausting delivery attempts")

	e.notifyEvent("delivery.permanently_failed", map[string]interface{}{
		"order_id": order.ID,
		"agent_id": order.AgentID,
		"reason":   attempt.Reason,
	})
	return nil
}

func (e *Engine) rescheduleDelivery(order domain.Order, attempt domain.DeliveryAttempt) error {
	next := attempt.NextAttemptAt
	if next == nil {
		t := e.nextRescheduleTime(e.now())
		next = &t
	}

	if err := e.updateOrder(order.ID, func(o *domain.Order) {
		o.Status = domain.OrderStatusRescheduled
	}); err != nil {
		return err
	}

	_ = e.orders.AppendTimelineEvent(domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     "Rescheduled",
		Reason:   attempt.Reason,
		Occurred: attempt.RecordedAt,
	})

	if e.metrics != nil {
		e.metrics.RecordDeliveryRescheduled()
	}
	e.logger.WithFields(log.Fields{
		"order_id":        order.ID,
		"next_attempt_at": next,
	}).Info("delivery rescheduled")
	return nil
}

// nextRescheduleTime возвращает следующий день в настроенный час,
// в таймзоне исходного момента.
func (e *Engine) nextRescheduleTime(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), e.cfg.RescheduleHour, 0, 0, 0, from.Location())
	return next.AddDate(0, 0, 1)
}

// updateOrder применяет мутацию к заказу, перечитывая свежую версию при
// конфликте optimistic locking.
func (e *Engine) updateOrder(orderID string, mutate func(*domain.Order)) error {
	const maxSaveRetries = 3

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		order, err := e.orders.Get(orderID)
		if err != nil {
			return err
		}
		mutate(&order)

		err = e.orders.Save(order)
		if err == nil {
			return nil
		}
		if !domain.IsVersionConflict(err) {
			return err
		}
	}
	return domain.ErrVersionConflict
}

// updateAgentStats обновляет счётчики агента best-effort: статистика не
// должна ронять основной сценарий.
func (e *Engine) updateAgentStats(agentID string, mutate func(*domain.Agent)) {
	const maxSaveRetries = 3

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		agent, err := e.agents.Get(agentID)
		if err != nil {
			e.logger.WithError(err).WithField("agent_id", agentID).Warn("failed to load agent for stats update")
			return
		}
		mutate(&agent)

		err = e.agents.Save(agent)
		if err == nil {
			return
		}
		if !domain.IsVersionConflict(err) {
			e.logger.WithError(err).WithField("agent_id", agentID).Warn("failed to update agent stats")
			return
		}
	}
}

func (e *Engine) recordRejection(reason string) {
	if e.metrics != nil {
		e.metrics.RecordAssignmentRejected(reason)
	}
}

func (e *Engine) notifyEvent(event string, payload map[string]interface{}) {
	if e.notify == nil {
		return
	}
	e.notify.Notify(event, payload)
}
