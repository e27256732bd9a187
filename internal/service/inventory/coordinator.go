package inventory

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

const (
	// DefaultTTL — срок жизни резерва с момента создания.
	DefaultTTL = 30 * time.Minute
)

// Config задаёт политику координатора.
type Config struct {
	// TTL резервов; по истечении сток возвращается в продажу.
	TTL time.Duration
	// AllowOversell включает разрешительную политику проверки доступности:
	// нехватка стока логируется, но не блокирует checkout. Это явное
	// бизнес-правило для cash-on-delivery потока, где риск oversell принят.
	// При false проверка строгая и нехватка стока отклоняет резерв.
	AllowOversell bool
}

// DefaultConfig возвращает политику по умолчанию: TTL 30 минут, oversell разрешён.
func DefaultConfig() Config {
	return Config{
		TTL:           DefaultTTL,
		AllowOversell: true,
	}
}

// ReserveResult — результат попытки резервирования позиций сессии.
type ReserveResult struct {
	Success     bool
	Unavailable []domain.Availability
	ExpiresAt   time.Time
}

// Coordinator вычисляет доступный к продаже сток и управляет резервами.
// Все мутации таблицы резервов идут только через его методы.
type Coordinator struct {
	store   *Store
	stock   domain.StockRepository
	cfg     Config
	logger  *log.Entry
	metrics *metrics.FulfillmentMetrics

	// strictMu сериализует допуск только в строгом режиме: проверка стока и
	// запись резерва должны быть одной логической операцией, иначе две сессии
	// пройдут проверку по одному остатку. В разрешительном режиме (режим по
	// умолчанию) мьютекс не берётся и checkout-путь не сериализуется.
	strictMu sync.Mutex
}

// NewCoordinator создаёт координатор инвентаря.
func NewCoordinator(store *Store, stock domain.StockRepository, cfg Config, logger *log.Entry) *Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "inventory")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Coordinator{
		store:   store,
		stock:   stock,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewFulfillmentMetrics(),
	}
}

// NewCoordinatorWithoutMetrics создаёт координатор без метрик (для тестов).
func NewCoordinatorWithoutMetrics(store *Store, stock domain.StockRepository, cfg Config, logger *log.Entry) *Coordinator {
	c := NewCoordinator(store, stock, cfg, logger)
	c.metrics = nil
	return c
}

// Store возвращает таблицу резервов (для sweep-воркера).
func (c *Coordinator) Store() *Store {
	return c.store
}

// VerifyAvailability возвращает доступный к продаже остаток товара:
// on-hand минус активные резервы, с отсечкой в ноль. Внутренние ошибки
// деградируют в консервативный ответ "недоступно" и не доходят до checkout.
func (c *Coordinator) VerifyAvailability(productID string, qty int32) domain.Availability {
	return c.verifyAvailability(productID, qty, time.Now().UTC())
}

func (c *Coordinator) verifyAvailability(productID string, qty int32, now time.Time) domain.Availability {
	result := domain.Availability{ProductID: productID}
	if productID == "" || qty <= 0 {
		return result
	}

	onHand, err := c.stock.GetStock(productID)
	if err != nil {
		c.logger.WithError(err).WithField("product_id", productID).
			Warn("stock lookup failed, treating product as unavailable")
		return result
	}

	available := onHand - c.store.ReservedQty(productID, now)
	if available < 0 {
		available = 0
	}
	result.AvailableStock = available

	if c.cfg.AllowOversell {
		// Разрешительная политика: низкий сток логируется, но checkout не блокируется.
		if available < qty {
			c.logger.WithFields(log.Fields{
				"product_id": productID,
				"requested":  qty,
				"available":  available,
			}).Warn("low stock, admitting anyway per oversell policy")
		}
		result.Available = true
		return result
	}

	result.Available = available >= qty
	return result
}

// ReserveItems создаёт резерв под checkout-сессию. Операция идемпотентна по
// сессии: существующий резерв сначала снимается. Ошибки не поднимаются к
// вызывающему: checkout не должен падать из-за сбоев инвентаря.
func (c *Coordinator) ReserveItems(sessionID string, items []domain.ReservationItem) ReserveResult {
	if sessionID == "" || len(items) == 0 {
		c.logger.WithField("session_id", sessionID).Warn("reserve rejected: empty session or items")
		return ReserveResult{}
	}

	now := time.Now().UTC()
	res := domain.Reservation{
		SessionID: sessionID,
		Items:     items,
		CreatedAt: now,
		ExpiresAt: now.Add(c.cfg.TTL),
	}
	if errs := res.Validate(); len(errs) > 0 {
		c.logger.WithField("session_id", sessionID).WithField("errors", errs).
			Warn("reserve rejected: invalid reservation")
		return ReserveResult{}
	}

	if !c.cfg.AllowOversell {
		// Строгий режим: проверка и запись под одним мьютексом.
		c.strictMu.Lock()
		defer c.strictMu.Unlock()
	}

	var unavailable []domain.Availability
	for _, item := range items {
		avail := c.verifyAvailability(item.ProductID, item.Qty, now)
		if !avail.Available {
			unavailable = append(unavailable, avail)
		}
	}
	if len(unavailable) > 0 && !c.cfg.AllowOversell {
		return ReserveResult{Unavailable: unavailable}
	}

	if _, replaced := c.store.Replace(res, now); replaced {
		c.logger.WithField("session_id", sessionID).Debug("previous reservation replaced")
	}

	if c.metrics != nil {
		c.metrics.RecordReservationCreated()
	}
	c.logger.WithFields(log.Fields{
		"session_id": sessionID,
		"items":      len(items),
		"expires_at": res.ExpiresAt,
	}).Info("reservation created")

	return ReserveResult{Success: true, Unavailable: unavailable, ExpiresAt: res.ExpiresAt}
}

// ReleaseReservation идемпотентно снимает резерв сессии.
// Снятие отсутствующего резерва завершается успешно и молча.
func (c *Coordinator) ReleaseReservation(sessionID string) {
	if sessionID == "" {
		return
	}

	if _, released := c.store.Delete(sessionID, time.Now().UTC()); released {
		if c.metrics != nil {
			c.metrics.RecordReservationReleased()
		}
		c.logger.WithField("session_id", sessionID).Info("reservation released")
	}
}

// CommitReservation конвертирует резерв сессии в постоянное списание стока.
// Вызывается после подтверждения оплаты заказа.
func (c *Coordinator) CommitReservation(sessionID string) error {
	if sessionID == "" {
		return domain.ErrSessionIDRequired
	}

	res, ok := c.store.Delete(sessionID, time.Now().UTC())
	if !ok {
		// Резерв истёк или уже снят. Списывать нечего, но это не ошибка:
		// подтверждение могло прийти после TTL.
		c.logger.WithField("session_id", sessionID).Warn("commit without active reservation")
		return nil
	}

	for _, item := range res.Items {
		if err := c.stock.DecrementStock(item.ProductID, item.Qty); err != nil {
			c.logger.WithError(err).WithFields(log.Fields{
				"session_id": sessionID,
				"product_id": item.ProductID,
			}).Error("stock decrement failed during commit")
			return err
		}
	}

	if c.metrics != nil {
		c.metrics.RecordReservationCommitted()
	}
	c.logger.WithField("session_id", sessionID).Info("reservation committed")
	return nil
}
