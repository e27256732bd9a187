package inventory

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const defaultSweepInterval = 5 * time.Minute

var (
	reservationSweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_reservation_sweep_runs_total",
		Help: "Total number of reservation expiry sweep runs.",
	})
	reservationSweepExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_reservation_sweep_expired_total",
		Help: "Total number of expired reservations removed by the sweep.",
	})
	reservationTableSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_reservation_table_size",
		Help: "Number of entries in the reservation table after the last sweep.",
	})
)

// SweepOptions задаёт параметры воркера зачистки истёкших резервов.
type SweepOptions struct {
	Logger   *log.Entry
	Interval time.Duration
}

// SweepOption настраивает SweepWorker.
type SweepOption func(*SweepOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) SweepOption {
	return func(opts *SweepOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между проходами зачистки.
func WithInterval(interval time.Duration) SweepOption {
	return func(opts *SweepOptions) {
		opts.Interval = interval
	}
}

// SweepWorker периодически удаляет истёкшие резервы из таблицы.
// Истечение проверяется и при чтении, поэтому воркер лишь ограничивает
// время жизни утёкших записей величиной TTL + интервал зачистки.
type SweepWorker struct {
	store    *Store
	logger   *log.Entry
	interval time.Duration
}

// NewSweepWorker создаёт воркер зачистки резервов.
func NewSweepWorker(store *Store, options ...SweepOption) *SweepWorker {
	opts := SweepOptions{
		Interval: defaultSweepInterval,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation-sweep-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}

	return &SweepWorker{
		store:    store,
		logger:   logger,
		interval: opts.Interval,
	}
}

// Run запускает периодическую зачистку до отмены ctx.
func (w *SweepWorker) Run(ctx context.Context) {
	if w.store == nil {
		w.logger.Warn("reservation sweep worker is disabled: store is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(time.Now().UTC())
		}
	}
}

func (w *SweepWorker) sweep(now time.Time) {
	removed := w.store.Sweep(now)

	reservationSweepRunsTotal.Inc()
	reservationTableSize.Set(float64(w.store.Len()))
	if removed > 0 {
		reservationSweepExpiredTotal.Add(float64(removed))
		w.logger.WithField("expired", removed).Info("expired reservations released")
	}
}
