package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

// Dependencies содержит репозитории приложения и, для postgres-драйвера,
// открытое подключение к базе.
type Dependencies struct {
	Orders   domain.OrderRepository
	Payments domain.PaymentRepository
	Events   domain.WebhookEventRepository
	Agents   domain.AgentRepository
	Attempts domain.AttemptRepository
	Stock    domain.StockRepository

	// Store не nil только для postgres-драйвера; используется для
	// health-check и закрытия подключения.
	Store *postgres.Store

	Logger *log.Entry
}

// NewDependencies создаёт репозитории согласно выбранному драйверу хранилища.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		return newPostgresDependencies(ctx, cfg, logger)
	case StorageDriverMemory, "":
		return newMemoryDependencies(logger), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func newMemoryDependencies(logger *log.Entry) *Dependencies {
	logger.Info("using in-memory storage")
	return &Dependencies{
		Orders:   memory.NewOrderRepository(),
		Payments: memory.NewPaymentRepository(),
		Events:   memory.NewWebhookEventRepository(),
		Agents:   memory.NewAgentRepository(),
		Attempts: memory.NewAttemptRepository(),
		Stock:    memory.NewStockRepository(),
		Logger:   logger,
	}
}

func newPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres storage driver requires POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	logger.Info("using postgres storage")
	return &Dependencies{
		Orders:   postgres.NewOrderRepository(store),
		Payments: postgres.NewPaymentRepository(store),
		Events:   postgres.NewWebhookEventRepository(store),
		Agents:   postgres.NewAgentRepository(store),
		Attempts: postgres.NewAttemptRepository(store),
		Stock:    postgres.NewStockRepository(store),
		Store:    store,
		Logger:   logger,
	}, nil
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() {
	if d.Store == nil {
		return
	}
	if err := d.Store.Close(); err != nil {
		d.Logger.WithError(err).Warn("failed to close postgres store")
	}
}
