package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/bus"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/delivery"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/webhook"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

// Run собирает и запускает fulfillment-сервис: таблицу резервов со
// sweep-воркером, координатор инвентаря, процессор платёжных webhook-ов,
// движок назначения доставки и внутреннюю шину событий. Блокируется до
// отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	eventBus := bus.New(
		bus.WithLogger(logger.WithField("component", "event-bus")),
		bus.WithQueueSize(cfg.BusQueueSize),
	)
	sink := bus.NewSink(eventBus)

	reservations := inventory.NewStore()
	coordinator := inventory.NewCoordinator(reservations, deps.Stock, inventory.Config{
		TTL:           cfg.ReservationTTL,
		AllowOversell: cfg.AllowOversell,
	}, logger.WithField("component", "inventory"))

	sweeper := inventory.NewSweepWorker(reservations,
		inventory.WithLogger(logger.WithField("component", "reservation-sweep-worker")),
		inventory.WithInterval(cfg.SweepInterval),
	)

	var signer *webhook.Signer
	if cfg.WebhookSecret != "" {
		signer = webhook.NewSigner(cfg.WebhookSecret)
	} else {
		logger.Warn("WEBHOOK_SECRET is not set, signature verification disabled")
	}
	processor := webhook.NewProcessor(
		deps.Events,
		deps.Payments,
		deps.Orders,
		sink,
		signer,
		webhook.DefaultRetryConfig(),
		logger.WithField("component", "webhook"),
	)

	engine := delivery.NewEngine(
		deps.Agents,
		deps.Orders,
		deps.Attempts,
		sink,
		delivery.Config{
			MaxAttempts:    cfg.DeliveryMaxAttempts,
			RescheduleHour: cfg.RescheduleHour,
		},
		logger.WithField("component", "delivery"),
	)

	wireBus(eventBus, coordinator, engine, deps.Orders, logger)

	// Kafka опциональна: без брокеров сервис работает на внутренней шине.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	var webhookConsumer *kafka.WebhookConsumer
	if kafkaProducer != nil {
		mirror := kafka.NewBusMirror(kafkaProducer, kafka.TopicOrderEvents)
		mirror.Attach(eventBus,
			bus.TopicOrderCreated,
			bus.TopicOrderCanceled,
			bus.TopicOrderPaid,
			bus.TopicPaymentFailedFinal,
			bus.TopicDeliveryAssigned,
			bus.TopicDeliveryCompleted,
			bus.TopicDeliveryPermFailed,
		)

		brokers := strings.Split(cfg.KafkaBrokers, ",")
		webhookConsumer, err = kafka.NewWebhookConsumer(brokers, cfg.KafkaGroupID, processor, kafkaProducer)
		if err != nil {
			logger.WithError(err).Warn("failed to create webhook consumer, continuing without inbound kafka")
			webhookConsumer = nil
		}
	}

	healthHandler := healthcheck.NewHandler(version.String())
	if deps.Store != nil {
		store := deps.Store
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(pingCtx)
		}))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		eventBus.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(runCtx)
	}()

	if webhookConsumer != nil {
		if err := webhookConsumer.Start(runCtx); err != nil {
			logger.WithError(err).Warn("failed to start webhook consumer, continuing without inbound kafka")
			webhookConsumer = nil
		}
	}

	logger.Info("fulfillment service started")
	<-ctx.Done()
	logger.Info("получен сигнал остановки, останавливаем сервис")

	cancel()
	if webhookConsumer != nil {
		if err := webhookConsumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop webhook consumer")
		}
	}
	wg.Wait()

	shutdownHTTP(metricsSrv, logger)
	closeKafka(kafkaProducer, logger)

	return ctx.Err()
}

// startMetricsServer запускает HTTP-обработчики /metrics и health-проб.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
