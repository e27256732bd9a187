package app

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/service/delivery"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers — список брокеров через запятую. Пустое значение
	// отключает интеграцию с Kafka.
	KafkaBrokers string
	KafkaGroupID string

	// WebhookSecret — секрет HMAC-подписи провайдера. Пустое значение
	// включает insecure-режим без проверки подписи.
	WebhookSecret string

	ReservationTTL time.Duration
	SweepInterval  time.Duration
	AllowOversell  bool

	DeliveryMaxAttempts int
	RescheduleHour      int

	BusQueueSize int

	LogLevel string
}

// DefaultConfig возвращает настройки по умолчанию: in-memory хранилище,
// без Kafka, разрешительная политика oversell.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		KafkaGroupID:        "fulfillment-webhooks",
		ReservationTTL:      inventory.DefaultTTL,
		SweepInterval:       5 * time.Minute,
		AllowOversell:       true,
		DeliveryMaxAttempts: delivery.DefaultMaxAttempts,
		RescheduleHour:      delivery.DefaultRescheduleHour,
		BusQueueSize:        1024,
		LogLevel:            "info",
	}
}

// LoadConfig собирает конфигурацию из .env файла и переменных окружения.
// Переменные окружения имеют приоритет над .env.
func LoadConfig(logger *log.Entry) Config {
	if logger == nil {
		logger = log.WithField("component", "config")
	}

	if err := godotenv.Load(); err != nil {
		logger.Debug(".env file not found, using environment variables only")
	}

	cfg := DefaultConfig()
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.StorageDriver = getEnv("STORAGE_DRIVER", cfg.StorageDriver)
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.PostgresAutoMigrate = getEnvBool("POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)
	cfg.KafkaBrokers = getEnv("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaGroupID = getEnv("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.WebhookSecret = getEnv("WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.ReservationTTL = getEnvDuration("RESERVATION_TTL", cfg.ReservationTTL)
	cfg.SweepInterval = getEnvDuration("RESERVATION_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.AllowOversell = getEnvBool("ALLOW_OVERSELL", cfg.AllowOversell)
	cfg.DeliveryMaxAttempts = getEnvInt("DELIVERY_MAX_ATTEMPTS", cfg.DeliveryMaxAttempts)
	cfg.RescheduleHour = getEnvInt("DELIVERY_RESCHEDULE_HOUR", cfg.RescheduleHour)
	cfg.BusQueueSize = getEnvInt("BUS_QUEUE_SIZE", cfg.BusQueueSize)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	// Наличие DSN само по себе переключает на postgres, чтобы не требовать
	// двух согласованных переменных.
	if cfg.PostgresDSN != "" && os.Getenv("STORAGE_DRIVER") == "" {
		cfg.StorageDriver = StorageDriverPostgres
	}

	logger.WithFields(log.Fields{
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_enabled":  cfg.KafkaBrokers != "",
		"oversell":       cfg.AllowOversell,
		"ttl":            cfg.ReservationTTL,
	}).Info("configuration loaded")

	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("invalid integer in environment, using default")
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("invalid boolean in environment, using default")
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("invalid duration in environment, using default")
		return fallback
	}
	return parsed
}
