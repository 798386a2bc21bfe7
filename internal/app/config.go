package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска кассового сервиса.
type Config struct {
	MetricsAddr string

	// GSTRatePercent — ставка налога, применяемая калькулятором чека.
	// Ноль полностью отключает налог.
	GSTRatePercent float64

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers  []string
	ConsumerGroup string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	FinalizeCleanupInterval  time.Duration
	FinalizeCleanupBatchSize int

	AdvisoryTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:              ":9090",
		GSTRatePercent:           18,
		StorageDriver:            StorageDriverMemory,
		PostgresAutoMigrate:      true,
		ConsumerGroup:            "pos-billing",
		OutboxPollInterval:       time.Second,
		OutboxBatchSize:          100,
		OutboxMaxAttempts:        3,
		OutboxRetryDelay:         50 * time.Millisecond,
		FinalizeCleanupInterval:  10 * time.Minute,
		FinalizeCleanupBatchSize: 500,
		AdvisoryTimeout:          500 * time.Millisecond,
	}
}

// ReadConfig собирает конфигурацию из переменных окружения поверх значений
// по умолчанию.
func ReadConfig() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("POS_METRICS_ADDR")); v != "" {
		cfg.MetricsAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("POS_GST_RATE_PERCENT")); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse POS_GST_RATE_PERCENT: %w", err)
		}
		if rate < 0 || rate > 100 {
			return Config{}, fmt.Errorf("POS_GST_RATE_PERCENT out of range: %v", rate)
		}
		cfg.GSTRatePercent = rate
	}
	if v := strings.TrimSpace(os.Getenv("POS_STORAGE_DRIVER")); v != "" {
		switch StorageDriver(v) {
		case StorageDriverMemory, StorageDriverPostgres:
			cfg.StorageDriver = StorageDriver(v)
		default:
			return Config{}, fmt.Errorf("unknown POS_STORAGE_DRIVER: %s", v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("POS_POSTGRES_DSN")); v != "" {
		cfg.PostgresDSN = v
		if cfg.StorageDriver == StorageDriverMemory {
			cfg.StorageDriver = StorageDriverPostgres
		}
	}
	if v := strings.TrimSpace(os.Getenv("POS_POSTGRES_AUTO_MIGRATE")); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse POS_POSTGRES_AUTO_MIGRATE: %w", err)
		}
		cfg.PostgresAutoMigrate = enabled
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		for _, broker := range strings.Split(v, ",") {
			broker = strings.TrimSpace(broker)
			if broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("POS_CONSUMER_GROUP")); v != "" {
		cfg.ConsumerGroup = v
	}
	if v := strings.TrimSpace(os.Getenv("POS_OUTBOX_POLL_INTERVAL")); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse POS_OUTBOX_POLL_INTERVAL: %w", err)
		}
		cfg.OutboxPollInterval = interval
	}
	if v := strings.TrimSpace(os.Getenv("POS_OUTBOX_BATCH_SIZE")); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse POS_OUTBOX_BATCH_SIZE: %w", err)
		}
		cfg.OutboxBatchSize = size
	}

	if cfg.StorageDriver == StorageDriverPostgres && cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("postgres storage requires POS_POSTGRES_DSN")
	}

	return cfg, nil
}
