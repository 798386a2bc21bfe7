package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
	"github.com/vladislavdragonenkov/pos/internal/storage/postgres"
)

// Dependencies содержит репозитории приложения.
type Dependencies struct {
	Products    domain.ProductRepository
	Customers   domain.CustomerRepository
	Sales       domain.SaleRepository
	StockLogs   domain.StockLogRepository
	FinalizeLog domain.FinalizeLogRepository
	OutboxRepo  domain.OutboxRepository
	Logger      *log.Entry

	store *postgres.Store
}

// NewMemoryDependencies собирает in-memory зависимости для локального запуска
// и тестов.
func NewMemoryDependencies(logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	return &Dependencies{
		Products:    memory.NewProductRepository(),
		Customers:   memory.NewCustomerRepository(),
		Sales:       memory.NewSaleRepository(),
		StockLogs:   memory.NewStockLogRepository(),
		FinalizeLog: memory.NewFinalizeLogRepository(),
		OutboxRepo:  memory.NewOutboxRepository(),
		Logger:      logger,
	}
}

// NewPostgresDependencies подключается к PostgreSQL и собирает зависимости
// поверх него.
func NewPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
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
	}

	return &Dependencies{
		Products:    postgres.NewProductRepository(store),
		Customers:   postgres.NewCustomerRepository(store),
		Sales:       postgres.NewSaleRepository(store),
		StockLogs:   postgres.NewStockLogRepository(store),
		FinalizeLog: postgres.NewFinalizeLogRepository(store),
		OutboxRepo:  postgres.NewOutboxRepository(store),
		Logger:      logger,
		store:       store,
	}, nil
}

// NewDependencies выбирает хранилище согласно конфигурации.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if cfg.StorageDriver == StorageDriverPostgres {
		return NewPostgresDependencies(ctx, cfg, logger)
	}
	return NewMemoryDependencies(logger), nil
}

// Ping проверяет доступность хранилища. Для in-memory всегда успешен.
func (d *Dependencies) Ping(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	return d.store.Ping(ctx)
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() error {
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}
