package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/billing"
	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
	"github.com/vladislavdragonenkov/pos/internal/inventory"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/service/advisory"
	"github.com/vladislavdragonenkov/pos/internal/service/checkout"
	"github.com/vladislavdragonenkov/pos/internal/service/finalizelog"
	"github.com/vladislavdragonenkov/pos/internal/service/outbox"
	"github.com/vladislavdragonenkov/pos/internal/version"
)

// Run собирает сервис и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	registry := billing.NewRegistry(cfg.GSTRatePercent, logger.WithField("layer", "billing"))
	ledger := inventory.NewLedgerWithOutbox(deps.Products, deps.StockLogs, deps.OutboxRepo, logger.WithField("layer", "inventory"))

	finalizer := checkout.NewFinalizer(
		deps.Sales,
		deps.Customers,
		ledger,
		deps.FinalizeLog,
		deps.OutboxRepo,
		logger.WithField("layer", "checkout"),
	)
	retryable := checkout.NewRetryableFinalizer(finalizer, checkout.DefaultRetryConfig(), logger.WithField("layer", "checkout"))

	// Советчик допродаж: без внешнего сервиса работает заглушка,
	// circuit breaker и таймаут остаются на месте.
	breaker := advisory.NewCircuitBreaker(5, 30*time.Second, logger.WithField("layer", "advisory"))
	advisor := advisory.NewClient(advisory.NewMockSuggester(), breaker, cfg.AdvisoryTimeout, logger.WithField("layer", "advisory"))

	handler := NewCommandHandler(
		registry,
		deps.Products,
		deps.Customers,
		retryable,
		advisor,
		logger.WithField("layer", "commands"),
	)

	kafkaProducer := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafkaProducer(kafkaProducer, logger)

	var wg sync.WaitGroup

	if kafkaProducer != nil {
		publisher := kafka.NewOutboxPublisher(kafkaProducer)
		worker := outbox.NewWorker(
			deps.OutboxRepo,
			publisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(kafka.NewDLQPublisher(kafkaProducer)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	} else {
		logger.Warn("kafka is not configured, outbox events stay pending")
	}

	cleanup := finalizelog.NewCleanupWorker(
		deps.FinalizeLog,
		finalizelog.WithLogger(logger.WithField("component", "finalize-cleanup")),
		finalizelog.WithInterval(cfg.FinalizeCleanupInterval),
		finalizelog.WithBatchSize(cfg.FinalizeCleanupBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(ctx)
	}()

	var consumer *kafka.Consumer
	if len(cfg.KafkaBrokers) > 0 {
		consumer, err = kafka.NewConsumerWithDLQ(
			cfg.KafkaBrokers,
			cfg.ConsumerGroup,
			[]string{kafka.TopicTerminalCommands},
			handler.HandleMessage,
			kafkaProducer,
			3,
		)
		if err != nil {
			return err
		}
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	} else {
		logger.Warn("kafka is not configured, terminal commands are not consumed")
	}

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return deps.Ping(checkCtx)
	}))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	logger.WithFields(log.Fields{
		"storage":      string(cfg.StorageDriver),
		"metrics_addr": cfg.MetricsAddr,
		"gst_rate":     cfg.GSTRatePercent,
	}).Info("кассовый сервис запущен")

	<-ctx.Done()

	logger.Info("получен сигнал остановки")
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	wg.Wait()
	shutdownHTTP(metricsSrv, logger)

	return ctx.Err()
}

// startMetricsServer запускает HTTP-обработчики /metrics и health checks.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
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
