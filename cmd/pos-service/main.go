package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/app"
	"github.com/vladislavdragonenkov/pos/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if lvl, err := log.ParseLevel(os.Getenv("POS_LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}
}

func main() {
	// .env опционален: переменные окружения имеют приоритет.
	_ = godotenv.Load()
	setupLogger()

	cfg, err := app.ReadConfig()
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.String(),
		"storage":      string(cfg.StorageDriver),
		"metrics_addr": cfg.MetricsAddr,
	}).Info("запускаем кассовый сервис")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("кассовый сервис остановлен")
}
