package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MagnunAVF/shortlinks/internal/analytics"
	"github.com/MagnunAVF/shortlinks/internal/config"
	applog "github.com/MagnunAVF/shortlinks/internal/logger"
	"github.com/MagnunAVF/shortlinks/internal/queue"
	"github.com/MagnunAVF/shortlinks/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}
	if cfg.Log.Service == "" {
		cfg.Log.Service = "analytics-worker"
	}
	log := applog.Init(cfg.Log)

	if cfg.StoreDriver != "postgres" {
		log.Error("Analytics Worker needs STORE_DRIVER=postgres; the memory store records visits inside the API Service")
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("Analytics Worker stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = applog.IntoContext(ctx, log.With("queue", cfg.ClickQueue))

	db, err := store.Open(cfg.DatabaseURL, applog.NewGormLogger(cfg.GormLogLevel, cfg.SlowQuery))
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	pg := store.NewPostgres(db, cfg.ShortURLBase)

	mq, err := queue.Dial(cfg.RabbitMQURL, cfg.ClickQueue)
	if err != nil {
		return err
	}
	defer mq.Close()

	deliveries, err := mq.Consume(cfg.AnalyticsPrefetch)
	if err != nil {
		return err
	}

	log.Info("Analytics Worker started. Waiting for visit jobs...",
		"queue", cfg.ClickQueue, "workers", cfg.AnalyticsWorkers, "prefetch", cfg.AnalyticsPrefetch)

	// a closed delivery channel ends the process; the orchestrator restarts it
	// with a fresh connection
	if err := analytics.NewRecorder(pg, cfg.AnalyticsWorkers, cfg.RetryDelay).Run(ctx, deliveries); err != nil {
		return err
	}
	log.Info("Analytics Worker stopped")
	return nil
}
