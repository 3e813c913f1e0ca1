package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/flood-monitor-service/internal/adapter/devicecache"
	"github.com/couchcryptid/flood-monitor-service/internal/adapter/httpapi"
	kafkaadapter "github.com/couchcryptid/flood-monitor-service/internal/adapter/kafka"
	"github.com/couchcryptid/flood-monitor-service/internal/adapter/postgres"
	"github.com/couchcryptid/flood-monitor-service/internal/adapter/telegram"
	"github.com/couchcryptid/flood-monitor-service/internal/alert"
	"github.com/couchcryptid/flood-monitor-service/internal/auth"
	"github.com/couchcryptid/flood-monitor-service/internal/config"
	"github.com/couchcryptid/flood-monitor-service/internal/engine"
	"github.com/couchcryptid/flood-monitor-service/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Alert sink (feature-flagged via TELEGRAM_TOKEN / TELEGRAM_CHAT_ID).
	var sink alert.Sink
	if cfg.AlertsEnabled() {
		sink = telegram.NewClient(cfg.TelegramToken, cfg.TelegramChatID, cfg.TelegramTimeout, logger)
		logger.Info("telegram alerts enabled", "timeout", cfg.TelegramTimeout)
	} else {
		logger.Info("telegram alerts disabled")
	}

	dispatcher := alert.NewDispatcher(sink, alert.Config{
		QueueSize: cfg.AlertQueueSize,
		Workers:   cfg.AlertWorkers,
		Timeout:   cfg.TelegramTimeout,
	}, logger, metrics)
	dispatcher.Start()
	defer dispatcher.Close()

	registry := devicecache.New(db.Devices(), cfg.DeviceCacheSize)
	authService := auth.NewService(db.Users(), cfg.SessionTTL, nil)
	eng := engine.New(registry, db, dispatcher, nil, logger, metrics)

	srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.Deps{
		Ingestor:  eng,
		Devices:   db.Devices(),
		Readings:  db.Readings(),
		Incidents: db.Incidents(),
		Auth:      authService,
		Ready:     db,
		Logger:    logger,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Optional Kafka telemetry source alongside the HTTP ingress.
	var consumer *kafkaadapter.Consumer
	if cfg.KafkaEnabled {
		consumer = kafkaadapter.NewConsumer(cfg, eng, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("kafka consumer error", "error", err)
			}
		}()
	}

	// Optional sustained-risk reminder sweeper.
	if cfg.EscalationEnabled {
		sweeper := engine.NewSweeper(db.Incidents(), db.Readings(), registry, dispatcher, nil, logger)
		if err := sweeper.Start(cfg.EscalationSchedule); err != nil {
			logger.Error("failed to start escalation sweeper", "error", err)
			os.Exit(1)
		}
		defer sweeper.Stop()
		logger.Info("escalation sweeper enabled", "schedule", cfg.EscalationSchedule)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Error("kafka consumer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
