package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/example/campus-billing/internal/bot"
	"github.com/example/campus-billing/internal/campus"
	"github.com/example/campus-billing/internal/collector"
	"github.com/example/campus-billing/internal/config"
	"github.com/example/campus-billing/internal/credentials"
	"github.com/example/campus-billing/internal/logging"
	"github.com/example/campus-billing/internal/notify"
	"github.com/example/campus-billing/internal/persistence/sqlite"
)

func main() {
	_ = godotenv.Load()

	logger := logging.NewLogger(slog.LevelInfo)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	storage, err := sqlite.Open(cfg.SQLiteDSN, time.Now)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := storage.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	credentialStore, err := credentials.NewStore(cfg.CredentialKey)
	if err != nil {
		logger.Error("failed to initialise credential store", "error", err)
		os.Exit(1)
	}

	client := campus.NewClient(campus.Endpoints{
		PortalA: cfg.PortalABaseURL,
		PortalB: cfg.PortalBBaseURL,
	}, nil, cfg.SessionTTL, time.Now, logger)

	tokenCache := collector.NewTokenCache(storage.Tokens)
	orchestrator := collector.NewOrchestrator(client, tokenCache, cfg.RetryCount, cfg.RetryBaseDelay, logger)

	transport := notify.NewTelegramTransport(cfg.TelegramBotToken, "", nil, logger)
	dispatcher := notify.NewDispatcher(storage.Rules, transport, time.Now, logger)

	scheduler := collector.NewScheduler(
		storage.Bindings,
		credentialStore,
		orchestrator,
		tokenCache,
		storage.Snapshots,
		dispatcher,
		collector.SchedulerConfig{
			BatchSize:     cfg.BatchSize,
			BatchPause:    cfg.BatchPause,
			ShutdownGrace: cfg.ShutdownGrace,
		},
		uuid.NewString,
		time.Now,
		logger,
	)

	commands := bot.NewHandler(
		storage.Bindings,
		storage.Rules,
		storage.Snapshots,
		credentialStore,
		orchestrator,
		uuid.NewString,
		time.Now,
		logger,
	)

	go func() {
		if err := transport.Poll(ctx, commands.Handle); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("command polling stopped", "error", err)
		}
	}()

	logger.Info("balance collector starting",
		"batch_size", cfg.BatchSize,
		"retry_count", cfg.RetryCount,
	)
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler encountered error", "error", err)
		os.Exit(1)
	}
}
