package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"receipttrack/internal/bus"
	"receipttrack/internal/common"
	"receipttrack/internal/pipeline"
	"receipttrack/internal/repository"
	"receipttrack/internal/server"
)

func main() {
	cfg := common.LoadConfig()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open document store", "error", err)
		os.Exit(1)
	}
	defer repository.Close(db, logger)

	if err := repository.HealthCheck(ctx, db, logger); err != nil {
		logger.Error("document store health check failed", "error", err)
		os.Exit(1)
	}

	receiptRepo, err := repository.NewReceiptRepository(db, logger)
	if err != nil {
		logger.Error("failed to initialize receipt repository", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := receiptRepo.Close(); err != nil {
			logger.Error("receipt repository close error", "error", err)
		}
	}()

	eventBus := bus.New(logger,
		bus.WithWorkers(cfg.Bus.Workers),
		bus.WithQueueSize(cfg.Bus.QueueSize),
		bus.WithMaxAttempts(cfg.Bus.MaxAttempts),
		bus.WithRetryDelay(cfg.Bus.RetryDelay),
		bus.WithHandlerTimeout(cfg.Bus.HandlerTimeout),
	)

	proc := pipeline.NewProcessor(logger)
	proc.Register(eventBus)

	handler := server.NewHandler(receiptRepo, eventBus, db, logger)
	app := server.NewApp(handler)

	addr := cfg.Server.Addr
	if !strings.HasPrefix(addr, ":") && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	go func() {
		logger.Info("http serving", "addr", addr)
		if err := app.Listen(addr); err != nil {
			logger.Error("http serve failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	if err := app.Shutdown(); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	eventBus.Shutdown(drainCtx)

	logger.Info("stopped")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
