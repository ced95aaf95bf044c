package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"moneybook/internal/config"
	"moneybook/internal/events"
	"moneybook/internal/log"
	"moneybook/internal/period"
	"moneybook/internal/services"
	"moneybook/internal/store"
	"moneybook/internal/store/memory"
	"moneybook/internal/store/sqlite"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.Config{Component: log.ComponentNotifier})
	log.SetDefault(logger)

	logger.Info("Starting moneybook-notifier")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	var st store.Store
	if cfg.DataBackend == "memory" {
		st = memory.New()
		logger.Info("Using in-memory store")
	} else {
		db, err := sqlite.Open(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to open SQLite store", log.FieldError, err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer db.Close()
		st = db
		logger.Info("SQLite store ready", "path", cfg.SQLiteDBPath)
	}

	hub := events.NewHub()
	defer hub.Close()

	notifier := services.NewNotifier(st, period.SystemClock{}, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Notification evaluator configured", "interval", cfg.EvaluateInterval)

	ticker := time.NewTicker(cfg.EvaluateInterval)
	defer ticker.Stop()

	// Run an initial sweep on startup
	if count, err := notifier.EvaluateAll(ctx); err != nil {
		logger.Error("Initial evaluation failed", log.FieldError, err)
	} else {
		logger.Info("Initial evaluation complete", "notifications_created", count)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := notifier.EvaluateAll(ctx)
				if err != nil {
					logger.Error("Periodic evaluation failed", log.FieldError, err)
					continue
				}
				logger.Info("Periodic evaluation complete", "notifications_created", count)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down moneybook-notifier...")
	cancel()
	time.Sleep(time.Second)
	logger.Info("Shutdown complete")
}
