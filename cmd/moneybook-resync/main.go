package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"moneybook/internal/amqp"
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

	logger := log.New(log.Config{Component: log.ComponentResync})
	log.SetDefault(logger)

	logger.Info("Starting moneybook-resync")

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

	resyncer := services.NewResyncer(st, period.SystemClock{}, hub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Queued requests: rebuild the leaderboards the write path flagged.
	if cfg.AMQPURL != "" {
		g.Go(func() error {
			handler := func(ctx context.Context, msg *amqp.ResyncRequestMessage) error {
				logger.InfoContext(ctx, "Handling resync request",
					log.FieldLeaderboardID, msg.LeaderboardID,
					"reason", msg.Reason)
				_, err := resyncer.ResyncByID(ctx, msg.LeaderboardID)
				return err
			}
			err := amqp.ConsumeResyncRequestsWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPEventsQueue, cfg.AMQPResyncQueue, handler)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("AMQP disabled, running periodic sweep only")
	}

	// Periodic sweep: repairs drift that never produced a queue message.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.ResyncInterval)
		defer ticker.Stop()

		if done, err := resyncer.ResyncAll(ctx); err != nil {
			logger.Error("Initial sweep failed", log.FieldError, err)
		} else {
			logger.Info("Initial sweep complete", "leaderboards", done)
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				done, err := resyncer.ResyncAll(ctx)
				if err != nil {
					logger.Error("Periodic sweep failed", log.FieldError, err)
					continue
				}
				logger.Info("Periodic sweep complete", "leaderboards", done)
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
