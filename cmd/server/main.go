// Package main is the entry point for the Infinite Studio auth server.
//
// main only reads configuration, opens the external resources (database,
// Redis, mail transport) and hands them to internal/server. All behaviour
// lives in the internal packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/infinite-studio/internal/config"
	"github.com/sakif/infinite-studio/internal/notify"
	"github.com/sakif/infinite-studio/internal/repository/postgres"
	"github.com/sakif/infinite-studio/internal/repository/sqlite"
	"github.com/sakif/infinite-studio/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Not fatal: /health reports it and sessions fail until Redis is back.
		logger.Warn("redis unreachable at startup",
			slog.String("addr", cfg.RedisAddr),
			slog.String("error", err.Error()),
		)
	}

	mail, err := openSender(cfg, logger)
	if err != nil {
		rdb.Close()
		store.Close()
		return err
	}

	srv, err := server.New(cfg, logger, server.Deps{Store: store, Redis: rdb, Mail: mail})
	if err != nil {
		rdb.Close()
		store.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	// Start blocks until SIGINT/SIGTERM and closes the dependencies on return.
	return srv.Start()
}

func openStore(ctx context.Context, cfg *config.Config) (server.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return db, nil

	default:
		// os.MkdirAll creates the data directory if needed (like `mkdir -p`).
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqlite.New(ctx, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		return db, nil
	}
}

func openSender(cfg *config.Config, logger *slog.Logger) (notify.Sender, error) {
	switch cfg.MailTransport {
	case config.TransportResend:
		return notify.NewResendSender(notify.StaticCredentials(cfg.ResendAPIKey, cfg.MailFrom)), nil

	case config.TransportQueue:
		q, err := notify.DialQueue(cfg.AMQPURL, cfg.MailQueue)
		if err != nil {
			return nil, fmt.Errorf("connecting mail queue: %w", err)
		}
		return q, nil

	default:
		logger.Warn("MAIL_TRANSPORT=log: emails are logged, not delivered")
		return notify.NewLogSender(logger), nil
	}
}
