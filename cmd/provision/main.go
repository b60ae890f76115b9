// Command provision grants or revokes the admin flag for an existing user.
// Admin rights are never assigned over HTTP; this command talks to the
// configured store directly.
//
//	provision -email alice@x.com
//	provision -email alice@x.com -revoke
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sakif/infinite-studio/internal/config"
	"github.com/sakif/infinite-studio/internal/repository/postgres"
	"github.com/sakif/infinite-studio/internal/repository/sqlite"
)

type adminSetter interface {
	SetAdmin(ctx context.Context, email string, admin bool) error
	Close() error
}

func main() {
	email := flag.String("email", "", "email of the user to update (required)")
	revoke := flag.Bool("revoke", false, "remove the admin flag instead of granting it")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *email == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := provision(cfg, *email, !*revoke); err != nil {
		logger.Error("provisioning failed", slog.String("email", *email), slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("admin flag updated", slog.String("email", *email), slog.Bool("admin", !*revoke))
}

func provision(cfg *config.Config, email string, admin bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		store adminSetter
		err   error
	)
	switch cfg.DBDriver {
	case config.DriverPostgres:
		store, err = postgres.New(ctx, cfg.DatabaseURL)
	default:
		store, err = sqlite.New(ctx, cfg.DBPath)
	}
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	return store.SetAdmin(ctx, email, admin)
}
