package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ga4access/pkg/config"
	"github.com/platinummonkey/ga4access/pkg/observability"
	"github.com/platinummonkey/ga4access/pkg/storage/postgres"
	"github.com/platinummonkey/ga4access/pkg/users"
)

var (
	sourceURL = flag.String("source-url", os.Getenv("LEGACY_DATABASE_URL"), "PostgreSQL URL of the legacy database holding legacy_users")
	dryRun    = flag.Bool("dry-run", false, "Check connectivity and migrations without importing")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		logrus.WithError(err).Fatal("Import failed")
	}
}

func run() error {
	if *sourceURL == "" {
		return fmt.Errorf("--source-url or LEGACY_DATABASE_URL is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Type != config.StoragePostgres {
		return fmt.Errorf("import needs postgres storage, got %q", cfg.Storage.Type)
	}
	logger, err := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := postgres.Open(postgres.DefaultConfig(*sourceURL))
	if err != nil {
		return fmt.Errorf("failed to connect to legacy database: %w", err)
	}
	defer source.Close()

	target, err := postgres.Open(cfg.PostgresConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer target.Close()

	if err := postgres.Migrate(ctx, target, "users", users.Migrations()); err != nil {
		return err
	}
	if *dryRun {
		logger.Info("Dry run complete; both databases reachable")
		return nil
	}

	res, err := users.NewImporter(source, users.NewPostgresStore(target), logger).Run(ctx)
	logger.WithFields(logrus.Fields{
		"imported": res.Imported,
		"skipped":  res.Skipped,
		"failed":   res.Failed,
	}).Info("Legacy user import finished")
	return err
}
