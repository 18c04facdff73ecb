package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jogardn/bookstore-orders/internal/config"
	"github.com/jogardn/bookstore-orders/internal/migration"
	"github.com/jogardn/bookstore-orders/internal/storage"
	"github.com/sirupsen/logrus"
)

// order-migrate copies orders written by the file fallback store into the
// relational store once the database is reachable again.
func main() {
	defaults := migration.DefaultConfig()

	envFile := flag.String("env", ".env", "optional .env file with configuration overrides")
	dataFile := flag.String("data-file", "", "order document to import (defaults to ORDER_DATA_FILE)")
	dryRun := flag.Bool("dry-run", false, "report what would be imported without writing")
	batchSize := flag.Int("batch-size", defaults.BatchSize, "orders per batch")
	concurrency := flag.Int("concurrency", defaults.Concurrency, "concurrent imports per batch")
	skipValidation := flag.Bool("skip-validation", false, "skip the post-import comparison")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	path := *dataFile
	if path == "" {
		path = cfg.DataFile
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	doc, err := storage.LoadDocument(path)
	if err != nil {
		logger.WithError(err).WithField("data_file", path).Fatal("Failed to load order document")
	}

	repo, err := storage.OpenSQL(ctx, cfg.Database.Driver, cfg.Database.DataSourceName(), cfg.Database.ConnectTimeout, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to relational store")
	}
	defer repo.Close()

	migrator := migration.NewMigrator(repo, migration.Config{
		BatchSize:    *batchSize,
		Concurrency:  *concurrency,
		DelayBetween: defaults.DelayBetween,
		DryRun:       *dryRun,
	}, logger)

	result, err := migrator.Migrate(ctx, doc)
	if err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}

	report := map[string]interface{}{"migration": result}
	if !*dryRun && !*skipValidation {
		validation, err := migrator.Validate(ctx, doc)
		if err != nil {
			logger.WithError(err).Fatal("Validation failed")
		}
		report["validation"] = validation
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		logger.WithError(err).Fatal("Failed to write report")
	}

	if result.Failed > 0 {
		repo.Close()
		stop()
		os.Exit(1)
	}
}
