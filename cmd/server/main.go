package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/clustr-io/dataexchange/internal/config"
	"github.com/clustr-io/dataexchange/internal/entities"
	"github.com/clustr-io/dataexchange/internal/exchange"
	"github.com/clustr-io/dataexchange/internal/logging"
	"github.com/clustr-io/dataexchange/internal/queue"
	"github.com/clustr-io/dataexchange/internal/storage"
	"github.com/clustr-io/dataexchange/internal/task"
	"github.com/clustr-io/dataexchange/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"queue_workers", cfg.Queue.Workers,
		"external_storage", cfg.Storage.ExternalEnabled(),
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	// Connect to database
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	// Register the built-in entity types. Persisters need the pool, so this
	// cannot happen in package init.
	entities.RegisterAll(pool)
	slog.Info("entities registered", "count", len(exchange.Entities()))

	// External object storage is optional; without it, EXTERNAL-located
	// exports are rejected at dispatch time.
	var external *storage.S3Store
	if cfg.Storage.ExternalEnabled() {
		external, err = storage.NewS3Store(ctx, storage.S3Config{
			Bucket:    cfg.Storage.S3Bucket,
			Region:    cfg.Storage.S3Region,
			Prefix:    cfg.Storage.S3Prefix,
			Endpoint:  cfg.Storage.S3Endpoint,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
		})
		if err != nil {
			slog.Error("failed to configure external storage", "error", err)
			os.Exit(1)
		}
		slog.Info("external storage configured", "bucket", cfg.Storage.S3Bucket)
	}

	tasks := task.NewPGRepository(pool)
	results := storage.NewMemoryStore()
	jobs := queue.New(cfg.Queue.Workers, cfg.Queue.Buffer, slog.Default())

	exporter := &exchange.Exporter{
		Log:            slog.Default(),
		TempDir:        cfg.Exchange.TempDir,
		AlwaysExternal: cfg.Storage.AlwaysExternal,
	}
	if external != nil {
		exporter.External = external
	}

	dispatcher := &exchange.Dispatcher{
		Log:      slog.Default(),
		Tasks:    tasks,
		Notifier: &task.LogNotifier{Log: slog.Default()},
		Queue:    jobs,
		Importer: &exchange.Importer{
			Log:         slog.Default(),
			MaxFileSize: cfg.Exchange.MaxFileSize,
		},
		Exporter:              exporter,
		Results:               results,
		SyncRecordCeiling:     cfg.Exchange.SyncRecordCeiling,
		SyncImportByteCeiling: cfg.Exchange.SyncImportByteCeiling,
		SyncWaitBudget:        cfg.Exchange.SyncWaitBudget,
		MaxAttempts:           cfg.Queue.MaxAttempts,
		RetryBackoff:          cfg.Queue.RetryBackoff,
	}

	var externalFiles web.ExternalFiles
	if external != nil {
		externalFiles = external
	}
	server := web.NewServer(dispatcher, tasks, results, externalFiles,
		cfg.Server, cfg.Exchange, slog.Default())

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Let in-flight jobs finish so their tasks reach a terminal state.
		if err := jobs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("queue did not drain in time", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
