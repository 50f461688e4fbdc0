// Package main provides the veridoc API server entrypoint.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/veridoc-ai/veridoc/internal/cache"
	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/internal/extraction"
	"github.com/veridoc-ai/veridoc/internal/llm"
	"github.com/veridoc-ai/veridoc/internal/observability"
	"github.com/veridoc-ai/veridoc/internal/orchestrator"
	"github.com/veridoc-ai/veridoc/internal/storage"
	"github.com/veridoc-ai/veridoc/internal/structuring"
	"github.com/veridoc-ai/veridoc/internal/verification"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Msg("Starting veridoc API")

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := storage.Migrate(migrateCtx, db); err != nil {
		cancelMigrate()
		logger.Error().Err(err).Msg("Failed to run migrations")
		os.Exit(1)
	}
	cancelMigrate()

	cacheClient, err := openCache(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect cache")
		os.Exit(1)
	}
	defer cacheClient.Close()

	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		logger.Error().Err(err).Str("dir", cfg.Storage.Dir).Msg("Failed to create storage dir")
		os.Exit(1)
	}

	pipeline := buildPipeline(cfg, db, cacheClient, logger)
	defer pipeline.Close()

	router := NewRouter(logger, cfg, pipeline)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
			srv.Close()
		}
	}
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		dsn := fmt.Sprintf("%s?_journal_mode=%s", cfg.Database.SQLite.Path, cfg.Database.SQLite.JournalMode)
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(cfg.Database.SQLite.MaxOpenConns)
		return db, db.Ping()
	case "postgres":
		db, err := sql.Open("postgres", cfg.Database.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.Postgres.ConnMaxLifetime)
		return db, db.Ping()
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

func openCache(cfg *config.Config) (cache.Client, error) {
	if cfg.Cache.Driver == "redis" {
		return cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
	}
	return cache.NewMemoryClient(cfg.Cache.MaxEntries), nil
}

func buildPipeline(cfg *config.Config, db *sql.DB, cacheClient cache.Client, logger *observability.Logger) *orchestrator.Pipeline {
	llmClient := llm.NewClient(llm.Config{
		BaseURL:     cfg.NLU.BaseURL,
		APIKey:      cfg.NLU.APIKey,
		Model:       cfg.NLU.Model,
		VisionModel: cfg.NLU.VisionModel,
		Temperature: cfg.NLU.Temperature,
		Timeout:     cfg.NLU.Timeout,
		MaxRetries:  cfg.NLU.MaxRetries,
	})

	engine := extraction.NewEngine(
		logger,
		extraction.NewFitzRasterizer(cfg.Extraction.MaxPages, cfg.Extraction.DPI),
		extraction.EngineConfig{CallTimeout: cfg.Extraction.OCRTimeout},
		extraction.NewNativeText(cfg.Extraction.MaxPages, cfg.Extraction.NativeTextThreshold),
		extraction.NewTesseractOCR(cfg.Extraction.OCRLanguages, cfg.Extraction.MinTextLength),
		extraction.NewVisionOCR(llmClient, cfg.Extraction.MinTextLength),
	)

	structurer := structuring.NewExtractor(llmClient, cfg.Verification.GradePointWeight, logger)

	verifier := verification.NewEngine(
		cfg.Verification.NameThreshold,
		logger,
		verification.WithCache(cacheClient, cfg.Verification.CacheTTL),
	)

	return orchestrator.NewPipeline(
		storage.NewSQLStore(db),
		orchestrator.NewFSLoader(cfg.Storage.Dir),
		engine,
		structurer,
		verifier,
		orchestrator.Config{
			MaxAttempts:       cfg.Pipeline.MaxAttempts,
			BackoffBase:       cfg.Pipeline.BackoffBase,
			BackoffMax:        cfg.Pipeline.BackoffMax,
			MaxConcurrentJobs: cfg.Pipeline.MaxConcurrentJobs,
		},
		logger,
		orchestrator.WithStatusCache(cacheClient, 2*time.Second),
	)
}
