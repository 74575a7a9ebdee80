// Command kiroku-worker drains the background job queue: plan drafting with
// similarity search, and insight extraction with embedding. Any number of
// worker processes can run against the same database.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kiroku/internal/config"
	"github.com/ashita-ai/kiroku/internal/jobs"
	"github.com/ashita-ai/kiroku/internal/llm"
	"github.com/ashita-ai/kiroku/internal/research"
	"github.com/ashita-ai/kiroku/internal/similarity"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/telemetry"
	"github.com/ashita-ai/kiroku/migrations"
)

var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KIROKU_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("kiroku worker starting", "version", version, "poll_interval", cfg.WorkerPollInterval)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName+"-worker", version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// The worker publishes NOTIFY through the pool; it never listens, so no
	// dedicated notify connection.
	db, err := storage.New(ctx, cfg.DatabaseURL, "", logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	llmClient := llm.NewGroqClient(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.CompletionModel,
		cfg.EmbeddingModel, cfg.EmbeddingDimensions, logger)
	engine := similarity.NewEngine(db)

	var researcher jobs.Researcher
	if cfg.TavilyAPIKey != "" {
		researcher = research.NewClient(cfg.TavilyAPIKey, cfg.TavilyBaseURL, logger)
		logger.Info("web research: enabled")
	} else {
		logger.Info("web research: disabled (no TAVILY_API_KEY)")
	}

	queue, err := jobs.NewQueue(db, logger)
	if err != nil {
		return fmt.Errorf("jobs: %w", err)
	}
	handlers := jobs.NewHandlers(db, llmClient, engine, researcher, logger)
	worker := jobs.NewWorker(queue, handlers, cfg.WorkerPollInterval, logger)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
