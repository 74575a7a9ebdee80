// Command kiroku runs the API server: HTTP + SSE + MCP, with the notifier
// bridge forwarding Postgres NOTIFY events to live subscribers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kiroku/internal/config"
	"github.com/ashita-ai/kiroku/internal/jobs"
	"github.com/ashita-ai/kiroku/internal/llm"
	"github.com/ashita-ai/kiroku/internal/mcp"
	"github.com/ashita-ai/kiroku/internal/notify"
	"github.com/ashita-ai/kiroku/internal/research"
	"github.com/ashita-ai/kiroku/internal/server"
	"github.com/ashita-ai/kiroku/internal/service/decisions"
	"github.com/ashita-ai/kiroku/internal/similarity"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/telemetry"
	"github.com/ashita-ai/kiroku/migrations"
)

// version is set at build time via -ldflags.
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
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("kiroku starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
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

	queue, err := jobs.NewQueue(db, logger)
	if err != nil {
		return fmt.Errorf("jobs: %w", err)
	}

	decisionSvc := decisions.New(db, queue, llmClient, engine, logger)

	var researcher *research.Client
	if cfg.TavilyAPIKey != "" {
		researcher = research.NewClient(cfg.TavilyAPIKey, cfg.TavilyBaseURL, logger)
		logger.Info("web research: enabled")
	} else {
		logger.Info("web research: disabled (no TAVILY_API_KEY)")
	}

	// Notifier: NOTIFY events from Postgres fan out to SSE subscribers.
	registry := notify.NewRegistry()
	bridge := notify.NewBridge(db, registry, logger)

	mcpSrv := mcp.New(decisionSvc, cfg.DefaultUserID, logger)

	srv := server.New(server.Config{
		DB:                  db,
		DecisionSvc:         decisionSvc,
		Logger:              logger,
		Registry:            registry,
		Researcher:          researcher,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		SSEHeartbeat:        cfg.SSEHeartbeat,
		DefaultUserID:       cfg.DefaultUserID,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bridge.Start(gctx)
		return nil
	})

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ReadTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
