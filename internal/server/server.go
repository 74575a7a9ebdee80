package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kiroku/internal/notify"
	"github.com/ashita-ai/kiroku/internal/research"
	"github.com/ashita-ai/kiroku/internal/service/decisions"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// Server is the Kiroku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Registry, Researcher, MCPServer.
type Config struct {
	DB          *storage.DB
	DecisionSvc *decisions.Service
	Logger      *slog.Logger

	Registry   *notify.Registry
	Researcher *research.Client
	MCPServer  *mcpserver.MCPServer

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	SSEHeartbeat        time.Duration
	DefaultUserID       uuid.UUID
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := NewHandlers(HandlersDeps{
		DB:           cfg.DB,
		DecisionSvc:  cfg.DecisionSvc,
		Registry:     cfg.Registry,
		Researcher:   cfg.Researcher,
		Logger:       cfg.Logger,
		Version:      cfg.Version,
		SSEHeartbeat: cfg.SSEHeartbeat,
	})

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/decisions", h.HandleCreateDecision)
	mux.HandleFunc("GET /v1/decisions", h.HandleListDecisions)
	mux.HandleFunc("GET /v1/decisions/{id}", h.HandleGetDecision)
	mux.HandleFunc("POST /v1/decisions/{id}/plan/confirm", h.HandleConfirmPlan)
	mux.HandleFunc("PUT /v1/decisions/{id}/plan", h.HandleUpdatePlan)
	mux.HandleFunc("POST /v1/decisions/{id}/complete", h.HandleCompleteDecision)
	mux.HandleFunc("DELETE /v1/decisions/{id}", h.HandleDeleteDecision)
	mux.HandleFunc("GET /v1/decisions/{id}/events", h.HandleSubscribe)
	mux.HandleFunc("POST /v1/similar", h.HandleFindSimilar)
	mux.HandleFunc("POST /v1/research", h.HandleResearch)

	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	mux.HandleFunc("GET /healthz", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → user → body limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = bodyLimitMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = userMiddleware(cfg.DefaultUserID, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
