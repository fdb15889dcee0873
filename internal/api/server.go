// Package api exposes the engine over a thin HTTP surface: run triggers,
// alert and audit queries, ring signals and reproducibility exports.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/network"
	"github.com/opensource-finance/harrier/internal/report"
	"github.com/opensource-finance/harrier/internal/repository"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo *repository.SQLRepository, chain *audit.Chain, cache domain.Cache, orchestrator *engine.Orchestrator, builder *network.Builder, reporter *report.Reporter, version string) *Server {
	handler := NewHandler(repo, chain, cache, orchestrator, builder, reporter, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Run orchestration
	router.Post("/runs", handler.StartRun)
	router.Get("/runs/{id}/export", handler.ExportRun)
	router.Get("/runs/{id}/summary", handler.SummarizeRun)

	// Network graph
	router.Post("/network/builds", handler.BuildNetwork)
	router.Get("/accounts/{id}/ring", handler.GetRingSignal)

	// Queries
	router.Get("/alerts", handler.ListAlerts)
	router.Get("/transactions/{id}", handler.GetTransaction)

	// Audit chain
	router.Get("/audit/entries", handler.ListAuditEntries)
	router.Get("/audit/verify", handler.VerifyChain)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
