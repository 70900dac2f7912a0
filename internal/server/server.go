// Package server exposes the engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/server/handler"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/server/middleware"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimitPerMin int    // 0 disables rate limiting
}

// Handlers aggregates the HTTP handlers the server registers. A nil handler
// leaves its routes unregistered.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Opportunities *handler.OpportunityHandler
	Executions    *handler.ExecutionHandler
	Vaults        *handler.VaultHandler
	Statistics    *handler.StatisticsHandler
	Catalog       *handler.CatalogHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route on a ServeMux and wraps it in the
// middleware chain: CORS, logging, auth, then rate limiting.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, hub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed and wrapped handler without binding a port.
func NewHandler(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	if h := handlers.Health; h != nil {
		mux.HandleFunc("GET /api/health", h.HealthCheck)
	}
	if h := handlers.Status; h != nil {
		mux.HandleFunc("GET /api/status", h.GetStatus)
	}
	if h := handlers.Opportunities; h != nil {
		mux.HandleFunc("GET /api/opportunities", h.ListRecent)
	}
	if h := handlers.Executions; h != nil {
		mux.HandleFunc("GET /api/executions", h.ListExecutions)
		mux.HandleFunc("GET /api/executions/{id}", h.GetExecution)
	}
	if h := handlers.Vaults; h != nil {
		mux.HandleFunc("GET /api/vaults", h.ListVaults)
		mux.HandleFunc("GET /api/vaults/{asset}/movements", h.ListMovements)
		mux.HandleFunc("POST /api/vaults/{asset}/deposit", h.Deposit)
		mux.HandleFunc("POST /api/vaults/{asset}/withdraw", h.Withdraw)
		mux.HandleFunc("POST /api/vaults/reset", h.ResetVaults)
	}
	if h := handlers.Statistics; h != nil {
		mux.HandleFunc("GET /api/statistics/daily", h.DailyProfit)
		mux.HandleFunc("GET /api/error-logs", h.ErrorLogs)
		mux.HandleFunc("GET /api/audit", h.AuditLog)
	}
	if h := handlers.Catalog; h != nil {
		mux.HandleFunc("POST /api/catalog/refresh", h.Refresh)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimitPerMin, time.Minute, "/api/health")(h)
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Run starts the server and shuts it down when ctx is cancelled, waiting up
// to grace for in-flight requests.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
