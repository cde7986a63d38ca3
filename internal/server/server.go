// Package server exposes the mirror over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/server/handler"
	"github.com/alanyoungcy/marketmirror/internal/server/middleware"
	"github.com/alanyoungcy/marketmirror/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Trades     *handler.TradeHandler
	Resolution *handler.ResolutionHandler
	Audit      *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, rate limiting, auth) and attaches
// the WebSocket hub when one is given.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market state.
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/metadata", handlers.Markets.GetMetadata)
	mux.HandleFunc("GET /api/markets/{id}/volume", handlers.Markets.GetVolume)
	mux.HandleFunc("GET /api/markets/{id}/lp/{owner}", handlers.Markets.GetLPPosition)

	// Trading.
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Trades.Quote)
	mux.HandleFunc("POST /api/markets/{id}/trades", handlers.Trades.Execute)
	mux.HandleFunc("GET /api/markets/{id}/trades", handlers.Trades.ListExecutions)
	mux.HandleFunc("GET /api/trades/{tradeId}", handlers.Trades.GetExecution)

	// Resolution.
	mux.HandleFunc("GET /api/markets/{id}/resolution", handlers.Resolution.Get)
	mux.HandleFunc("GET /api/markets/{id}/resolution/actions", handlers.Resolution.Actions)
	mux.HandleFunc("GET /api/markets/{id}/resolution/history", handlers.Resolution.History)
	mux.HandleFunc("POST /api/markets/{id}/resolution/propose", handlers.Resolution.Propose)
	mux.HandleFunc("POST /api/markets/{id}/resolution/dispute", handlers.Resolution.Dispute)
	mux.HandleFunc("POST /api/markets/{id}/resolution/finalize", handlers.Resolution.Finalize)
	mux.HandleFunc("POST /api/markets/{id}/resolution/ai", handlers.Resolution.RequestAI)
	mux.HandleFunc("GET /api/markets/{id}/resolution/ai", handlers.Resolution.AIHistory)
	mux.HandleFunc("GET /api/ai/requests/{requestId}", handlers.Resolution.AIStatus)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Outermost first: CORS answers preflights before anything else runs.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Ledger submissions wait for a receipt.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
