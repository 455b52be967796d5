package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
	"github.com/alanyoungcy/yieldrouter/internal/server/handler"
	"github.com/alanyoungcy/yieldrouter/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is requests per RateWindow per client IP. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health       *handler.HealthHandler
	Allocation   *handler.AllocationHandler
	Deposits     *handler.DepositHandler
	Withdrawals  *handler.WithdrawHandler
	Positions    *handler.PositionHandler
	Transactions *handler.TransactionHandler
	Providers    *handler.ProviderHandler
}

// Server is the yield router's HTTP API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in middleware. limiter
// and gatherer may be nil.
func NewServer(cfg Config, h Handlers, limiter domain.RateLimiter, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/ready", h.Health.Ready)

	mux.HandleFunc("GET /api/allocation", h.Allocation.GetAllocation)
	mux.HandleFunc("GET /api/quotes", h.Allocation.ListQuotes)

	mux.HandleFunc("POST /api/deposits/plan", h.Deposits.CreatePlan)

	mux.HandleFunc("POST /api/withdrawals/plan", h.Withdrawals.CreatePlan)
	mux.HandleFunc("GET /api/withdrawals/preview", h.Withdrawals.Preview)
	mux.HandleFunc("POST /api/withdrawals/optimize", h.Withdrawals.Optimize)

	mux.HandleFunc("GET /api/positions/{user}", h.Positions.ListPositions)
	mux.HandleFunc("POST /api/ledger/events", h.Positions.ApplyEvent)
	mux.HandleFunc("POST /api/ledger/valuations", h.Positions.UpdateValuation)

	mux.HandleFunc("GET /api/transactions/{user}", h.Transactions.ListTransactions)

	mux.HandleFunc("GET /api/providers/health", h.Providers.Health)
	mux.HandleFunc("DELETE /api/cache", h.Providers.InvalidateCache)

	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	var handlerChain http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		handlerChain = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(handlerChain)
	}
	handlerChain = middleware.Auth(cfg.APIKey, "/api/health", "/api/ready", "/metrics")(handlerChain)
	handlerChain = middleware.Logging(logger)(handlerChain)
	handlerChain = middleware.CORS(cfg.CORSOrigins)(handlerChain)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handlerChain,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Handler returns the full middleware chain, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
