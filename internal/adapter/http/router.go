package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/iho/cashflow/internal/adapter/http/handler"
	"github.com/iho/cashflow/internal/adapter/http/middleware"
	"github.com/iho/cashflow/internal/infrastructure/auth"
	"github.com/iho/cashflow/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	ObligationHandler      *handler.ObligationHandler
	LedgerHandler          *handler.LedgerHandler
	ForecastHandler        *handler.ForecastHandler
	AlertHandler           *handler.AlertHandler
	MaterializationHandler *handler.MaterializationHandler
	HealthHandler          *handler.HealthHandler

	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration
	// JWTManager enables bearer-token owner resolution. Without it the
	// X-Owner-ID header is trusted.
	JWTManager     *auth.JWTManager
	RateLimiter    *middleware.RateLimiter
	MetricsHandler http.Handler
	Logger         zerolog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Metrics)
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Limit)
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OwnerMiddleware(cfg.JWTManager))

		// Idempotency middleware for mutating requests
		if cfg.IdempotencyStore != nil {
			r.Use(middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL, cfg.Logger).Wrap)
		}

		r.Get("/forecast", cfg.ForecastHandler.Get)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", cfg.AlertHandler.List)
			r.Post("/evaluate", cfg.AlertHandler.Evaluate)
			r.Get("/thresholds", cfg.AlertHandler.GetThresholds)
			r.Put("/thresholds", cfg.AlertHandler.SetThresholds)
			r.Post("/{id}/read", cfg.AlertHandler.MarkRead)
			r.Post("/{id}/dismiss", cfg.AlertHandler.Dismiss)
			r.Post("/{id}/snooze", cfg.AlertHandler.Snooze)
		})

		r.Route("/obligations", func(r chi.Router) {
			r.Post("/", cfg.ObligationHandler.Create)
			r.Get("/", cfg.ObligationHandler.List)
			r.Get("/{id}", cfg.ObligationHandler.Get)
			r.Post("/{id}/deactivate", cfg.ObligationHandler.Deactivate)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", cfg.LedgerHandler.RecordTransaction)
			r.Get("/", cfg.LedgerHandler.ListTransactions)
			r.Get("/{id}", cfg.LedgerHandler.GetTransaction)
			r.Delete("/{id}", cfg.LedgerHandler.ReverseTransaction)
		})

		r.Route("/balances", func(r chi.Router) {
			r.Get("/", cfg.LedgerHandler.ListBalances)
			r.Put("/{scope}", cfg.LedgerHandler.SetBalance)
			r.Get("/{scope}/history", cfg.LedgerHandler.BalanceHistory)
		})

		// Operator endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator)

			r.Post("/materializations", cfg.MaterializationHandler.Run)
			r.Get("/materializations", cfg.MaterializationHandler.ListRuns)
			r.Get("/materializations/{id}", cfg.MaterializationHandler.GetRun)
			r.Get("/ledger/consistency", cfg.MaterializationHandler.CheckConsistency)
		})
	})

	return r
}
