package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/cashflow/internal/adapter/http/handler"
	apimiddleware "github.com/iho/cashflow/internal/adapter/http/middleware"
	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/infrastructure/auth"
	"github.com/iho/cashflow/internal/usecase"
)

func TestNewRouter_HealthEndpointAvailable(t *testing.T) {
	router := NewRouter(newRouterConfig())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected /health to return 200, got %d", rec.Code)
	}
}

func TestNewRouter_RateLimiterBlocksExcessRequests(t *testing.T) {
	rl := apimiddleware.NewRateLimiter(1, 1)
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.RateLimiter = rl
	}))

	req1 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req1.RemoteAddr = "1.2.3.4:1234"
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req2.RemoteAddr = "1.2.3.4:1234"
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
}

func TestNewRouter_IdempotencyMiddlewareInvokesStore(t *testing.T) {
	store := &stubIdempotencyStore{}
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.IdempotencyStore = store
	}))

	body := `{"direction":"outflow","amount":"10","currency":"USD"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apimiddleware.OwnerHeader, "owner-1")
	req.Header.Set(apimiddleware.IdempotencyKeyHeader, "key-123")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.checkedKey != "owner-1:key-123" {
		t.Fatalf("expected owner-scoped key, got %q", store.checkedKey)
	}
	if !store.updated {
		t.Fatal("expected the response to be stored")
	}
}

func TestNewRouter_RequiresOwner(t *testing.T) {
	router := NewRouter(newRouterConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/forecast", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestNewRouter_OperatorRoutes(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.JWTManager = jwtManager
	}))

	tests := []struct {
		name     string
		role     auth.Role
		wantCode int
	}{
		{name: "owner is forbidden", role: auth.RoleOwner, wantCode: http.StatusForbidden},
		{name: "operator is allowed", role: auth.RoleOperator, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwtManager.Generate("owner-1", tt.role)
			if err != nil {
				t.Fatalf("generate token: %v", err)
			}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/consistency", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestNewRouter_RegistersKeyRoutes(t *testing.T) {
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.MetricsHandler = http.NotFoundHandler()
	}))

	chiRoutes, ok := router.(chi.Router)
	if !ok {
		t.Fatal("router does not implement chi.Routes")
	}

	seen := map[string]bool{}
	if err := chi.Walk(chiRoutes, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		seen[method+" "+route] = true
		return nil
	}); err != nil {
		t.Fatalf("walk failed: %v", err)
	}

	expected := []string{
		"GET /health",
		"GET /ready",
		"GET /metrics",
		"GET /api/v1/forecast",
		"GET /api/v1/alerts/",
		"POST /api/v1/alerts/evaluate",
		"PUT /api/v1/alerts/thresholds",
		"POST /api/v1/alerts/{id}/snooze",
		"POST /api/v1/obligations/",
		"POST /api/v1/obligations/{id}/deactivate",
		"POST /api/v1/transactions/",
		"DELETE /api/v1/transactions/{id}",
		"GET /api/v1/balances/",
		"PUT /api/v1/balances/{scope}",
		"GET /api/v1/balances/{scope}/history",
		"POST /api/v1/materializations",
		"GET /api/v1/materializations/{id}",
		"GET /api/v1/ledger/consistency",
	}

	for _, route := range expected {
		if !seen[route] {
			t.Fatalf("expected route %s to be registered", route)
		}
	}
}

func newRouterConfig(opts ...func(*RouterConfig)) RouterConfig {
	services := &stubServices{}

	cfg := RouterConfig{
		HealthHandler:          handler.NewHealthHandler(),
		ObligationHandler:      handler.NewObligationHandler(services),
		LedgerHandler:          handler.NewLedgerHandler(services, services),
		ForecastHandler:        handler.NewForecastHandler(services),
		AlertHandler:           handler.NewAlertHandler(services),
		MaterializationHandler: handler.NewMaterializationHandler(services, services),
		Logger:                 zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// stubServices answers every handler with empty results.
type stubServices struct{}

func (stubServices) Create(ctx context.Context, input usecase.CreateObligationInput) (domain.Obligation, error) {
	return &domain.FixedItem{ObligationBase: domain.ObligationBase{ID: "obl", OwnerID: input.OwnerID}}, nil
}

func (stubServices) Get(ctx context.Context, ownerID, id string) (domain.Obligation, error) {
	return nil, domain.ErrObligationNotFound
}

func (stubServices) ListByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]domain.Obligation, error) {
	return nil, nil
}

func (stubServices) Deactivate(ctx context.Context, ownerID, id string) (domain.Obligation, error) {
	return nil, domain.ErrObligationNotFound
}

func (stubServices) RecordTransaction(ctx context.Context, input usecase.RecordTransactionInput) (*domain.LedgerTransaction, error) {
	return &domain.LedgerTransaction{ID: "tx", OwnerID: input.OwnerID, Amount: input.Amount}, nil
}

func (stubServices) GetTransaction(ctx context.Context, ownerID, txID string) (*domain.LedgerTransaction, error) {
	return nil, domain.ErrTransactionNotFound
}

func (stubServices) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*domain.LedgerTransaction, error) {
	return nil, nil
}

func (stubServices) SetCurrentBalance(ctx context.Context, input usecase.SetBalanceInput) (*domain.BalanceSnapshot, error) {
	return &domain.BalanceSnapshot{ID: "bal", OwnerID: input.OwnerID, Scope: input.Scope, IsCurrent: true}, nil
}

func (stubServices) CurrentBalances(ctx context.Context, ownerID string) ([]*domain.BalanceSnapshot, error) {
	return nil, nil
}

func (stubServices) BalanceHistory(ctx context.Context, ownerID, scope string, limit, offset int) ([]*domain.BalanceSnapshot, error) {
	return nil, nil
}

func (stubServices) ReversePayment(ctx context.Context, ownerID, txID string) (*domain.LedgerTransaction, error) {
	return nil, domain.ErrTransactionNotFound
}

func (stubServices) Project(ctx context.Context, ownerID string, horizonDays int, asOf time.Time) ([]domain.ForecastPoint, error) {
	return nil, nil
}

func (stubServices) Evaluate(ctx context.Context, ownerID string) ([]*domain.Alert, error) {
	return nil, nil
}

func (stubServices) List(ctx context.Context, ownerID string, includeHidden bool) ([]*domain.Alert, error) {
	return nil, nil
}

func (stubServices) MarkRead(ctx context.Context, ownerID, id string) (*domain.Alert, error) {
	return nil, domain.ErrAlertNotFound
}

func (stubServices) Dismiss(ctx context.Context, ownerID, id string) (*domain.Alert, error) {
	return nil, domain.ErrAlertNotFound
}

func (stubServices) Snooze(ctx context.Context, ownerID, id string, until time.Time) (*domain.Alert, error) {
	return nil, domain.ErrAlertNotFound
}

func (stubServices) GetThresholds(ctx context.Context, ownerID string) (*domain.AlertThresholds, error) {
	return &domain.AlertThresholds{OwnerID: ownerID}, nil
}

func (stubServices) SetThresholds(ctx context.Context, t *domain.AlertThresholds) (*domain.AlertThresholds, error) {
	return t, nil
}

func (stubServices) RunMaterialization(ctx context.Context, date time.Time) (*domain.ProcessingRun, error) {
	return &domain.ProcessingRun{ID: "run", RunDate: date, Status: domain.RunCompleted}, nil
}

func (stubServices) GetRun(ctx context.Context, id string) (*domain.ProcessingRun, error) {
	return nil, domain.ErrRunNotFound
}

func (stubServices) ListRuns(ctx context.Context, limit, offset int) ([]*domain.ProcessingRun, error) {
	return nil, nil
}

func (stubServices) Check(ctx context.Context) (*usecase.ConsistencyReport, error) {
	return &usecase.ConsistencyReport{Consistent: true}, nil
}

type stubIdempotencyStore struct {
	checkedKey string
	updated    bool
}

func (s *stubIdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	s.checkedKey = key
	return false, nil, nil
}

func (s *stubIdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	s.updated = true
	return nil
}

func (s *stubIdempotencyStore) Release(ctx context.Context, key string) error {
	return nil
}
