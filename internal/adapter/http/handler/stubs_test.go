package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iho/cashflow/internal/adapter/http/middleware"
	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/infrastructure/auth"
	"github.com/iho/cashflow/internal/usecase"
)

func setChiURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func asOwner(req *http.Request, owner string) *http.Request {
	return req.WithContext(middleware.WithOwner(req.Context(), owner, auth.RoleOwner))
}

type obligationServiceStub struct {
	createFn     func(ctx context.Context, input usecase.CreateObligationInput) (domain.Obligation, error)
	getFn        func(ctx context.Context, ownerID, id string) (domain.Obligation, error)
	listFn       func(ctx context.Context, ownerID string, activeOnly bool) ([]domain.Obligation, error)
	deactivateFn func(ctx context.Context, ownerID, id string) (domain.Obligation, error)
}

func (s *obligationServiceStub) Create(ctx context.Context, input usecase.CreateObligationInput) (domain.Obligation, error) {
	return s.createFn(ctx, input)
}

func (s *obligationServiceStub) Get(ctx context.Context, ownerID, id string) (domain.Obligation, error) {
	return s.getFn(ctx, ownerID, id)
}

func (s *obligationServiceStub) ListByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]domain.Obligation, error) {
	return s.listFn(ctx, ownerID, activeOnly)
}

func (s *obligationServiceStub) Deactivate(ctx context.Context, ownerID, id string) (domain.Obligation, error) {
	return s.deactivateFn(ctx, ownerID, id)
}

type ledgerServiceStub struct {
	recordFn   func(ctx context.Context, input usecase.RecordTransactionInput) (*domain.LedgerTransaction, error)
	getFn      func(ctx context.Context, ownerID, txID string) (*domain.LedgerTransaction, error)
	listFn     func(ctx context.Context, ownerID string, limit, offset int) ([]*domain.LedgerTransaction, error)
	setFn      func(ctx context.Context, input usecase.SetBalanceInput) (*domain.BalanceSnapshot, error)
	balancesFn func(ctx context.Context, ownerID string) ([]*domain.BalanceSnapshot, error)
	historyFn  func(ctx context.Context, ownerID, scope string, limit, offset int) ([]*domain.BalanceSnapshot, error)
	reverseFn  func(ctx context.Context, ownerID, txID string) (*domain.LedgerTransaction, error)
}

func (s *ledgerServiceStub) RecordTransaction(ctx context.Context, input usecase.RecordTransactionInput) (*domain.LedgerTransaction, error) {
	return s.recordFn(ctx, input)
}

func (s *ledgerServiceStub) GetTransaction(ctx context.Context, ownerID, txID string) (*domain.LedgerTransaction, error) {
	return s.getFn(ctx, ownerID, txID)
}

func (s *ledgerServiceStub) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*domain.LedgerTransaction, error) {
	return s.listFn(ctx, ownerID, limit, offset)
}

func (s *ledgerServiceStub) SetCurrentBalance(ctx context.Context, input usecase.SetBalanceInput) (*domain.BalanceSnapshot, error) {
	return s.setFn(ctx, input)
}

func (s *ledgerServiceStub) CurrentBalances(ctx context.Context, ownerID string) ([]*domain.BalanceSnapshot, error) {
	return s.balancesFn(ctx, ownerID)
}

func (s *ledgerServiceStub) BalanceHistory(ctx context.Context, ownerID, scope string, limit, offset int) ([]*domain.BalanceSnapshot, error) {
	return s.historyFn(ctx, ownerID, scope, limit, offset)
}

func (s *ledgerServiceStub) ReversePayment(ctx context.Context, ownerID, txID string) (*domain.LedgerTransaction, error) {
	return s.reverseFn(ctx, ownerID, txID)
}

type forecastServiceStub struct {
	projectFn func(ctx context.Context, ownerID string, horizonDays int, asOf time.Time) ([]domain.ForecastPoint, error)
}

func (s *forecastServiceStub) Project(ctx context.Context, ownerID string, horizonDays int, asOf time.Time) ([]domain.ForecastPoint, error) {
	return s.projectFn(ctx, ownerID, horizonDays, asOf)
}

type alertServiceStub struct {
	evaluateFn      func(ctx context.Context, ownerID string) ([]*domain.Alert, error)
	listFn          func(ctx context.Context, ownerID string, includeHidden bool) ([]*domain.Alert, error)
	markReadFn      func(ctx context.Context, ownerID, id string) (*domain.Alert, error)
	dismissFn       func(ctx context.Context, ownerID, id string) (*domain.Alert, error)
	snoozeFn        func(ctx context.Context, ownerID, id string, until time.Time) (*domain.Alert, error)
	getThresholdsFn func(ctx context.Context, ownerID string) (*domain.AlertThresholds, error)
	setThresholdsFn func(ctx context.Context, t *domain.AlertThresholds) (*domain.AlertThresholds, error)
}

func (s *alertServiceStub) Evaluate(ctx context.Context, ownerID string) ([]*domain.Alert, error) {
	return s.evaluateFn(ctx, ownerID)
}

func (s *alertServiceStub) List(ctx context.Context, ownerID string, includeHidden bool) ([]*domain.Alert, error) {
	return s.listFn(ctx, ownerID, includeHidden)
}

func (s *alertServiceStub) MarkRead(ctx context.Context, ownerID, id string) (*domain.Alert, error) {
	return s.markReadFn(ctx, ownerID, id)
}

func (s *alertServiceStub) Dismiss(ctx context.Context, ownerID, id string) (*domain.Alert, error) {
	return s.dismissFn(ctx, ownerID, id)
}

func (s *alertServiceStub) Snooze(ctx context.Context, ownerID, id string, until time.Time) (*domain.Alert, error) {
	return s.snoozeFn(ctx, ownerID, id, until)
}

func (s *alertServiceStub) GetThresholds(ctx context.Context, ownerID string) (*domain.AlertThresholds, error) {
	return s.getThresholdsFn(ctx, ownerID)
}

func (s *alertServiceStub) SetThresholds(ctx context.Context, t *domain.AlertThresholds) (*domain.AlertThresholds, error) {
	return s.setThresholdsFn(ctx, t)
}

type materializationServiceStub struct {
	runFn      func(ctx context.Context, date time.Time) (*domain.ProcessingRun, error)
	getRunFn   func(ctx context.Context, id string) (*domain.ProcessingRun, error)
	listRunsFn func(ctx context.Context, limit, offset int) ([]*domain.ProcessingRun, error)
	checkFn    func(ctx context.Context) (*usecase.ConsistencyReport, error)
}

func (s *materializationServiceStub) RunMaterialization(ctx context.Context, date time.Time) (*domain.ProcessingRun, error) {
	return s.runFn(ctx, date)
}

func (s *materializationServiceStub) GetRun(ctx context.Context, id string) (*domain.ProcessingRun, error) {
	return s.getRunFn(ctx, id)
}

func (s *materializationServiceStub) ListRuns(ctx context.Context, limit, offset int) ([]*domain.ProcessingRun, error) {
	return s.listRunsFn(ctx, limit, offset)
}

func (s *materializationServiceStub) Check(ctx context.Context) (*usecase.ConsistencyReport, error) {
	return s.checkFn(ctx)
}
