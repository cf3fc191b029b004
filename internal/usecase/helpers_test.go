package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
	"github.com/iho/cashflow/internal/usecase/mocks"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// retryDuplicates re-runs the operation while it loses the current-balance race.
type retryDuplicates struct {
	attempts int
}

func (r retryDuplicates) Retry(ctx context.Context, operation func() error) error {
	var err error
	for range r.attempts {
		if err = operation(); !errors.Is(err, domain.ErrDuplicateCurrentBalance) {
			return err
		}
	}
	return err
}

var testThresholds = domain.AlertThresholds{
	LowBalance:               dec("100.00"),
	LargePayment:             dec("5000.00"),
	LargePaymentWarningRatio: dec("0.5"),
	LookaheadDays:            30,
}

type harness struct {
	txManager   *mocks.MemoryTransactionManager
	obligations *mocks.MemoryObligationRepository
	ledgerRepo  *mocks.MemoryLedgerRepository
	balances    *mocks.MemoryBalanceRepository
	alerts      *mocks.MemoryAlertRepository
	thresholds  *mocks.MemoryThresholdRepository
	runs        *mocks.MemoryRunRepository
	outbox      *mocks.MemoryOutboxRepository
	audit       *mocks.MemoryAuditRepository
	cache       *mocks.MemoryForecastCache
	ids         *mocks.SequenceIDGenerator
	clock       *clock

	ledger       *usecase.LedgerUseCase
	forecast     *usecase.ForecastUseCase
	alerting     *usecase.AlertUseCase
	materializer *usecase.MaterializationUseCase
	consistency  *usecase.ConsistencyUseCase
}

func newHarness(t *testing.T, now time.Time, obligations ...domain.Obligation) *harness {
	t.Helper()

	h := &harness{
		txManager:   mocks.NewMemoryTransactionManager(),
		obligations: mocks.NewMemoryObligationRepository(obligations...),
		ledgerRepo:  mocks.NewMemoryLedgerRepository(),
		balances:    mocks.NewMemoryBalanceRepository(),
		alerts:      mocks.NewMemoryAlertRepository(),
		thresholds:  mocks.NewMemoryThresholdRepository(),
		runs:        mocks.NewMemoryRunRepository(),
		outbox:      mocks.NewMemoryOutboxRepository(),
		audit:       mocks.NewMemoryAuditRepository(),
		cache:       mocks.NewMemoryForecastCache(),
		ids:         mocks.NewSequenceIDGenerator(),
		clock:       &clock{now: now},
	}

	h.ledger = usecase.NewLedgerUseCase(h.txManager, h.ledgerRepo, h.balances, h.audit, h.outbox,
		retryDuplicates{attempts: 3}, h.ids).
		WithCache(h.cache).
		WithClock(h.clock.Now)

	h.forecast = usecase.NewForecastUseCase(h.obligations, h.ledgerRepo, h.balances, usecase.ForecastConfig{}).
		WithCache(h.cache).
		WithClock(h.clock.Now)

	h.alerting = usecase.NewAlertUseCase(h.txManager, h.alerts, h.thresholds, h.outbox, h.forecast, h.ids, testThresholds).
		WithClock(h.clock.Now)

	h.materializer = usecase.NewMaterializationUseCase(h.txManager, h.obligations, h.ledgerRepo, h.runs, h.audit,
		h.outbox, h.ledger, h.ids, usecase.MaterializationConfig{Workers: 2, MaxCatchUpDays: 60}).
		WithCache(h.cache).
		WithAlerts(h.alerting).
		WithClock(h.clock.Now)

	h.consistency = usecase.NewConsistencyUseCase(h.obligations, h.ledgerRepo, h.balances).
		WithClock(h.clock.Now)

	return h
}

func (h *harness) setBalance(t *testing.T, ownerID, amount string) {
	t.Helper()
	if _, err := h.ledger.SetCurrentBalance(context.Background(), usecase.SetBalanceInput{
		OwnerID:  ownerID,
		Amount:   dec(amount),
		Currency: "USD",
	}); err != nil {
		t.Fatalf("set balance: %v", err)
	}
}

func (h *harness) balance(t *testing.T, ownerID string) decimal.Decimal {
	t.Helper()
	b, err := h.balances.GetCurrent(context.Background(), ownerID, domain.DefaultScope)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return b.Amount
}

func base(id, ownerID, name, amount string, direction domain.Direction, start time.Time) domain.ObligationBase {
	return domain.ObligationBase{
		ID:        id,
		OwnerID:   ownerID,
		Scope:     domain.DefaultScope,
		Name:      name,
		Direction: direction,
		Currency:  "USD",
		Amount:    decimal.RequireFromString(amount),
		Active:    true,
		StartDate: start,
	}
}

func rent(ownerID string) *domain.FixedItem {
	return &domain.FixedItem{
		ObligationBase: base("rent", ownerID, "Rent", "2000.00", domain.DirectionOutflow, day(2024, 1, 1)),
		DayOfMonth:     1,
	}
}

func phonePlan(ownerID string) *domain.InstallmentPlan {
	return &domain.InstallmentPlan{
		ObligationBase: base("phone", ownerID, "Phone", "333.33", domain.DirectionOutflow, day(2024, 1, 15)),
		TotalAmount:    dec("1000.00"),
		PeriodCount:    3,
		FirstDueDate:   day(2024, 1, 15),
	}
}

func assertAmount(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s: expected %s, got %s", what, want, got.StringFixed(2))
	}
}
