package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: constraint}
}

func beginTx(t *testing.T, mock pgxmock.PgxPoolIface) usecase.Transaction {
	t.Helper()
	mock.ExpectBegin()
	tx, err := newTxManagerWithPool(mock).Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return tx
}

func TestMapUniqueViolation(t *testing.T) {
	other := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"obligation period", uniqueViolation(constraintObligationPeriod), domain.ErrMaterializationConflict},
		{"current balance", uniqueViolation(constraintOneCurrent), domain.ErrDuplicateCurrentBalance},
		{"alert dedup", uniqueViolation(constraintAlertDedupKey), domain.ErrDuplicateAlert},
		{"unrelated constraint", uniqueViolation("obligations_pkey"), nil},
		{"other error", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapUniqueViolation(tt.err)
			if tt.want == nil {
				if got != tt.err {
					t.Fatalf("expected the error unchanged, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestLedgerRepositoryCreateConflict(t *testing.T) {
	mock := newMockPool(t)
	tx := beginTx(t, mock)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_transactions")).
		WithArgs("tx-1", "owner-1", domain.DefaultScope, pgxmock.AnyArg(), pgxmock.AnyArg(),
			"outflow", pgxmock.AnyArg(), "USD", pgxmock.AnyArg(), "materialized", "", pgxmock.AnyArg()).
		WillReturnError(uniqueViolation(constraintObligationPeriod))
	mock.ExpectRollback()

	obligationID, idx := "loan-1", 2
	err := NewLedgerRepository(mock).Create(context.Background(), tx, &domain.LedgerTransaction{
		ID:           "tx-1",
		OwnerID:      "owner-1",
		ObligationID: &obligationID,
		PeriodIndex:  &idx,
		Direction:    domain.DirectionOutflow,
		Amount:       decimal.RequireFromString("200.00"),
		Currency:     "USD",
		OccurredOn:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Origin:       domain.OriginMaterialized,
	})
	if !errors.Is(err, domain.ErrMaterializationConflict) {
		t.Fatalf("expected ErrMaterializationConflict, got %v", err)
	}

	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	assertExpectations(t, mock)
}

func TestLedgerRepositoryGetByIDNotFound(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM ledger_transactions WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := NewLedgerRepository(mock).GetByID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
	assertExpectations(t, mock)
}

func TestLedgerRepositoryFindByPeriod(t *testing.T) {
	mock := newMockPool(t)
	occurred := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"id", "owner_id", "scope", "obligation_id", "period_index", "direction", "amount",
		"currency", "occurred_on", "origin", "description", "created_at",
	}).AddRow("tx-1", "owner-1", "primary", "phone", int64(1), "outflow",
		decimalToNumeric(decimal.RequireFromString("333.33")), "USD", occurred, "materialized", "", occurred)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE obligation_id = $1 AND period_index = $2")).
		WithArgs("phone", 1).
		WillReturnRows(rows)

	txn, err := NewLedgerRepository(mock).FindByPeriod(context.Background(), "phone", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	key, ok := txn.Key()
	if !ok || key.ObligationID != "phone" || key.PeriodIndex != 1 {
		t.Fatalf("unexpected period key %+v", key)
	}
	if !txn.Amount.Equal(decimal.RequireFromString("333.33")) {
		t.Errorf("expected 333.33, got %s", txn.Amount)
	}
	if !txn.OccurredOn.Equal(occurred) {
		t.Errorf("expected %s, got %s", occurred, txn.OccurredOn)
	}
	assertExpectations(t, mock)
}

func TestBalanceRepositoryLockAndInsertConflict(t *testing.T) {
	mock := newMockPool(t)
	tx := beginTx(t, mock)

	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).
		WithArgs("owner-1", "savings").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO balance_snapshots")).
		WithArgs("snap-1", "owner-1", "savings", pgxmock.AnyArg(), "USD", true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(uniqueViolation(constraintOneCurrent))
	mock.ExpectRollback()

	repo := NewBalanceRepository(mock)
	ctx := context.Background()

	if err := repo.LockScope(ctx, tx, "owner-1", "savings"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	err := repo.Insert(ctx, tx, &domain.BalanceSnapshot{
		ID:        "snap-1",
		OwnerID:   "owner-1",
		Scope:     "savings",
		Amount:    decimal.RequireFromString("10.00"),
		Currency:  "USD",
		IsCurrent: true,
	})
	if !errors.Is(err, domain.ErrDuplicateCurrentBalance) {
		t.Fatalf("expected ErrDuplicateCurrentBalance, got %v", err)
	}

	_ = tx.Rollback(ctx)
	assertExpectations(t, mock)
}

func TestBalanceRepositoryGetCurrentDefaultsScope(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM balance_snapshots")).
		WithArgs("owner-1", domain.DefaultScope).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := NewBalanceRepository(mock).GetCurrent(context.Background(), "owner-1", "")
	if !errors.Is(err, domain.ErrBalanceNotFound) {
		t.Fatalf("expected ErrBalanceNotFound, got %v", err)
	}
	assertExpectations(t, mock)
}

func TestBalanceRepositoryFindMultipleCurrent(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(regexp.QuoteMeta("HAVING COUNT(*) > 1")).
		WillReturnRows(pgxmock.NewRows([]string{"owner_id", "scope", "count"}).AddRow("owner-1", "primary", int64(2)))

	counts, err := NewBalanceRepository(mock).FindMultipleCurrent(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(counts) != 1 || counts[0].Count != 2 || counts[0].OwnerID != "owner-1" {
		t.Fatalf("unexpected counts %+v", counts)
	}
	assertExpectations(t, mock)
}

func TestObligationRepositoryScansInstallmentPlan(t *testing.T) {
	mock := newMockPool(t)
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"id", "owner_id", "scope", "kind", "name", "direction", "currency", "amount", "active",
		"start_date", "end_date", "day_of_month", "total_amount", "period_count", "first_due_date",
		"principal", "annual_interest_rate", "monthly_payment", "billing_cycle", "billing_day",
		"completed_periods", "created_at", "updated_at",
	}).AddRow(
		"phone", "owner-1", "primary", "installment_plan", "Phone", "outflow", "USD", nil, true,
		start, nil, nil, decimalToNumeric(decimal.RequireFromString("1000.00")), int64(3), start,
		nil, nil, nil, nil, nil,
		int32(2), start, start,
	)

	mock.ExpectQuery(regexp.QuoteMeta("FROM obligations WHERE id = $1")).
		WithArgs("phone").
		WillReturnRows(rows)

	o, err := NewObligationRepository(mock).GetByID(context.Background(), "phone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plan, ok := o.(*domain.InstallmentPlan)
	if !ok {
		t.Fatalf("expected *domain.InstallmentPlan, got %T", o)
	}
	if plan.PeriodCount != 3 || plan.PeriodsCompleted != 2 {
		t.Errorf("unexpected counters %d/%d", plan.PeriodsCompleted, plan.PeriodCount)
	}
	if !plan.TotalAmount.Equal(decimal.RequireFromString("1000")) {
		t.Errorf("unexpected total %s", plan.TotalAmount)
	}
	if plan.EndDate != nil {
		t.Errorf("expected no end date, got %v", plan.EndDate)
	}
	assertExpectations(t, mock)
}

func TestObligationRepositoryUpdateProgressMissing(t *testing.T) {
	mock := newMockPool(t)
	tx := beginTx(t, mock)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE obligations")).
		WithArgs("gone", 1, true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := NewObligationRepository(mock).UpdateProgress(context.Background(), tx, "gone", 1, true, now)
	if !errors.Is(err, domain.ErrObligationNotFound) {
		t.Fatalf("expected ErrObligationNotFound, got %v", err)
	}
	_ = tx.Rollback(context.Background())
	assertExpectations(t, mock)
}

func TestObligationToRowSubscriptionColumns(t *testing.T) {
	row, err := obligationToRow(&domain.Subscription{
		ObligationBase: domain.ObligationBase{ID: "s", Amount: decimal.RequireFromString("9.99")},
		BillingCycle:   domain.BillingWeekly,
		BillingDay:     3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !row.BillingCycle.Valid || row.BillingCycle.String != "weekly" || row.BillingDay.Int32 != 3 {
		t.Fatalf("unexpected subscription columns %+v", row)
	}
	if row.DayOfMonth.Valid || row.PeriodCount.Valid {
		t.Fatalf("expected other variants' columns to be NULL")
	}
}

func TestAlertRepositoryCreateDuplicate(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alerts")).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(uniqueViolation(constraintAlertDedupKey))

	err := NewAlertRepository(mock).Create(context.Background(), nil, &domain.Alert{
		ID:       "a-1",
		OwnerID:  "owner-1",
		Type:     domain.AlertLowBalance,
		Severity: domain.SeverityWarning,
		DedupKey: "low_balance|total|2024-03",
	})
	if !errors.Is(err, domain.ErrDuplicateAlert) {
		t.Fatalf("expected ErrDuplicateAlert, got %v", err)
	}
	assertExpectations(t, mock)
}

func TestAlertRepositoryUpdateStateMissing(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts")).
		WithArgs("a-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewAlertRepository(mock).UpdateState(context.Background(), &domain.Alert{ID: "a-1"})
	if !errors.Is(err, domain.ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
	assertExpectations(t, mock)
}

func TestThresholdRepositoryGetMissing(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM alert_thresholds")).
		WithArgs("owner-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := NewThresholdRepository(mock).Get(context.Background(), "owner-1")
	if !errors.Is(err, domain.ErrNoThresholds) {
		t.Fatalf("expected ErrNoThresholds, got %v", err)
	}
	assertExpectations(t, mock)
}

func TestRunRepositoryGetByIDDecodesDetails(t *testing.T) {
	mock := newMockPool(t)
	runDate := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"id", "run_date", "status", "owners", "catch_up_dates", "started_at", "finished_at", "created_at",
	}).AddRow("run-1", runDate, "failed",
		[]byte(`[{"owner_id":"owner-1","materialized":2,"skipped":0,"failed":1,"errors":["boom"]}]`),
		[]byte(`["2024-03-09","2024-03-10"]`),
		runDate, runDate, runDate)

	mock.ExpectQuery(regexp.QuoteMeta("FROM processing_runs WHERE id = $1")).
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := NewRunRepository(mock).GetByID(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunFailed || len(run.Owners) != 1 || run.Owners[0].Failed != 1 {
		t.Fatalf("unexpected run %+v", run)
	}
	if len(run.CatchUpDates) != 2 || !run.CatchUpDates[1].Equal(runDate) {
		t.Fatalf("unexpected catch-up dates %v", run.CatchUpDates)
	}
	if run.FinishedAt == nil {
		t.Fatalf("expected finished_at")
	}
	assertExpectations(t, mock)
}

func TestRunRepositoryLastCompletedRunDateNone(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(run_date)")).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(nil))

	_, ok, err := NewRunRepository(mock).LastCompletedRunDate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no completed run")
	}
	assertExpectations(t, mock)
}

func TestAuditRepositoryListBuildsFilter(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE owner_id = $1 AND action = $2 AND resource_id = $3 ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5")).
		WithArgs("owner-1", string(domain.AuditActionTransactionReverse), "tx-1", 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "owner_id", "action", "resource_type", "resource_id",
			"before_state", "after_state", "status", "created_at",
		}).AddRow("audit-1", "owner-1", string(domain.AuditActionTransactionReverse), "transaction", "tx-1",
			[]byte(`{"amount":"10.00"}`), nil, "success", time.Now()))

	logs, err := NewAuditRepository(mock).List(context.Background(), domain.AuditFilter{
		OwnerID:    "owner-1",
		Action:     domain.AuditActionTransactionReverse,
		ResourceID: "tx-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 1 || logs[0].BeforeState["amount"] != "10.00" || logs[0].AfterState != nil {
		t.Fatalf("unexpected logs %+v", logs)
	}
	assertExpectations(t, mock)
}

func TestOutboxRepositoryCreateInTx(t *testing.T) {
	mock := newMockPool(t)
	tx := beginTx(t, mock)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WithArgs("evt-1", "tx-1", domain.AggregateTypeTransaction, domain.EventTypeTransactionReversed,
			[]byte(`{"transaction_id":"tx-1"}`), pgxmock.AnyArg(), pgxmock.AnyArg(), false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := NewOutboxRepository(mock).Create(context.Background(), tx, &domain.OutboxEvent{
		ID:            "evt-1",
		AggregateID:   "tx-1",
		AggregateType: domain.AggregateTypeTransaction,
		EventType:     domain.EventTypeTransactionReversed,
		Payload:       map[string]any{"transaction_id": "tx-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	assertExpectations(t, mock)
}
