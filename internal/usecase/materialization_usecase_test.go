package usecase_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
	"github.com/iho/cashflow/internal/usecase/mocks"
)

func TestMaterialization_RerunIsIdempotent(t *testing.T) {
	h := newHarness(t, day(2024, 4, 1), rent("owner-1"))
	h.setBalance(t, "owner-1", "1500.00")
	ctx := context.Background()

	run, err := h.materializer.RunMaterialization(ctx, day(2024, 4, 1))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if run.Status != domain.RunCompleted {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
	if materialized, _, _ := run.Totals(); materialized != 1 {
		t.Fatalf("expected 1 materialized period, got %d", materialized)
	}
	assertAmount(t, "balance after rent", h.balance(t, "owner-1"), "-500.00")

	run, err = h.materializer.RunMaterialization(ctx, day(2024, 4, 1))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	materialized, skipped, failed := run.Totals()
	if materialized != 0 || skipped != 1 || failed != 0 {
		t.Errorf("expected 0/1/0 on rerun, got %d/%d/%d", materialized, skipped, failed)
	}
	if n := len(h.ledgerRepo.All()); n != 1 {
		t.Errorf("expected a single ledger transaction, got %d", n)
	}
	assertAmount(t, "balance after rerun", h.balance(t, "owner-1"), "-500.00")

	// The first run re-evaluated alerts for the owner.
	alerts, _ := h.alerting.List(ctx, "owner-1", false)
	if len(alerts) == 0 || alerts[0].Severity != domain.SeverityCritical {
		t.Errorf("expected a critical alert after materialization, got %+v", alerts)
	}
}

func TestMaterialization_NothingDue(t *testing.T) {
	h := newHarness(t, day(2024, 4, 2), rent("owner-1"))

	run, err := h.materializer.RunMaterialization(context.Background(), day(2024, 4, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if materialized, skipped, failed := run.Totals(); materialized+skipped+failed != 0 {
		t.Errorf("expected nothing to happen, got %d/%d/%d", materialized, skipped, failed)
	}
	if run.Status != domain.RunCompleted || len(run.Owners) != 1 {
		t.Errorf("unexpected run %+v", run)
	}
}

func TestMaterialization_CatchUpCompletesInstallmentPlan(t *testing.T) {
	h := newHarness(t, day(2024, 1, 15), phonePlan("owner-1"))
	ctx := context.Background()

	if _, err := h.materializer.RunMaterialization(ctx, day(2024, 1, 15)); err != nil {
		t.Fatalf("first run: %v", err)
	}

	h.clock.Set(day(2024, 3, 15))
	run, err := h.materializer.RunMaterialization(ctx, day(2024, 3, 15))
	if err != nil {
		t.Fatalf("catch-up run: %v", err)
	}
	if len(run.CatchUpDates) != 59 {
		t.Errorf("expected 59 missed dates, got %d", len(run.CatchUpDates))
	}
	if !run.CatchUpDates[0].Equal(day(2024, 1, 16)) {
		t.Errorf("expected catch-up to start on 2024-01-16, got %s", run.CatchUpDates[0])
	}

	var amounts []string
	for _, txn := range h.ledgerRepo.All() {
		amounts = append(amounts, txn.Amount.StringFixed(2))
	}
	if want := []string{"333.33", "333.33", "333.34"}; !slices.Equal(amounts, want) {
		t.Errorf("expected installments %v, got %v", want, amounts)
	}
	assertAmount(t, "balance", h.balance(t, "owner-1"), "-1000.00")

	o, _ := h.obligations.GetByID(ctx, "phone")
	plan := o.(*domain.InstallmentPlan)
	if plan.PeriodsCompleted != 3 || plan.Active {
		t.Errorf("expected a completed inactive plan, got counter %d active %v", plan.PeriodsCompleted, plan.Active)
	}

	report, err := h.consistency.Check(ctx)
	if err != nil {
		t.Fatalf("consistency: %v", err)
	}
	if !report.Consistent || len(report.CounterDiscrepancies) != 0 {
		t.Errorf("expected a consistent ledger, got %+v", report)
	}
}

func TestMaterialization_CatchUpIsBounded(t *testing.T) {
	h := newHarness(t, day(2024, 1, 15), phonePlan("owner-1"))
	h.materializer = usecase.NewMaterializationUseCase(h.txManager, h.obligations, h.ledgerRepo, h.runs, h.audit,
		h.outbox, h.ledger, h.ids, usecase.MaterializationConfig{MaxCatchUpDays: 5}).
		WithClock(h.clock.Now)
	ctx := context.Background()

	if _, err := h.materializer.RunMaterialization(ctx, day(2024, 1, 15)); err != nil {
		t.Fatalf("first run: %v", err)
	}

	run, err := h.materializer.RunMaterialization(ctx, day(2024, 3, 15))
	if err != nil {
		t.Fatalf("bounded run: %v", err)
	}
	if len(run.CatchUpDates) != 5 || !run.CatchUpDates[0].Equal(day(2024, 3, 10)) {
		t.Errorf("expected 5 catch-up dates from 2024-03-10, got %v", run.CatchUpDates)
	}

	// February fell outside the bound and was never materialized.
	if n := len(h.ledgerRepo.All()); n != 2 {
		t.Errorf("expected 2 transactions, got %d", n)
	}

	report, err := h.consistency.Check(ctx)
	if err != nil {
		t.Fatalf("consistency: %v", err)
	}
	if len(report.CounterDiscrepancies) != 1 || report.CounterDiscrepancies[0].Orphaned() {
		t.Errorf("expected one counter ahead of its transactions, got %+v", report.CounterDiscrepancies)
	}
	if !report.Consistent {
		t.Error("a skipped period alone must not make the ledger inconsistent")
	}
}

func TestMaterialization_OwnerFailureIsIsolated(t *testing.T) {
	h := newHarness(t, day(2024, 4, 1), rent("owner-a"), &domain.FixedItem{
		ObligationBase: base("rent-b", "owner-b", "Rent", "900.00", domain.DirectionOutflow, day(2024, 1, 1)),
		DayOfMonth:     1,
	})

	h.obligations.ListByOwnerFunc = func(ctx context.Context, ownerID string, activeOnly bool) ([]domain.Obligation, error) {
		if ownerID == "owner-b" {
			return nil, errors.New("connection reset")
		}
		return []domain.Obligation{rent("owner-a")}, nil
	}

	run, err := h.materializer.RunMaterialization(context.Background(), day(2024, 4, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunFailed {
		t.Errorf("expected failed run, got %s", run.Status)
	}
	if got := run.FailedOwners(); !slices.Equal(got, []string{"owner-b"}) {
		t.Errorf("expected owner-b to fail, got %v", got)
	}
	if materialized, _, _ := run.Totals(); materialized != 1 {
		t.Errorf("expected owner-a to be materialized, got %d", materialized)
	}

	stored, err := h.materializer.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != domain.RunFailed || stored.FinishedAt == nil {
		t.Errorf("expected the stored run to be finished as failed, got %+v", stored)
	}
	if types := h.outbox.EventTypes(); !slices.Contains(types, domain.EventTypeRunFailed) {
		t.Errorf("expected a run.failed event, got %v", types)
	}
}

func TestMaterialization_RunInProgress(t *testing.T) {
	h := newHarness(t, day(2024, 4, 1), rent("owner-1"))
	locker := mocks.NewMemoryRunLocker()
	h.materializer.WithLocker(locker)

	if ok, _ := locker.TryLock(context.Background(), "materialize:2024-04-01", time.Minute); !ok {
		t.Fatal("could not take the lock")
	}

	_, err := h.materializer.RunMaterialization(context.Background(), day(2024, 4, 1))
	if !errors.Is(err, domain.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if runs, _ := h.materializer.ListRuns(context.Background(), 10, 0); len(runs) != 0 {
		t.Errorf("expected no run to be recorded, got %d", len(runs))
	}
}

func TestMaterialization_LockErrorDoesNotBlock(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	locker := mocks.NewMockRunLocker(ctrl)
	locker.EXPECT().TryLock(gomock.Any(), "materialize:2024-04-01", usecase.DefaultRunLockTTL).
		Return(false, errors.New("redis down"))

	h := newHarness(t, day(2024, 4, 1), rent("owner-1"))
	h.materializer.WithLocker(locker)

	run, err := h.materializer.RunMaterialization(context.Background(), day(2024, 4, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunCompleted {
		t.Errorf("expected completed run, got %s", run.Status)
	}
}

func TestMaterialization_ReversePayment(t *testing.T) {
	h := newHarness(t, day(2024, 1, 15), phonePlan("owner-1"))
	ctx := context.Background()

	for _, d := range []time.Time{day(2024, 1, 15), day(2024, 2, 15)} {
		h.clock.Set(d)
		if _, err := h.materializer.RunMaterialization(ctx, d); err != nil {
			t.Fatalf("run %s: %v", d, err)
		}
	}
	assertAmount(t, "balance after two periods", h.balance(t, "owner-1"), "-666.66")

	txns := h.ledgerRepo.All()
	second := txns[len(txns)-1]

	reversed, err := h.materializer.ReversePayment(ctx, "owner-1", second.ID)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if reversed.ID != second.ID {
		t.Errorf("expected %s reversed, got %s", second.ID, reversed.ID)
	}
	assertAmount(t, "balance after reversal", h.balance(t, "owner-1"), "-333.33")

	o, _ := h.obligations.GetByID(ctx, "phone")
	if plan := o.(*domain.InstallmentPlan); plan.PeriodsCompleted != 1 || !plan.Active {
		t.Errorf("expected counter 1 and active, got %d %v", plan.PeriodsCompleted, plan.Active)
	}

	rewinds, _ := h.audit.List(ctx, domain.AuditFilter{Action: domain.AuditActionCounterRewind})
	if len(rewinds) != 1 {
		t.Errorf("expected one counter rewind audit entry, got %d", len(rewinds))
	}

	// The reversed period is due again on the next run of its date.
	run, err := h.materializer.RunMaterialization(ctx, day(2024, 2, 15))
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if materialized, _, _ := run.Totals(); materialized != 1 {
		t.Errorf("expected the reversed period to materialize again, got %d", materialized)
	}
}

func TestMaterialization_ReversePayment_ReactivatesCompletedPlan(t *testing.T) {
	plan := phonePlan("owner-1")
	h := newHarness(t, day(2024, 3, 15), plan)
	ctx := context.Background()

	for _, d := range []time.Time{day(2024, 1, 15), day(2024, 2, 15), day(2024, 3, 15)} {
		if _, err := h.materializer.RunMaterialization(ctx, d); err != nil {
			t.Fatalf("run %s: %v", d, err)
		}
	}
	txns := h.ledgerRepo.All()
	if _, err := h.materializer.ReversePayment(ctx, "owner-1", txns[2].ID); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	o, _ := h.obligations.GetByID(ctx, "phone")
	if p := o.(*domain.InstallmentPlan); p.PeriodsCompleted != 2 || !p.Active {
		t.Errorf("expected the plan to be active again with counter 2, got %d %v", p.PeriodsCompleted, p.Active)
	}
}

func TestMaterialization_ReversePayment_RejectsEarlierPeriod(t *testing.T) {
	h := newHarness(t, day(2024, 1, 15), phonePlan("owner-1"))
	ctx := context.Background()

	for _, d := range []time.Time{day(2024, 1, 15), day(2024, 2, 15)} {
		h.clock.Set(d)
		if _, err := h.materializer.RunMaterialization(ctx, d); err != nil {
			t.Fatalf("run %s: %v", d, err)
		}
	}
	first := h.ledgerRepo.All()[0]
	if key, _ := first.Key(); key.PeriodIndex != 0 {
		t.Fatalf("expected period 0 first, got %d", key.PeriodIndex)
	}

	_, err := h.materializer.ReversePayment(ctx, "owner-1", first.ID)
	if !errors.Is(err, domain.ErrReversalOutOfOrder) {
		t.Fatalf("expected ErrReversalOutOfOrder, got %v", err)
	}

	if got := len(h.ledgerRepo.All()); got != 2 {
		t.Errorf("expected both transactions kept, got %d", got)
	}
	assertAmount(t, "balance after rejected reversal", h.balance(t, "owner-1"), "-666.66")

	// The plan still needs its third period and closes only once it is paid.
	h.clock.Set(day(2024, 3, 15))
	if _, err := h.materializer.RunMaterialization(ctx, day(2024, 3, 15)); err != nil {
		t.Fatalf("run march: %v", err)
	}
	o, _ := h.obligations.GetByID(ctx, "phone")
	if p := o.(*domain.InstallmentPlan); p.PeriodsCompleted != 3 || p.Active {
		t.Errorf("expected counter 3 and inactive, got %d %v", p.PeriodsCompleted, p.Active)
	}
	if got := len(h.ledgerRepo.All()); got != 3 {
		t.Errorf("expected three transactions, got %d", got)
	}
	assertAmount(t, "balance after final period", h.balance(t, "owner-1"), "-1000.00")
}

func TestMaterialization_ReversePayment_DetectsOrphan(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	metrics := mocks.NewMockMetrics(ctrl)
	metrics.EXPECT().ObserveRun(gomock.Any(), gomock.Any()).AnyTimes()
	metrics.EXPECT().ObserveOwner(gomock.Any()).AnyTimes()
	metrics.EXPECT().OrphanedTransaction().Times(1)

	h := newHarness(t, day(2024, 1, 15), phonePlan("owner-1"))
	h.materializer.WithMetrics(metrics)
	ctx := context.Background()

	if _, err := h.materializer.RunMaterialization(ctx, day(2024, 1, 15)); err != nil {
		t.Fatalf("run: %v", err)
	}
	txn := h.ledgerRepo.All()[0]

	// The delete is lost, so the transaction outlives the reversal.
	h.ledgerRepo.DeleteFunc = func(context.Context, usecase.Transaction, string) error { return nil }

	_, err := h.materializer.ReversePayment(ctx, "owner-1", txn.ID)
	if !errors.Is(err, domain.ErrOrphanedTransaction) {
		t.Fatalf("expected ErrOrphanedTransaction, got %v", err)
	}

	report, err := h.consistency.Check(ctx)
	if err != nil {
		t.Fatalf("consistency: %v", err)
	}
	if report.Consistent || len(report.Orphans()) != 1 {
		t.Errorf("expected one orphan, got %+v", report)
	}
}
