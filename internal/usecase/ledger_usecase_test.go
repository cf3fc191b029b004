package usecase_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
	"github.com/iho/cashflow/internal/usecase/mocks"
)

func TestLedgerUseCase_SetCurrentBalance_ReplacesCurrentRow(t *testing.T) {
	h := newHarness(t, day(2024, 3, 20))
	h.setBalance(t, "owner-1", "1500.00")
	h.setBalance(t, "owner-1", "1200.00")

	assertAmount(t, "current balance", h.balance(t, "owner-1"), "1200.00")

	history, err := h.ledger.BalanceHistory(context.Background(), "owner-1", "", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(history))
	}
	if history[1].IsCurrent {
		t.Error("expected the older snapshot to be retired")
	}

	dups, _ := h.balances.FindMultipleCurrent(context.Background())
	if len(dups) != 0 {
		t.Errorf("expected one current row, got %+v", dups)
	}
}

func TestLedgerUseCase_SetCurrentBalance_RetriesLostRace(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	metrics := mocks.NewMockMetrics(ctrl)
	metrics.EXPECT().BalanceConflict().Times(1)

	h := newHarness(t, day(2024, 3, 20))
	h.ledger.WithMetrics(metrics)

	attempts := 0
	h.balances.InsertFunc = func(ctx context.Context, tx usecase.Transaction, s *domain.BalanceSnapshot) error {
		attempts++
		if attempts == 1 {
			return domain.ErrDuplicateCurrentBalance
		}
		h.balances.InsertFunc = nil
		return h.balances.Insert(ctx, tx, s)
	}

	snapshot, err := h.ledger.SetCurrentBalance(context.Background(), usecase.SetBalanceInput{
		OwnerID:  "owner-1",
		Amount:   dec("50.00"),
		Currency: "usd",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if snapshot.Currency != "USD" || snapshot.Scope != domain.DefaultScope {
		t.Errorf("unexpected snapshot %+v", snapshot)
	}
}

func TestLedgerUseCase_SetCurrentBalance_SurfacesConflictAfterRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	metrics := mocks.NewMockMetrics(ctrl)
	metrics.EXPECT().BalanceConflict().Times(3)

	h := newHarness(t, day(2024, 3, 20))
	h.ledger.WithMetrics(metrics)
	h.balances.InsertFunc = func(context.Context, usecase.Transaction, *domain.BalanceSnapshot) error {
		return domain.ErrDuplicateCurrentBalance
	}

	_, err := h.ledger.SetCurrentBalance(context.Background(), usecase.SetBalanceInput{
		OwnerID:  "owner-1",
		Amount:   dec("50.00"),
		Currency: "USD",
	})
	if !errors.Is(err, domain.ErrDuplicateCurrentBalance) {
		t.Fatalf("expected ErrDuplicateCurrentBalance, got %v", err)
	}
	if h.txManager.Commits() != 0 {
		t.Errorf("expected no commits, got %d", h.txManager.Commits())
	}
}

func TestLedgerUseCase_SetCurrentBalance_Validation(t *testing.T) {
	h := newHarness(t, day(2024, 3, 20))

	tests := []struct {
		name    string
		input   usecase.SetBalanceInput
		wantErr error
	}{
		{
			name:    "missing owner",
			input:   usecase.SetBalanceInput{Amount: dec("1"), Currency: "USD"},
			wantErr: domain.ErrMissingOwner,
		},
		{
			name:    "unknown currency",
			input:   usecase.SetBalanceInput{OwnerID: "o", Amount: dec("1"), Currency: "XXX"},
			wantErr: domain.ErrInvalidCurrency,
		},
		{
			name:    "sub-cent amount",
			input:   usecase.SetBalanceInput{OwnerID: "o", Amount: dec("1.005"), Currency: "USD"},
			wantErr: domain.ErrAmountPrecision,
		},
		{
			name:    "bad scope",
			input:   usecase.SetBalanceInput{OwnerID: "o", Scope: "a/b", Amount: dec("1"), Currency: "USD"},
			wantErr: domain.ErrInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.ledger.SetCurrentBalance(context.Background(), tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLedgerUseCase_RecordTransaction(t *testing.T) {
	h := newHarness(t, day(2024, 3, 20))

	txn, err := h.ledger.RecordTransaction(context.Background(), usecase.RecordTransactionInput{
		OwnerID:     "owner-1",
		Direction:   domain.DirectionInflow,
		Amount:      dec("250.00"),
		Currency:    "USD",
		Description: "refund",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Origin != domain.OriginManual || !txn.OccurredOn.Equal(day(2024, 3, 20)) {
		t.Errorf("unexpected transaction %+v", txn)
	}

	// No balance row existed, so the scope starts from zero.
	assertAmount(t, "balance", h.balance(t, "owner-1"), "250.00")

	want := []string{domain.EventTypeBalanceUpdated, domain.EventTypeTransactionRecorded}
	if got := h.outbox.EventTypes(); !slices.Equal(got, want) {
		t.Errorf("expected events %v, got %v", want, got)
	}
}

func TestLedgerUseCase_RecordTransaction_CurrencyMismatch(t *testing.T) {
	h := newHarness(t, day(2024, 3, 20))
	h.setBalance(t, "owner-1", "100.00")

	_, err := h.ledger.RecordTransaction(context.Background(), usecase.RecordTransactionInput{
		OwnerID:   "owner-1",
		Direction: domain.DirectionOutflow,
		Amount:    dec("10.00"),
		Currency:  "EUR",
	})
	if !errors.Is(err, domain.ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	assertAmount(t, "balance", h.balance(t, "owner-1"), "100.00")
}

func TestLedgerUseCase_ReverseTransaction(t *testing.T) {
	h := newHarness(t, day(2024, 3, 20))
	h.setBalance(t, "owner-1", "100.00")

	txn, err := h.ledger.RecordTransaction(context.Background(), usecase.RecordTransactionInput{
		OwnerID:   "owner-1",
		Direction: domain.DirectionOutflow,
		Amount:    dec("40.00"),
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	assertAmount(t, "balance after record", h.balance(t, "owner-1"), "60.00")

	if _, err := h.ledger.ReverseTransaction(context.Background(), "owner-2", txn.ID); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("expected another owner's reversal to fail with ErrTransactionNotFound, got %v", err)
	}

	reversed, err := h.ledger.ReverseTransaction(context.Background(), "owner-1", txn.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reversed.ID != txn.ID {
		t.Errorf("expected %s to be reversed, got %s", txn.ID, reversed.ID)
	}
	assertAmount(t, "balance after reversal", h.balance(t, "owner-1"), "100.00")

	if _, err := h.ledger.GetTransaction(context.Background(), "owner-1", txn.ID); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Errorf("expected transaction to be gone, got %v", err)
	}

	logs, _ := h.audit.List(context.Background(), domain.AuditFilter{Action: domain.AuditActionTransactionReverse})
	if len(logs) != 1 || logs[0].ResourceID != txn.ID {
		t.Errorf("expected one reversal audit entry, got %+v", logs)
	}
}

func TestLedgerUseCase_ReverseTransaction_RollsBackOnMissingTransaction(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tx := mocks.NewMockTransaction(ctrl)
	tx.EXPECT().Rollback(gomock.Any()).Return(nil)

	txManager := mocks.NewMockTransactionManager(ctrl)
	txManager.EXPECT().Begin(gomock.Any()).Return(tx, nil)

	ledgerRepo := mocks.NewMockLedgerRepository(ctrl)
	ledgerRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, "tx-404").Return(nil, domain.ErrTransactionNotFound)

	uc := usecase.NewLedgerUseCase(txManager, ledgerRepo, mocks.NewMockBalanceRepository(ctrl), nil, nil, nil,
		mocks.NewSequenceIDGenerator())

	_, err := uc.ReverseTransaction(context.Background(), "owner-1", "tx-404")
	if !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}
