package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/domain"
)

// LedgerUseCase owns ledger transactions and the current balance of every
// (owner, scope).
type LedgerUseCase struct {
	txManager   TransactionManager
	ledgerRepo  LedgerRepository
	balanceRepo BalanceRepository
	auditRepo   AuditRepository
	retrier     Retrier
	idGen       IDGenerator
	outbox      outboxWriter
	cache       ForecastCache
	metrics     Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

// NewLedgerUseCase creates a new LedgerUseCase.
func NewLedgerUseCase(
	txManager TransactionManager,
	ledgerRepo LedgerRepository,
	balanceRepo BalanceRepository,
	auditRepo AuditRepository,
	outboxRepo OutboxRepository,
	retrier Retrier,
	idGen IDGenerator,
) *LedgerUseCase {
	return &LedgerUseCase{
		txManager:   txManager,
		ledgerRepo:  ledgerRepo,
		balanceRepo: balanceRepo,
		auditRepo:   auditRepo,
		retrier:     retrier,
		idGen:       idGen,
		outbox:      outboxWriter{repo: outboxRepo, idGen: idGen},
		metrics:     nopMetrics{},
		logger:      zerolog.Nop(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithCache makes balance changes invalidate cached forecasts.
func (uc *LedgerUseCase) WithCache(cache ForecastCache) *LedgerUseCase {
	uc.cache = cache
	return uc
}

// WithMetrics sets the telemetry sink.
func (uc *LedgerUseCase) WithMetrics(m Metrics) *LedgerUseCase {
	uc.metrics = m
	return uc
}

// WithLogger sets the logger.
func (uc *LedgerUseCase) WithLogger(l zerolog.Logger) *LedgerUseCase {
	uc.logger = l
	return uc
}

// WithClock replaces the wall clock.
func (uc *LedgerUseCase) WithClock(now func() time.Time) *LedgerUseCase {
	uc.now = now
	return uc
}

// RecordTransactionInput represents input for a manual ledger entry.
type RecordTransactionInput struct {
	OwnerID     string
	Scope       string
	Direction   domain.Direction
	Amount      decimal.Decimal
	Currency    string
	OccurredOn  time.Time
	Description string
}

// RecordTransaction appends a manual transaction and applies it to the
// current balance in the same database transaction.
func (uc *LedgerUseCase) RecordTransaction(ctx context.Context, input RecordTransactionInput) (*domain.LedgerTransaction, error) {
	now := uc.now()
	occurredOn := input.OccurredOn
	if occurredOn.IsZero() {
		occurredOn = now
	}

	txn := &domain.LedgerTransaction{
		ID:          uc.idGen.Generate(),
		OwnerID:     input.OwnerID,
		Scope:       domain.NormalizeScope(input.Scope),
		Direction:   input.Direction,
		Amount:      input.Amount,
		Currency:    domain.NormalizeCurrency(input.Currency),
		OccurredOn:  domain.DateOf(occurredOn),
		Origin:      domain.OriginManual,
		Description: input.Description,
		CreatedAt:   now,
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}

	err := uc.retry(ctx, func() error {
		tx, err := uc.txManager.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if err := uc.ledgerRepo.Create(ctx, tx, txn); err != nil {
			return err
		}
		if _, err := uc.ApplyDelta(ctx, tx, txn.OwnerID, txn.Scope, txn.SignedAmount(), txn.Currency, txn.OccurredOn); err != nil {
			return err
		}
		if err := uc.outbox.enqueue(ctx, tx, domain.AggregateTypeTransaction, txn.ID,
			domain.EventTypeTransactionRecorded, domain.NewTransactionEvent(txn), now); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}

	uc.invalidate(ctx, txn.OwnerID)
	return txn, nil
}

// SetBalanceInput represents input for overwriting the current balance.
type SetBalanceInput struct {
	OwnerID       string
	Scope         string
	Amount        decimal.Decimal
	Currency      string
	EffectiveDate time.Time
}

// SetCurrentBalance replaces the current balance of (owner, scope). Each
// attempt locks the scope, retires the current row and inserts the new one
// in a single database transaction. Attempts that lose a race on the
// one-current-row constraint are retried; after the bound the
// domain.ErrDuplicateCurrentBalance surfaces.
func (uc *LedgerUseCase) SetCurrentBalance(ctx context.Context, input SetBalanceInput) (*domain.BalanceSnapshot, error) {
	if err := domain.ValidateOwnerID(input.OwnerID); err != nil {
		return nil, err
	}
	scope := domain.NormalizeScope(input.Scope)
	if err := domain.ValidateScope(scope); err != nil {
		return nil, err
	}
	currency := domain.NormalizeCurrency(input.Currency)
	if err := domain.ValidateCurrency(currency); err != nil {
		return nil, err
	}
	if !input.Amount.Equal(input.Amount.Round(domain.AmountScale)) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAmountPrecision, input.Amount)
	}

	now := uc.now()
	effective := input.EffectiveDate
	if effective.IsZero() {
		effective = now
	}

	var snapshot *domain.BalanceSnapshot
	err := uc.retry(ctx, func() error {
		tx, err := uc.txManager.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if err := uc.balanceRepo.LockScope(ctx, tx, input.OwnerID, scope); err != nil {
			return err
		}

		current, err := uc.balanceRepo.GetCurrentTx(ctx, tx, input.OwnerID, scope)
		if err != nil && !errors.Is(err, domain.ErrBalanceNotFound) {
			return err
		}
		if current != nil {
			if err := uc.balanceRepo.ClearCurrent(ctx, tx, current.ID); err != nil {
				return err
			}
		}

		next := &domain.BalanceSnapshot{
			ID:            uc.idGen.Generate(),
			OwnerID:       input.OwnerID,
			Scope:         scope,
			Amount:        input.Amount,
			Currency:      currency,
			IsCurrent:     true,
			EffectiveDate: domain.DateOf(effective),
			CreatedAt:     now,
		}
		if err := uc.balanceRepo.Insert(ctx, tx, next); err != nil {
			return err
		}
		if err := uc.enqueueBalance(ctx, tx, next, now); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}

		snapshot = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.invalidate(ctx, input.OwnerID)
	return snapshot, nil
}

// ApplyDelta moves the current balance of (owner, scope) by delta inside the
// caller's transaction. A scope without a current row starts from zero.
func (uc *LedgerUseCase) ApplyDelta(
	ctx context.Context,
	tx Transaction,
	ownerID, scope string,
	delta decimal.Decimal,
	currency string,
	effectiveDate time.Time,
) (*domain.BalanceSnapshot, error) {
	if err := uc.balanceRepo.LockScope(ctx, tx, ownerID, scope); err != nil {
		return nil, err
	}

	current, err := uc.balanceRepo.GetCurrentTx(ctx, tx, ownerID, scope)
	if err != nil && !errors.Is(err, domain.ErrBalanceNotFound) {
		return nil, err
	}

	amount := delta
	if current != nil {
		if current.Currency != currency {
			return nil, fmt.Errorf("%w: balance %s/%s is in %s, transaction in %s",
				domain.ErrCurrencyMismatch, ownerID, scope, current.Currency, currency)
		}
		amount = current.Amount.Add(delta)
		if err := uc.balanceRepo.ClearCurrent(ctx, tx, current.ID); err != nil {
			return nil, err
		}
	}

	now := uc.now()
	next := &domain.BalanceSnapshot{
		ID:            uc.idGen.Generate(),
		OwnerID:       ownerID,
		Scope:         scope,
		Amount:        amount,
		Currency:      currency,
		IsCurrent:     true,
		EffectiveDate: domain.DateOf(effectiveDate),
		CreatedAt:     now,
	}
	if err := uc.balanceRepo.Insert(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := uc.enqueueBalance(ctx, tx, next, now); err != nil {
		return nil, err
	}

	return next, nil
}

// ReverseTransaction deletes a transaction, records the deletion in the
// audit log and backs its amount out of the current balance, all in one
// database transaction. It returns the removed transaction.
func (uc *LedgerUseCase) ReverseTransaction(ctx context.Context, ownerID, txID string) (*domain.LedgerTransaction, error) {
	var reversed *domain.LedgerTransaction

	err := uc.retry(ctx, func() error {
		tx, err := uc.txManager.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		txn, err := uc.ledgerRepo.GetByIDForUpdate(ctx, tx, txID)
		if err != nil {
			return err
		}
		if txn.OwnerID != ownerID {
			return domain.ErrTransactionNotFound
		}

		if err := uc.ledgerRepo.Delete(ctx, tx, txn.ID); err != nil {
			return err
		}

		now := uc.now()
		if uc.auditRepo != nil {
			if err := uc.auditRepo.CreateTx(ctx, tx, &domain.AuditLog{
				ID:           uc.idGen.Generate(),
				OwnerID:      txn.OwnerID,
				Action:       domain.AuditActionTransactionReverse,
				ResourceType: domain.AggregateTypeTransaction,
				ResourceID:   txn.ID,
				BeforeState:  domain.NewTransactionEvent(txn),
				Status:       domain.AuditStatusSuccess,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}

		if _, err := uc.ApplyDelta(ctx, tx, txn.OwnerID, txn.Scope, txn.SignedAmount().Neg(), txn.Currency, domain.DateOf(now)); err != nil {
			return err
		}
		if err := uc.outbox.enqueue(ctx, tx, domain.AggregateTypeTransaction, txn.ID,
			domain.EventTypeTransactionReversed, domain.NewTransactionEvent(txn), now); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}

		reversed = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.invalidate(ctx, ownerID)
	uc.logger.Info().
		Str("owner_id", ownerID).
		Str("transaction_id", reversed.ID).
		Str("amount", reversed.Amount.StringFixed(domain.AmountScale)).
		Msg("transaction reversed")

	return reversed, nil
}

// GetTransaction retrieves a transaction of the owner.
func (uc *LedgerUseCase) GetTransaction(ctx context.Context, ownerID, txID string) (*domain.LedgerTransaction, error) {
	txn, err := uc.ledgerRepo.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if txn.OwnerID != ownerID {
		return nil, domain.ErrTransactionNotFound
	}
	return txn, nil
}

// ListTransactions lists an owner's transactions, newest first.
func (uc *LedgerUseCase) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*domain.LedgerTransaction, error) {
	limit, offset, err := domain.ValidatePagination(limit, offset)
	if err != nil {
		return nil, err
	}
	return uc.ledgerRepo.ListByOwner(ctx, ownerID, limit, offset)
}

// CurrentBalance returns the current balance of (owner, scope).
func (uc *LedgerUseCase) CurrentBalance(ctx context.Context, ownerID, scope string) (*domain.BalanceSnapshot, error) {
	return uc.balanceRepo.GetCurrent(ctx, ownerID, domain.NormalizeScope(scope))
}

// CurrentBalances returns the current balance of every scope of the owner.
func (uc *LedgerUseCase) CurrentBalances(ctx context.Context, ownerID string) ([]*domain.BalanceSnapshot, error) {
	return uc.balanceRepo.ListCurrent(ctx, ownerID)
}

// BalanceHistory lists the snapshots of (owner, scope), newest first.
func (uc *LedgerUseCase) BalanceHistory(ctx context.Context, ownerID, scope string, limit, offset int) ([]*domain.BalanceSnapshot, error) {
	limit, offset, err := domain.ValidatePagination(limit, offset)
	if err != nil {
		return nil, err
	}
	return uc.balanceRepo.History(ctx, ownerID, domain.NormalizeScope(scope), limit, offset)
}

func (uc *LedgerUseCase) retry(ctx context.Context, operation func() error) error {
	if uc.retrier == nil {
		return operation()
	}

	return uc.retrier.Retry(ctx, func() error {
		err := operation()
		if errors.Is(err, domain.ErrDuplicateCurrentBalance) {
			uc.metrics.BalanceConflict()
		}
		return err
	})
}

func (uc *LedgerUseCase) enqueueBalance(ctx context.Context, tx Transaction, s *domain.BalanceSnapshot, at time.Time) error {
	return uc.outbox.enqueue(ctx, tx, domain.AggregateTypeBalance, s.OwnerID+"/"+s.Scope,
		domain.EventTypeBalanceUpdated, domain.MarshalState(domain.BalanceUpdatedEvent{
			OwnerID:       s.OwnerID,
			Scope:         s.Scope,
			Amount:        s.Amount.StringFixed(domain.AmountScale),
			Currency:      s.Currency,
			EffectiveDate: domain.FormatDate(s.EffectiveDate),
		}), at)
}

func (uc *LedgerUseCase) invalidate(ctx context.Context, ownerID string) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.Invalidate(ctx, ownerID); err != nil {
		uc.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("failed to invalidate forecast cache")
	}
}
