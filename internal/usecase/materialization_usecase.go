package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/iho/cashflow/internal/calculator"
	"github.com/iho/cashflow/internal/domain"
)

// BalanceLedger is the part of the ledger the scheduler writes through.
type BalanceLedger interface {
	ApplyDelta(ctx context.Context, tx Transaction, ownerID, scope string, delta decimal.Decimal, currency string, effectiveDate time.Time) (*domain.BalanceSnapshot, error)
	ReverseTransaction(ctx context.Context, ownerID, txID string) (*domain.LedgerTransaction, error)
}

// AlertEvaluator re-evaluates an owner's alerts after new materializations.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, ownerID string) ([]*domain.Alert, error)
}

// MaterializationConfig tunes the scheduler.
type MaterializationConfig struct {
	Workers        int
	OwnerTimeout   time.Duration
	MaxCatchUpDays int
	RunLockTTL     time.Duration
}

// MaterializationUseCase turns due obligation periods into ledger
// transactions, exactly once per period.
type MaterializationUseCase struct {
	txManager      TransactionManager
	obligationRepo ObligationRepository
	ledgerRepo     LedgerRepository
	runRepo        RunRepository
	auditRepo      AuditRepository
	ledger         BalanceLedger
	idGen          IDGenerator
	outbox         outboxWriter
	locker         RunLocker
	cache          ForecastCache
	alerts         AlertEvaluator
	metrics        Metrics
	logger         zerolog.Logger
	cfg            MaterializationConfig
	now            func() time.Time
}

// NewMaterializationUseCase creates a new MaterializationUseCase.
func NewMaterializationUseCase(
	txManager TransactionManager,
	obligationRepo ObligationRepository,
	ledgerRepo LedgerRepository,
	runRepo RunRepository,
	auditRepo AuditRepository,
	outboxRepo OutboxRepository,
	ledger BalanceLedger,
	idGen IDGenerator,
	cfg MaterializationConfig,
) *MaterializationUseCase {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.OwnerTimeout <= 0 {
		cfg.OwnerTimeout = DefaultOwnerTimeout
	}
	if cfg.MaxCatchUpDays < 0 {
		cfg.MaxCatchUpDays = 0
	}
	if cfg.RunLockTTL <= 0 {
		cfg.RunLockTTL = DefaultRunLockTTL
	}

	return &MaterializationUseCase{
		txManager:      txManager,
		obligationRepo: obligationRepo,
		ledgerRepo:     ledgerRepo,
		runRepo:        runRepo,
		auditRepo:      auditRepo,
		ledger:         ledger,
		idGen:          idGen,
		outbox:         outboxWriter{repo: outboxRepo, idGen: idGen},
		metrics:        nopMetrics{},
		logger:         zerolog.Nop(),
		cfg:            cfg,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithLocker guards run dates across processes.
func (uc *MaterializationUseCase) WithLocker(locker RunLocker) *MaterializationUseCase {
	uc.locker = locker
	return uc
}

// WithCache invalidates cached forecasts of owners that got new transactions.
func (uc *MaterializationUseCase) WithCache(cache ForecastCache) *MaterializationUseCase {
	uc.cache = cache
	return uc
}

// WithAlerts re-evaluates alerts of owners that got new transactions.
func (uc *MaterializationUseCase) WithAlerts(alerts AlertEvaluator) *MaterializationUseCase {
	uc.alerts = alerts
	return uc
}

// WithMetrics sets the telemetry sink.
func (uc *MaterializationUseCase) WithMetrics(m Metrics) *MaterializationUseCase {
	uc.metrics = m
	return uc
}

// WithLogger sets the logger.
func (uc *MaterializationUseCase) WithLogger(l zerolog.Logger) *MaterializationUseCase {
	uc.logger = l
	return uc
}

// WithClock replaces the wall clock.
func (uc *MaterializationUseCase) WithClock(now func() time.Time) *MaterializationUseCase {
	uc.now = now
	return uc
}

type outcome int

const (
	outcomeNotDue outcome = iota
	outcomeMaterialized
	outcomeSkipped
)

// RunMaterialization processes every obligation due on date. Dates missed
// since the last completed run are processed first, each as its own run,
// and listed in the returned run's CatchUpDates. Running the same date again
// creates no new transactions.
func (uc *MaterializationUseCase) RunMaterialization(ctx context.Context, date time.Time) (*domain.ProcessingRun, error) {
	date = domain.DateOf(date)

	if uc.locker != nil {
		key := "materialize:" + domain.FormatDate(date)
		acquired, err := uc.locker.TryLock(ctx, key, uc.cfg.RunLockTTL)
		switch {
		case err != nil:
			// The unique period constraint still prevents duplicates.
			uc.logger.Warn().Err(err).Str("run_date", domain.FormatDate(date)).Msg("run lock unavailable, continuing without it")
		case !acquired:
			return nil, fmt.Errorf("%w: %s", domain.ErrRunInProgress, domain.FormatDate(date))
		default:
			defer func() {
				if err := uc.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
					uc.logger.Warn().Err(err).Str("run_date", domain.FormatDate(date)).Msg("failed to release run lock")
				}
			}()
		}
	}

	missed, err := uc.missedDates(ctx, date)
	if err != nil {
		return nil, err
	}

	for _, d := range missed {
		uc.logger.Warn().Str("run_date", domain.FormatDate(d)).Msg("catching up missed materialization date")
		if _, err := uc.runDate(ctx, d, nil); err != nil {
			return nil, fmt.Errorf("catch up %s: %w", domain.FormatDate(d), err)
		}
	}

	return uc.runDate(ctx, date, missed)
}

// missedDates lists the dates between the last completed run and date,
// keeping at most MaxCatchUpDays of the most recent ones.
func (uc *MaterializationUseCase) missedDates(ctx context.Context, date time.Time) ([]time.Time, error) {
	last, ok, err := uc.runRepo.LastCompletedRunDate(ctx)
	if err != nil {
		return nil, fmt.Errorf("last completed run: %w", err)
	}
	if !ok || !last.Before(date) {
		return nil, nil
	}

	first := domain.DateOf(last).AddDate(0, 0, 1)
	if limit := date.AddDate(0, 0, -uc.cfg.MaxCatchUpDays); first.Before(limit) {
		uc.logger.Error().
			Str("last_completed", domain.FormatDate(last)).
			Str("catch_up_from", domain.FormatDate(limit)).
			Int("max_catch_up_days", uc.cfg.MaxCatchUpDays).
			Msg("missed dates exceed the catch-up bound, older dates are not materialized")
		first = limit
	}

	var dates []time.Time
	for d := first; d.Before(date); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates, nil
}

func (uc *MaterializationUseCase) runDate(ctx context.Context, date time.Time, catchUp []time.Time) (*domain.ProcessingRun, error) {
	started := uc.now()
	run := &domain.ProcessingRun{
		ID:           uc.idGen.Generate(),
		RunDate:      date,
		Status:       domain.RunPending,
		CatchUpDates: catchUp,
		CreatedAt:    started,
	}
	if err := uc.runRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	if err := run.Transition(domain.RunRunning, started); err != nil {
		return nil, err
	}
	if err := uc.runRepo.Update(ctx, run); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	owners, err := uc.obligationRepo.ListOwnersWithActive(ctx)
	if err != nil {
		uc.finish(ctx, run, domain.RunFailed, started)
		return run, fmt.Errorf("list owners: %w", err)
	}

	results := make([]domain.OwnerResult, len(owners))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.cfg.Workers)
	for i, owner := range owners {
		g.Go(func() error {
			results[i] = uc.materializeOwner(gctx, owner, date)
			return nil
		})
	}
	_ = g.Wait()

	run.Owners = results
	status := domain.RunCompleted
	if len(run.FailedOwners()) > 0 {
		status = domain.RunFailed
	}
	uc.finish(ctx, run, status, started)

	for _, r := range results {
		uc.metrics.ObserveOwner(r)
		if r.Materialized > 0 {
			uc.afterMaterialize(ctx, r.OwnerID)
		}
	}

	return run, nil
}

func (uc *MaterializationUseCase) finish(ctx context.Context, run *domain.ProcessingRun, status domain.RunStatus, started time.Time) {
	// Persist the outcome even when the trigger's context is gone.
	ctx = context.WithoutCancel(ctx)
	finished := uc.now()

	if err := run.Transition(status, finished); err != nil {
		uc.logger.Error().Err(err).Str("run_id", run.ID).Msg("invalid run transition")
		return
	}
	if err := uc.runRepo.Update(ctx, run); err != nil {
		uc.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to store run result")
	}

	materialized, skipped, failed := run.Totals()
	eventType := domain.EventTypeRunCompleted
	if status == domain.RunFailed {
		eventType = domain.EventTypeRunFailed
	}
	if err := uc.enqueueRun(ctx, run, eventType, materialized, failed, finished); err != nil {
		uc.logger.Warn().Err(err).Str("run_id", run.ID).Msg("failed to enqueue run event")
	}

	uc.metrics.ObserveRun(status, finished.Sub(started))

	level := zerolog.InfoLevel
	if status == domain.RunFailed {
		level = zerolog.ErrorLevel
	}
	uc.logger.WithLevel(level).
		Str("run_id", run.ID).
		Strs("failed_owners", run.FailedOwners()).
		Str("run_date", domain.FormatDate(run.RunDate)).
		Str("status", string(status)).
		Int("owners", len(run.Owners)).
		Int("materialized", materialized).
		Int("skipped", skipped).
		Int("failed", failed).
		Dur("duration", finished.Sub(started)).
		Msg("materialization run finished")
}

func (uc *MaterializationUseCase) enqueueRun(ctx context.Context, run *domain.ProcessingRun, eventType string, materialized, failed int, at time.Time) error {
	if uc.outbox.repo == nil {
		return nil
	}

	tx, err := uc.txManager.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = uc.outbox.enqueue(ctx, tx, domain.AggregateTypeRun, run.ID, eventType,
		domain.MarshalState(domain.RunFinishedEvent{
			RunID:        run.ID,
			RunDate:      domain.FormatDate(run.RunDate),
			Status:       string(run.Status),
			Materialized: materialized,
			Failed:       failed,
			FailedOwners: run.FailedOwners(),
		}), at)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (uc *MaterializationUseCase) afterMaterialize(ctx context.Context, ownerID string) {
	if uc.cache != nil {
		if err := uc.cache.Invalidate(ctx, ownerID); err != nil {
			uc.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("failed to invalidate forecast cache")
		}
	}
	if uc.alerts != nil {
		if _, err := uc.alerts.Evaluate(ctx, ownerID); err != nil {
			uc.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("alert evaluation after materialization failed")
		}
	}
}

// materializeOwner handles one owner under its own timeout. Failures are
// recorded per obligation and never abort the other owners.
func (uc *MaterializationUseCase) materializeOwner(ctx context.Context, ownerID string, date time.Time) domain.OwnerResult {
	ctx, cancel := context.WithTimeout(ctx, uc.cfg.OwnerTimeout)
	defer cancel()

	result := domain.OwnerResult{OwnerID: ownerID}
	log := uc.logger.With().Str("owner_id", ownerID).Str("run_date", domain.FormatDate(date)).Logger()

	obligations, err := uc.obligationRepo.ListByOwner(ctx, ownerID, true)
	if err != nil {
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("list obligations: %v", err))
		log.Error().Err(err).Msg("failed to list obligations")
		return result
	}

	for i, o := range obligations {
		if err := ctx.Err(); err != nil {
			remaining := len(obligations) - i
			result.Failed += remaining
			result.Errors = append(result.Errors, fmt.Sprintf("%d obligations not processed: %v", remaining, err))
			log.Error().Err(err).Int("remaining", remaining).Msg("owner materialization cut short")
			break
		}

		out, err := uc.materializeObligation(ctx, o, date)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("obligation %s: %v", o.Common().ID, err))
			log.Error().Err(err).Str("obligation_id", o.Common().ID).Msg("failed to materialize obligation")
			continue
		}

		switch out {
		case outcomeMaterialized:
			result.Materialized++
		case outcomeSkipped:
			result.Skipped++
		}
	}

	return result
}

func (uc *MaterializationUseCase) materializeObligation(ctx context.Context, o domain.Obligation, date time.Time) (outcome, error) {
	b := o.Common()

	periodIndex, due, err := calculator.PeriodIndexOn(o, date)
	if err != nil {
		return outcomeNotDue, err
	}
	if !due {
		return outcomeNotDue, nil
	}
	if counter, counted := domain.Counter(o); counted && periodIndex < counter {
		return outcomeSkipped, nil
	}

	// Fast path; the unique (obligation, period) index is the real guard.
	if _, err := uc.ledgerRepo.FindByPeriod(ctx, b.ID, periodIndex); err == nil {
		return outcomeSkipped, nil
	} else if !errors.Is(err, domain.ErrTransactionNotFound) {
		return outcomeNotDue, err
	}

	amount, err := calculator.PeriodAmount(o, periodIndex)
	if err != nil {
		return outcomeNotDue, err
	}

	tx, err := uc.txManager.Begin(ctx)
	if err != nil {
		return outcomeNotDue, err
	}
	defer tx.Rollback(ctx)

	locked, err := uc.obligationRepo.GetByIDForUpdate(ctx, tx, b.ID)
	if err != nil {
		return outcomeNotDue, err
	}
	if !locked.Common().Active {
		return outcomeNotDue, nil
	}
	counter, counted := domain.Counter(locked)
	if counted && periodIndex < counter {
		return outcomeSkipped, nil
	}

	now := uc.now()
	obligationID, idx := b.ID, periodIndex
	txn := &domain.LedgerTransaction{
		ID:           uc.idGen.Generate(),
		OwnerID:      b.OwnerID,
		Scope:        domain.NormalizeScope(b.Scope),
		ObligationID: &obligationID,
		PeriodIndex:  &idx,
		Direction:    b.Direction,
		Amount:       amount,
		Currency:     b.Currency,
		OccurredOn:   date,
		Origin:       domain.OriginMaterialized,
		Description:  b.Name,
		CreatedAt:    now,
	}
	if err := txn.Validate(); err != nil {
		return outcomeNotDue, err
	}

	if err := uc.ledgerRepo.Create(ctx, tx, txn); err != nil {
		if errors.Is(err, domain.ErrMaterializationConflict) {
			return outcomeSkipped, nil
		}
		return outcomeNotDue, err
	}

	if counted {
		next := periodIndex + 1
		count, _, err := calculator.PeriodCount(locked)
		if err != nil {
			return outcomeNotDue, err
		}
		if err := uc.obligationRepo.UpdateProgress(ctx, tx, b.ID, next, next < count, now); err != nil {
			return outcomeNotDue, err
		}
	}

	if _, err := uc.ledger.ApplyDelta(ctx, tx, txn.OwnerID, txn.Scope, txn.SignedAmount(), txn.Currency, date); err != nil {
		return outcomeNotDue, err
	}
	if err := uc.outbox.enqueue(ctx, tx, domain.AggregateTypeTransaction, txn.ID,
		domain.EventTypeTransactionMaterialized, domain.NewTransactionEvent(txn), now); err != nil {
		return outcomeNotDue, err
	}

	if err := tx.Commit(ctx); err != nil {
		return outcomeNotDue, err
	}
	return outcomeMaterialized, nil
}

// ReversePayment undoes a payment. The transaction is reversed first and
// the obligation's counter rewound second, so an interruption between the
// two leaves a counter that is too high rather than a transaction without
// its period. A transaction still found for the period afterwards is an
// orphan and fails with domain.ErrOrphanedTransaction. Only the latest
// materialized period of a counted obligation can be reversed; any other
// fails with domain.ErrReversalOutOfOrder before anything is deleted.
func (uc *MaterializationUseCase) ReversePayment(ctx context.Context, ownerID, txID string) (*domain.LedgerTransaction, error) {
	if err := uc.checkReversible(ctx, ownerID, txID); err != nil {
		return nil, err
	}

	txn, err := uc.ledger.ReverseTransaction(ctx, ownerID, txID)
	if err != nil {
		return nil, err
	}

	key, ok := txn.Key()
	if !ok {
		return txn, nil
	}

	if err := uc.rewindCounter(ctx, txn, key); err != nil {
		return txn, fmt.Errorf("rewind counter of %s: %w", key.ObligationID, err)
	}

	if left, err := uc.ledgerRepo.FindByPeriod(ctx, key.ObligationID, key.PeriodIndex); err == nil {
		uc.metrics.OrphanedTransaction()
		uc.logger.Error().
			Str("owner_id", ownerID).
			Str("reversed_transaction_id", txn.ID).
			Str("orphaned_transaction_id", left.ID).
			Str("obligation_id", key.ObligationID).
			Int("period_index", key.PeriodIndex).
			Msg("reversal left an orphaned transaction")
		return txn, fmt.Errorf("%w: transaction %s still recorded for %s", domain.ErrOrphanedTransaction, left.ID, key)
	} else if !errors.Is(err, domain.ErrTransactionNotFound) {
		return txn, fmt.Errorf("verify reversal of %s: %w", key, err)
	}

	if uc.cache != nil {
		if err := uc.cache.Invalidate(ctx, ownerID); err != nil {
			uc.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("failed to invalidate forecast cache")
		}
	}

	return txn, nil
}

// checkReversible rejects the reversal of a counted period other than the
// one just below the counter. Lookups that fail here are left for the
// reversal itself to report.
func (uc *MaterializationUseCase) checkReversible(ctx context.Context, ownerID, txID string) error {
	txn, err := uc.ledgerRepo.GetByID(ctx, txID)
	if err != nil || txn.OwnerID != ownerID {
		return nil
	}
	key, ok := txn.Key()
	if !ok {
		return nil
	}
	o, err := uc.obligationRepo.GetByID(ctx, key.ObligationID)
	if err != nil {
		return nil
	}
	counter, counted := domain.Counter(o)
	if counted && key.PeriodIndex != counter-1 {
		return fmt.Errorf("%w: %s while %d periods are materialized", domain.ErrReversalOutOfOrder, key, counter)
	}
	return nil
}

func (uc *MaterializationUseCase) rewindCounter(ctx context.Context, txn *domain.LedgerTransaction, key domain.PeriodKey) error {
	tx, err := uc.txManager.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	o, err := uc.obligationRepo.GetByIDForUpdate(ctx, tx, key.ObligationID)
	if err != nil {
		return err
	}
	counter, counted := domain.Counter(o)
	if !counted {
		return nil
	}

	complete, err := calculator.IsComplete(o)
	if err != nil {
		return err
	}

	next := max(counter-1, 0)
	active := o.Common().Active || complete
	now := uc.now()

	if err := uc.obligationRepo.UpdateProgress(ctx, tx, key.ObligationID, next, active, now); err != nil {
		return err
	}

	if uc.auditRepo != nil {
		if err := uc.auditRepo.CreateTx(ctx, tx, &domain.AuditLog{
			ID:           uc.idGen.Generate(),
			OwnerID:      txn.OwnerID,
			Action:       domain.AuditActionCounterRewind,
			ResourceType: string(o.Kind()),
			ResourceID:   key.ObligationID,
			BeforeState:  domain.JSON{"counter": counter, "active": o.Common().Active},
			AfterState:   domain.JSON{"counter": next, "active": active, "reversed_transaction_id": txn.ID},
			Status:       domain.AuditStatusSuccess,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetRun retrieves a processing run.
func (uc *MaterializationUseCase) GetRun(ctx context.Context, id string) (*domain.ProcessingRun, error) {
	return uc.runRepo.GetByID(ctx, id)
}

// ListRuns lists processing runs, newest first.
func (uc *MaterializationUseCase) ListRuns(ctx context.Context, limit, offset int) ([]*domain.ProcessingRun, error) {
	limit, offset, err := domain.ValidatePagination(limit, offset)
	if err != nil {
		return nil, err
	}
	return uc.runRepo.List(ctx, limit, offset)
}
