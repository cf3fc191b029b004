package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/cashflow/internal/alerting"
	"github.com/iho/cashflow/internal/domain"
)

// Projector computes uncached forecasts for the alert evaluator.
type Projector interface {
	Projection(ctx context.Context, ownerID string, horizonDays int, asOf time.Time) (*Projection, error)
}

// AlertUseCase derives alerts from forecasts and manages their lifecycle.
type AlertUseCase struct {
	txManager     TransactionManager
	alertRepo     AlertRepository
	thresholdRepo ThresholdRepository
	projector     Projector
	idGen         IDGenerator
	outbox        outboxWriter
	defaults      domain.AlertThresholds
	metrics       Metrics
	logger        zerolog.Logger
	now           func() time.Time
}

// NewAlertUseCase creates a new AlertUseCase. defaults apply to owners
// without stored thresholds.
func NewAlertUseCase(
	txManager TransactionManager,
	alertRepo AlertRepository,
	thresholdRepo ThresholdRepository,
	outboxRepo OutboxRepository,
	projector Projector,
	idGen IDGenerator,
	defaults domain.AlertThresholds,
) *AlertUseCase {
	return &AlertUseCase{
		txManager:     txManager,
		alertRepo:     alertRepo,
		thresholdRepo: thresholdRepo,
		projector:     projector,
		idGen:         idGen,
		outbox:        outboxWriter{repo: outboxRepo, idGen: idGen},
		defaults:      defaults,
		metrics:       nopMetrics{},
		logger:        zerolog.Nop(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics sets the telemetry sink.
func (uc *AlertUseCase) WithMetrics(m Metrics) *AlertUseCase {
	uc.metrics = m
	return uc
}

// WithLogger sets the logger.
func (uc *AlertUseCase) WithLogger(l zerolog.Logger) *AlertUseCase {
	uc.logger = l
	return uc
}

// WithClock replaces the wall clock.
func (uc *AlertUseCase) WithClock(now func() time.Time) *AlertUseCase {
	uc.now = now
	return uc
}

// Evaluate projects the owner's balance over the lookahead window, derives
// alerts and stores them deduplicated by (owner, dedup key). Existing
// alerts only get their computed fields refreshed, so read, dismissed and
// snoozed state survives re-evaluation. The visible alerts of this
// evaluation are returned, most severe first.
func (uc *AlertUseCase) Evaluate(ctx context.Context, ownerID string) ([]*domain.Alert, error) {
	if err := domain.ValidateOwnerID(ownerID); err != nil {
		return nil, err
	}

	thresholds, err := uc.GetThresholds(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	p, err := uc.projector.Projection(ctx, ownerID, thresholds.LookaheadDays, domain.DateOf(now))
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", ownerID, err)
	}

	var payments []alerting.Payment
	for _, occ := range p.Occurrences {
		if occ.Direction != domain.DirectionOutflow {
			continue
		}
		name := ""
		if o, ok := p.Obligations[occ.ObligationID]; ok {
			name = o.Common().Name
		}
		payments = append(payments, alerting.Payment{
			ObligationID: occ.ObligationID,
			Name:         name,
			DueDate:      occ.Date,
			Amount:       occ.Amount,
		})
	}

	derived := alerting.Derive(alerting.Input{
		OwnerID:        ownerID,
		Currency:       p.Currency,
		CurrentBalance: p.StartBalance,
		Points:         p.Points,
		Payments:       payments,
		Thresholds:     *thresholds,
		Now:            now,
	})

	stored := make([]*domain.Alert, 0, len(derived))
	for _, a := range derived {
		s, err := uc.upsert(ctx, a, now)
		if err != nil {
			return nil, err
		}
		stored = append(stored, s)
	}

	visible := alerting.Visible(stored, now)
	alerting.Sort(visible)
	return visible, nil
}

func (uc *AlertUseCase) upsert(ctx context.Context, next *domain.Alert, now time.Time) (*domain.Alert, error) {
	existing, err := uc.alertRepo.GetByDedupKey(ctx, next.OwnerID, next.DedupKey)
	switch {
	case err == nil:
		return uc.refresh(ctx, existing, next, now)
	case !errors.Is(err, domain.ErrAlertNotFound):
		return nil, err
	}

	next.ID = uc.idGen.Generate()
	err = uc.inTx(ctx, func(tx Transaction) error {
		if err := uc.alertRepo.Create(ctx, tx, next); err != nil {
			return err
		}
		return uc.outbox.enqueue(ctx, tx, domain.AggregateTypeAlert, next.ID, domain.EventTypeAlertRaised,
			domain.MarshalState(domain.AlertRaisedEvent{
				AlertID:  next.ID,
				OwnerID:  next.OwnerID,
				Type:     string(next.Type),
				Severity: string(next.Severity),
				DedupKey: next.DedupKey,
			}), now)
	})
	if errors.Is(err, domain.ErrDuplicateAlert) {
		// A concurrent evaluation stored the same key first.
		existing, err := uc.alertRepo.GetByDedupKey(ctx, next.OwnerID, next.DedupKey)
		if err != nil {
			return nil, err
		}
		return uc.refresh(ctx, existing, next, now)
	}
	if err != nil {
		return nil, err
	}

	uc.metrics.AlertRaised(next.Type, next.Severity)
	uc.logger.Info().
		Str("owner_id", next.OwnerID).
		Str("alert_id", next.ID).
		Str("type", string(next.Type)).
		Str("severity", string(next.Severity)).
		Msg("alert raised")

	return next, nil
}

func (uc *AlertUseCase) refresh(ctx context.Context, existing, next *domain.Alert, now time.Time) (*domain.Alert, error) {
	if existing.Severity == next.Severity &&
		existing.Message == next.Message &&
		existing.Amount.Equal(next.Amount) &&
		existing.DueDate.Equal(next.DueDate) {
		return existing, nil
	}

	existing.Refresh(next, now)
	err := uc.inTx(ctx, func(tx Transaction) error {
		return uc.alertRepo.UpdateComputed(ctx, tx, existing)
	})
	if err != nil {
		return nil, err
	}
	return existing, nil
}

func (uc *AlertUseCase) inTx(ctx context.Context, fn func(tx Transaction) error) error {
	tx, err := uc.txManager.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// List returns the owner's alerts, most severe first. Hidden alerts are
// included only when includeHidden is set.
func (uc *AlertUseCase) List(ctx context.Context, ownerID string, includeHidden bool) ([]*domain.Alert, error) {
	alerts, err := uc.alertRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !includeHidden {
		alerts = alerting.Visible(alerts, uc.now())
	}
	alerting.Sort(alerts)
	return alerts, nil
}

// MarkRead marks an alert as read.
func (uc *AlertUseCase) MarkRead(ctx context.Context, ownerID, id string) (*domain.Alert, error) {
	return uc.mutate(ctx, ownerID, id, func(a *domain.Alert) error {
		a.Read = true
		return nil
	})
}

// Dismiss hides an alert for good. Re-evaluation keeps it dismissed.
func (uc *AlertUseCase) Dismiss(ctx context.Context, ownerID, id string) (*domain.Alert, error) {
	return uc.mutate(ctx, ownerID, id, func(a *domain.Alert) error {
		a.Dismissed = true
		return nil
	})
}

// Snooze hides an alert until the given time. Visibility is recomputed on
// every read, so nothing needs to wake it up.
func (uc *AlertUseCase) Snooze(ctx context.Context, ownerID, id string, until time.Time) (*domain.Alert, error) {
	if !until.After(uc.now()) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidSnooze, until.Format(time.RFC3339))
	}
	until = until.UTC()

	return uc.mutate(ctx, ownerID, id, func(a *domain.Alert) error {
		a.SnoozedUntil = &until
		return nil
	})
}

func (uc *AlertUseCase) mutate(ctx context.Context, ownerID, id string, fn func(*domain.Alert) error) (*domain.Alert, error) {
	a, err := uc.alertRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, domain.ErrAlertNotFound
	}

	if err := fn(a); err != nil {
		return nil, err
	}
	a.UpdatedAt = uc.now()

	if err := uc.alertRepo.UpdateState(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetThresholds returns the owner's thresholds, falling back to the
// configured defaults.
func (uc *AlertUseCase) GetThresholds(ctx context.Context, ownerID string) (*domain.AlertThresholds, error) {
	t, err := uc.thresholdRepo.Get(ctx, ownerID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, domain.ErrNoThresholds) {
		return nil, err
	}

	defaults := uc.defaults
	defaults.OwnerID = ownerID
	return &defaults, nil
}

// SetThresholds validates and stores the owner's thresholds.
func (uc *AlertUseCase) SetThresholds(ctx context.Context, t *domain.AlertThresholds) (*domain.AlertThresholds, error) {
	if err := domain.ValidateOwnerID(t.OwnerID); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	t.UpdatedAt = uc.now()
	if err := uc.thresholdRepo.Upsert(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
