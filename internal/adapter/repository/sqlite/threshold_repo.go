package sqlite

import (
	"context"
	"fmt"

	"github.com/iho/cashflow/internal/domain"
)

// ThresholdRepository implements usecase.ThresholdRepository.
type ThresholdRepository struct {
	db DBTX
}

// Get returns the owner's thresholds, or domain.ErrNoThresholds.
func (r *ThresholdRepository) Get(ctx context.Context, ownerID string) (*domain.AlertThresholds, error) {
	var (
		t                                          domain.AlertThresholds
		lowBalance, largePayment, ratio, updatedAt string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT owner_id, low_balance, large_payment, large_payment_warning_ratio, lookahead_days, updated_at
		FROM alert_thresholds
		WHERE owner_id = ?`,
		ownerID,
	).Scan(&t.OwnerID, &lowBalance, &largePayment, &ratio, &t.LookaheadDays, &updatedAt)
	if err != nil {
		return nil, notFound(err, domain.ErrNoThresholds)
	}

	var p parser
	t.LowBalance = p.decimal(lowBalance)
	t.LargePayment = p.decimal(largePayment)
	t.LargePaymentWarningRatio = p.decimal(ratio)
	t.UpdatedAt = p.time(updatedAt)
	if p.err != nil {
		return nil, fmt.Errorf("decode thresholds of %s: %w", ownerID, p.err)
	}

	return &t, nil
}

// Upsert stores the owner's thresholds.
func (r *ThresholdRepository) Upsert(ctx context.Context, t *domain.AlertThresholds) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_thresholds (owner_id, low_balance, large_payment, large_payment_warning_ratio, lookahead_days, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			low_balance = excluded.low_balance,
			large_payment = excluded.large_payment,
			large_payment_warning_ratio = excluded.large_payment_warning_ratio,
			lookahead_days = excluded.lookahead_days,
			updated_at = excluded.updated_at`,
		t.OwnerID, t.LowBalance.String(), t.LargePayment.String(), t.LargePaymentWarningRatio.String(),
		t.LookaheadDays, formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert thresholds: %w", err)
	}
	return nil
}
