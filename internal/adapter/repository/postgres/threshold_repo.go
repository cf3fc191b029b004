package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/cashflow/internal/domain"
)

// ThresholdRepository implements usecase.ThresholdRepository.
type ThresholdRepository struct {
	db DBTX
}

// NewThresholdRepository creates a new ThresholdRepository.
func NewThresholdRepository(db DBTX) *ThresholdRepository {
	return &ThresholdRepository{db: db}
}

// Get returns the owner's thresholds, or domain.ErrNoThresholds.
func (r *ThresholdRepository) Get(ctx context.Context, ownerID string) (*domain.AlertThresholds, error) {
	var (
		t                               domain.AlertThresholds
		lowBalance, largePayment, ratio pgtype.Numeric
		lookahead                       int32
		updatedAt                       pgtype.Timestamptz
	)

	err := r.db.QueryRow(ctx, `
		SELECT owner_id, low_balance, large_payment, large_payment_warning_ratio, lookahead_days, updated_at
		FROM alert_thresholds
		WHERE owner_id = $1`,
		ownerID,
	).Scan(&t.OwnerID, &lowBalance, &largePayment, &ratio, &lookahead, &updatedAt)
	if err != nil {
		return nil, notFound(err, domain.ErrNoThresholds)
	}

	t.LowBalance = numericToDecimal(lowBalance)
	t.LargePayment = numericToDecimal(largePayment)
	t.LargePaymentWarningRatio = numericToDecimal(ratio)
	t.LookaheadDays = int(lookahead)
	t.UpdatedAt = updatedAt.Time

	return &t, nil
}

// Upsert stores the owner's thresholds, replacing any previous values.
func (r *ThresholdRepository) Upsert(ctx context.Context, t *domain.AlertThresholds) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO alert_thresholds (owner_id, low_balance, large_payment, large_payment_warning_ratio, lookahead_days, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id) DO UPDATE SET
			low_balance = EXCLUDED.low_balance,
			large_payment = EXCLUDED.large_payment,
			large_payment_warning_ratio = EXCLUDED.large_payment_warning_ratio,
			lookahead_days = EXCLUDED.lookahead_days,
			updated_at = EXCLUDED.updated_at`,
		t.OwnerID,
		decimalToNumeric(t.LowBalance),
		decimalToNumeric(t.LargePayment),
		decimalToNumeric(t.LargePaymentWarningRatio),
		t.LookaheadDays,
		timeToPgTimestamptz(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert thresholds: %w", err)
	}
	return nil
}
