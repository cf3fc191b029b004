package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

const alertColumns = `
	id, owner_id, type, severity, dedup_key, subject, period, message, amount,
	due_date, read, dismissed, snoozed_until, created_at, updated_at`

// AlertRepository implements usecase.AlertRepository.
type AlertRepository struct {
	db DBTX
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create stores a new alert.
func (r *AlertRepository) Create(ctx context.Context, tx usecase.Transaction, alert *domain.Alert) error {
	_, err := conn(r.db, tx).Exec(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		alert.ID,
		alert.OwnerID,
		string(alert.Type),
		string(alert.Severity),
		alert.DedupKey,
		alert.Subject,
		alert.Period,
		alert.Message,
		decimalToNumeric(alert.Amount),
		dateToPg(alert.DueDate),
		alert.Read,
		alert.Dismissed,
		timePtrToPgTimestamptz(alert.SnoozedUntil),
		timeToPgTimestamptz(alert.CreatedAt),
		timeToPgTimestamptz(alert.UpdatedAt),
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

// GetByID retrieves an alert by ID.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	return r.getOne(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
}

// GetByDedupKey retrieves an owner's alert by its dedup key.
func (r *AlertRepository) GetByDedupKey(ctx context.Context, ownerID, dedupKey string) (*domain.Alert, error) {
	return r.getOne(ctx, `SELECT `+alertColumns+` FROM alerts WHERE owner_id = $1 AND dedup_key = $2`, ownerID, dedupKey)
}

func (r *AlertRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Alert, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	alert, err := pgx.CollectExactlyOneRow(rows, scanAlert)
	if err != nil {
		return nil, notFound(err, domain.ErrAlertNotFound)
	}
	return alert, nil
}

// UpdateComputed stores the fields an evaluation recomputes. Read, dismissed
// and snooze state are left alone.
func (r *AlertRepository) UpdateComputed(ctx context.Context, tx usecase.Transaction, alert *domain.Alert) error {
	tag, err := conn(r.db, tx).Exec(ctx, `
		UPDATE alerts
		SET severity = $2, message = $3, amount = $4, due_date = $5, updated_at = $6
		WHERE id = $1`,
		alert.ID,
		string(alert.Severity),
		alert.Message,
		decimalToNumeric(alert.Amount),
		dateToPg(alert.DueDate),
		timeToPgTimestamptz(alert.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlertNotFound
	}
	return nil
}

// UpdateState stores read, dismissed and snooze state.
func (r *AlertRepository) UpdateState(ctx context.Context, alert *domain.Alert) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE alerts
		SET read = $2, dismissed = $3, snoozed_until = $4, updated_at = $5
		WHERE id = $1`,
		alert.ID,
		alert.Read,
		alert.Dismissed,
		timePtrToPgTimestamptz(alert.SnoozedUntil),
		timeToPgTimestamptz(alert.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update alert state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlertNotFound
	}
	return nil
}

// ListByOwner lists an owner's alerts, most urgent due date first.
func (r *AlertRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Alert, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE owner_id = $1
		ORDER BY due_date, created_at, id`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAlert)
}

func scanAlert(row pgx.CollectableRow) (*domain.Alert, error) {
	var (
		a            domain.Alert
		alertType    string
		severity     string
		amount       pgtype.Numeric
		dueDate      pgtype.Date
		snoozedUntil pgtype.Timestamptz
		createdAt    pgtype.Timestamptz
		updatedAt    pgtype.Timestamptz
	)

	err := row.Scan(
		&a.ID, &a.OwnerID, &alertType, &severity, &a.DedupKey, &a.Subject, &a.Period, &a.Message,
		&amount, &dueDate, &a.Read, &a.Dismissed, &snoozedUntil, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Type = domain.AlertType(alertType)
	a.Severity = domain.Severity(severity)
	a.Amount = numericToDecimal(amount)
	a.DueDate = domain.DateOf(dueDate.Time)
	a.SnoozedUntil = pgTimestamptzToPtr(snoozedUntil)
	a.CreatedAt = createdAt.Time
	a.UpdatedAt = updatedAt.Time

	return &a, nil
}
