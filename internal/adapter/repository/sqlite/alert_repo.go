package sqlite

import (
	"context"
	"database/sql"
	"fmt"

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

// Create stores a new alert.
func (r *AlertRepository) Create(ctx context.Context, tx usecase.Transaction, a *domain.Alert) error {
	_, err := conn(r.db, tx).ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, string(a.Type), string(a.Severity), a.DedupKey, a.Subject, a.Period, a.Message,
		a.Amount.String(), domain.FormatDate(a.DueDate), a.Read, a.Dismissed, nullTime(a.SnoozedUntil),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	return mapConstraint(err)
}

// GetByID retrieves an alert by ID.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	return r.getOne(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
}

// GetByDedupKey retrieves an owner's alert by dedup key.
func (r *AlertRepository) GetByDedupKey(ctx context.Context, ownerID, dedupKey string) (*domain.Alert, error) {
	return r.getOne(ctx, `SELECT `+alertColumns+` FROM alerts WHERE owner_id = ? AND dedup_key = ?`, ownerID, dedupKey)
}

func (r *AlertRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Alert, error) {
	a, err := scanAlert(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err, domain.ErrAlertNotFound)
	}
	return a, nil
}

// UpdateComputed stores the fields an evaluation recomputes.
func (r *AlertRepository) UpdateComputed(ctx context.Context, tx usecase.Transaction, a *domain.Alert) error {
	res, err := conn(r.db, tx).ExecContext(ctx, `
		UPDATE alerts SET severity = ?, message = ?, amount = ?, due_date = ?, updated_at = ?
		WHERE id = ?`,
		string(a.Severity), a.Message, a.Amount.String(), domain.FormatDate(a.DueDate), formatTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	return mustAffect(res, domain.ErrAlertNotFound)
}

// UpdateState stores read, dismissed and snooze state.
func (r *AlertRepository) UpdateState(ctx context.Context, a *domain.Alert) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET read = ?, dismissed = ?, snoozed_until = ?, updated_at = ?
		WHERE id = ?`,
		a.Read, a.Dismissed, nullTime(a.SnoozedUntil), formatTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert state: %w", err)
	}
	return mustAffect(res, domain.ErrAlertNotFound)
}

// ListByOwner lists an owner's alerts by due date.
func (r *AlertRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE owner_id = ?
		ORDER BY due_date, created_at, id`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func scanAlert(s scanner) (*domain.Alert, error) {
	var (
		a                                    domain.Alert
		alertType, severity, amount, dueDate string
		createdAt, updatedAt                 string
		snoozedUntil                         sql.NullString
	)

	err := s.Scan(
		&a.ID, &a.OwnerID, &alertType, &severity, &a.DedupKey, &a.Subject, &a.Period, &a.Message,
		&amount, &dueDate, &a.Read, &a.Dismissed, &snoozedUntil, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	var p parser
	a.Type = domain.AlertType(alertType)
	a.Severity = domain.Severity(severity)
	a.Amount = p.decimal(amount)
	a.DueDate = p.date(dueDate)
	a.SnoozedUntil = p.nullTime(snoozedUntil)
	a.CreatedAt = p.time(createdAt)
	a.UpdatedAt = p.time(updatedAt)
	if p.err != nil {
		return nil, fmt.Errorf("decode alert %s: %w", a.ID, p.err)
	}

	return &a, nil
}
