package sqlite

import (
	"context"
	"fmt"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

const balanceColumns = `id, owner_id, scope, amount, currency, is_current, effective_date, created_at`

// BalanceRepository implements usecase.BalanceRepository.
type BalanceRepository struct {
	db DBTX
}

// LockScope is a no-op: transactions begin IMMEDIATE and hold the database
// write lock, so writers of every scope are already serialized.
func (r *BalanceRepository) LockScope(context.Context, usecase.Transaction, string, string) error {
	return nil
}

// GetCurrent returns the current snapshot of (owner, scope).
func (r *BalanceRepository) GetCurrent(ctx context.Context, ownerID, scope string) (*domain.BalanceSnapshot, error) {
	return r.getCurrent(ctx, r.db, ownerID, scope)
}

// GetCurrentTx is GetCurrent within tx.
func (r *BalanceRepository) GetCurrentTx(ctx context.Context, tx usecase.Transaction, ownerID, scope string) (*domain.BalanceSnapshot, error) {
	return r.getCurrent(ctx, conn(r.db, tx), ownerID, scope)
}

func (r *BalanceRepository) getCurrent(ctx context.Context, db DBTX, ownerID, scope string) (*domain.BalanceSnapshot, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+balanceColumns+`
		FROM balance_snapshots
		WHERE owner_id = ? AND scope = ? AND is_current = 1
		ORDER BY created_at DESC
		LIMIT 1`,
		ownerID, domain.NormalizeScope(scope),
	)
	s, err := scanSnapshot(row)
	if err != nil {
		return nil, notFound(err, domain.ErrBalanceNotFound)
	}
	return s, nil
}

// ClearCurrent demotes a snapshot to history.
func (r *BalanceRepository) ClearCurrent(ctx context.Context, tx usecase.Transaction, id string) error {
	if _, err := conn(r.db, tx).ExecContext(ctx, `UPDATE balance_snapshots SET is_current = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("clear current balance: %w", err)
	}
	return nil
}

// Insert appends a snapshot.
func (r *BalanceRepository) Insert(ctx context.Context, tx usecase.Transaction, s *domain.BalanceSnapshot) error {
	_, err := conn(r.db, tx).ExecContext(ctx, `
		INSERT INTO balance_snapshots (`+balanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.OwnerID, domain.NormalizeScope(s.Scope), s.Amount.String(), s.Currency, s.IsCurrent,
		domain.FormatDate(s.EffectiveDate), formatTime(s.CreatedAt),
	)
	return mapConstraint(err)
}

// ListCurrent returns the current snapshot of each of the owner's scopes.
func (r *BalanceRepository) ListCurrent(ctx context.Context, ownerID string) ([]*domain.BalanceSnapshot, error) {
	return r.list(ctx, `
		SELECT `+balanceColumns+`
		FROM balance_snapshots
		WHERE owner_id = ? AND is_current = 1
		ORDER BY scope`,
		ownerID,
	)
}

// History lists the snapshots of (owner, scope), newest first.
func (r *BalanceRepository) History(ctx context.Context, ownerID, scope string, limit, offset int) ([]*domain.BalanceSnapshot, error) {
	return r.list(ctx, `
		SELECT `+balanceColumns+`
		FROM balance_snapshots
		WHERE owner_id = ? AND scope = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`,
		ownerID, domain.NormalizeScope(scope), limit, offset,
	)
}

func (r *BalanceRepository) list(ctx context.Context, query string, args ...any) ([]*domain.BalanceSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*domain.BalanceSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// FindMultipleCurrent reports scopes with more than one current row.
func (r *BalanceRepository) FindMultipleCurrent(ctx context.Context) ([]usecase.CurrentBalanceCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT owner_id, scope, COUNT(*)
		FROM balance_snapshots
		WHERE is_current = 1
		GROUP BY owner_id, scope
		HAVING COUNT(*) > 1
		ORDER BY owner_id, scope`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []usecase.CurrentBalanceCount
	for rows.Next() {
		var c usecase.CurrentBalanceCount
		if err := rows.Scan(&c.OwnerID, &c.Scope, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func scanSnapshot(row scanner) (*domain.BalanceSnapshot, error) {
	var (
		s                                domain.BalanceSnapshot
		amount, effectiveDate, createdAt string
	)

	if err := row.Scan(&s.ID, &s.OwnerID, &s.Scope, &amount, &s.Currency, &s.IsCurrent, &effectiveDate, &createdAt); err != nil {
		return nil, err
	}

	var p parser
	s.Amount = p.decimal(amount)
	s.EffectiveDate = p.date(effectiveDate)
	s.CreatedAt = p.time(createdAt)
	if p.err != nil {
		return nil, fmt.Errorf("decode balance snapshot %s: %w", s.ID, p.err)
	}

	return &s, nil
}
