package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

const balanceColumns = `id, owner_id, scope, amount, currency, is_current, effective_date, created_at`

// BalanceRepository implements usecase.BalanceRepository. At most one row per
// (owner, scope) is current; the balance_snapshots_one_current partial unique
// index enforces it.
type BalanceRepository struct {
	db DBTX
}

// NewBalanceRepository creates a new BalanceRepository.
func NewBalanceRepository(db DBTX) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// LockScope takes a transaction-scoped advisory lock on (owner, scope).
func (r *BalanceRepository) LockScope(ctx context.Context, tx usecase.Transaction, ownerID, scope string) error {
	_, err := conn(r.db, tx).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1 || '/' || $2))`,
		ownerID, domain.NormalizeScope(scope),
	)
	if err != nil {
		return fmt.Errorf("lock balance scope: %w", err)
	}
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
	rows, err := db.Query(ctx, `
		SELECT `+balanceColumns+`
		FROM balance_snapshots
		WHERE owner_id = $1 AND scope = $2 AND is_current
		ORDER BY created_at DESC
		LIMIT 1`,
		ownerID, domain.NormalizeScope(scope),
	)
	if err != nil {
		return nil, err
	}

	snapshot, err := pgx.CollectExactlyOneRow(rows, scanSnapshot)
	if err != nil {
		return nil, notFound(err, domain.ErrBalanceNotFound)
	}
	return snapshot, nil
}

// ClearCurrent demotes a snapshot to history.
func (r *BalanceRepository) ClearCurrent(ctx context.Context, tx usecase.Transaction, id string) error {
	_, err := conn(r.db, tx).Exec(ctx, `UPDATE balance_snapshots SET is_current = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear current balance: %w", err)
	}
	return nil
}

// Insert appends a snapshot.
func (r *BalanceRepository) Insert(ctx context.Context, tx usecase.Transaction, snapshot *domain.BalanceSnapshot) error {
	_, err := conn(r.db, tx).Exec(ctx, `
		INSERT INTO balance_snapshots (`+balanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		snapshot.ID,
		snapshot.OwnerID,
		domain.NormalizeScope(snapshot.Scope),
		decimalToNumeric(snapshot.Amount),
		snapshot.Currency,
		snapshot.IsCurrent,
		dateToPg(snapshot.EffectiveDate),
		timeToPgTimestamptz(snapshot.CreatedAt),
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

// ListCurrent returns the current snapshot of each of the owner's scopes.
func (r *BalanceRepository) ListCurrent(ctx context.Context, ownerID string) ([]*domain.BalanceSnapshot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+balanceColumns+`
		FROM balance_snapshots
		WHERE owner_id = $1 AND is_current
		ORDER BY scope`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSnapshot)
}

// History lists the snapshots of (owner, scope), newest first.
func (r *BalanceRepository) History(ctx context.Context, ownerID, scope string, limit, offset int) ([]*domain.BalanceSnapshot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+balanceColumns+`
		FROM balance_snapshots
		WHERE owner_id = $1 AND scope = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		ownerID, domain.NormalizeScope(scope), limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSnapshot)
}

// FindMultipleCurrent reports scopes with more than one current row. With the
// unique index in place it only finds rows written around it.
func (r *BalanceRepository) FindMultipleCurrent(ctx context.Context) ([]usecase.CurrentBalanceCount, error) {
	rows, err := r.db.Query(ctx, `
		SELECT owner_id, scope, COUNT(*)
		FROM balance_snapshots
		WHERE is_current
		GROUP BY owner_id, scope
		HAVING COUNT(*) > 1
		ORDER BY owner_id, scope`,
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (usecase.CurrentBalanceCount, error) {
		var c usecase.CurrentBalanceCount
		var n int64
		err := row.Scan(&c.OwnerID, &c.Scope, &n)
		c.Count = int(n)
		return c, err
	})
}

func scanSnapshot(row pgx.CollectableRow) (*domain.BalanceSnapshot, error) {
	var (
		s             domain.BalanceSnapshot
		amount        pgtype.Numeric
		effectiveDate pgtype.Date
		createdAt     pgtype.Timestamptz
	)

	if err := row.Scan(&s.ID, &s.OwnerID, &s.Scope, &amount, &s.Currency, &s.IsCurrent, &effectiveDate, &createdAt); err != nil {
		return nil, err
	}

	s.Amount = numericToDecimal(amount)
	s.EffectiveDate = domain.DateOf(effectiveDate.Time)
	s.CreatedAt = createdAt.Time

	return &s, nil
}
