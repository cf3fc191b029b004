package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

const transactionColumns = `
	id, owner_id, scope, obligation_id, period_index, direction, amount,
	currency, occurred_on, origin, description, created_at`

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	db DBTX
}

// Create appends a transaction.
func (r *LedgerRepository) Create(ctx context.Context, tx usecase.Transaction, txn *domain.LedgerTransaction) error {
	var obligationID sql.NullString
	var periodIndex sql.NullInt64
	if key, ok := txn.Key(); ok {
		obligationID = sql.NullString{String: key.ObligationID, Valid: true}
		periodIndex = nullInt(key.PeriodIndex, true)
	}

	_, err := conn(r.db, tx).ExecContext(ctx, `
		INSERT INTO ledger_transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.OwnerID, domain.NormalizeScope(txn.Scope), obligationID, periodIndex,
		string(txn.Direction), txn.Amount.String(), txn.Currency, domain.FormatDate(txn.OccurredOn),
		string(txn.Origin), txn.Description, formatTime(txn.CreatedAt),
	)
	return mapConstraint(err)
}

// GetByID retrieves a transaction by ID.
func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*domain.LedgerTransaction, error) {
	return r.get(ctx, r.db, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = ?`, id)
}

// GetByIDForUpdate reads within tx.
func (r *LedgerRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.LedgerTransaction, error) {
	return r.get(ctx, conn(r.db, tx), `SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = ?`, id)
}

func (r *LedgerRepository) get(ctx context.Context, db DBTX, query string, args ...any) (*domain.LedgerTransaction, error) {
	txn, err := scanTransaction(db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err, domain.ErrTransactionNotFound)
	}
	return txn, nil
}

// Delete removes a transaction.
func (r *LedgerRepository) Delete(ctx context.Context, tx usecase.Transaction, id string) error {
	res, err := conn(r.db, tx).ExecContext(ctx, `DELETE FROM ledger_transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return mustAffect(res, domain.ErrTransactionNotFound)
}

// FindByPeriod retrieves the transaction materialized for one obligation period.
func (r *LedgerRepository) FindByPeriod(ctx context.Context, obligationID string, periodIndex int) (*domain.LedgerTransaction, error) {
	return r.get(ctx, r.db, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		WHERE obligation_id = ? AND period_index = ?`,
		obligationID, periodIndex,
	)
}

// ListMaterializedPeriods returns the periods materialized for ownerID
// with an occurrence date within [from, to].
func (r *LedgerRepository) ListMaterializedPeriods(ctx context.Context, ownerID string, from, to time.Time) ([]domain.PeriodKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT obligation_id, period_index
		FROM ledger_transactions
		WHERE owner_id = ? AND obligation_id IS NOT NULL AND occurred_on BETWEEN ? AND ?
		ORDER BY obligation_id, period_index`,
		ownerID, domain.FormatDate(from), domain.FormatDate(to),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.PeriodKey
	for rows.Next() {
		var key domain.PeriodKey
		if err := rows.Scan(&key.ObligationID, &key.PeriodIndex); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ListByOwner lists an owner's transactions, newest first.
func (r *LedgerRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.LedgerTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		WHERE owner_id = ?
		ORDER BY occurred_on DESC, id DESC
		LIMIT ? OFFSET ?`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*domain.LedgerTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// CountMaterialized returns the number of materialized transactions per obligation.
func (r *LedgerRepository) CountMaterialized(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT obligation_id, COUNT(*)
		FROM ledger_transactions
		WHERE obligation_id IS NOT NULL
		GROUP BY obligation_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func scanTransaction(s scanner) (*domain.LedgerTransaction, error) {
	var (
		txn                                   domain.LedgerTransaction
		obligationID                          sql.NullString
		periodIndex                           sql.NullInt64
		direction, amount, occurredOn, origin string
		createdAt                             string
	)

	err := s.Scan(
		&txn.ID, &txn.OwnerID, &txn.Scope, &obligationID, &periodIndex, &direction, &amount,
		&txn.Currency, &occurredOn, &origin, &txn.Description, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if obligationID.Valid {
		id := obligationID.String
		txn.ObligationID = &id
	}
	if periodIndex.Valid {
		idx := int(periodIndex.Int64)
		txn.PeriodIndex = &idx
	}

	var p parser
	txn.Direction = domain.Direction(direction)
	txn.Amount = p.decimal(amount)
	txn.OccurredOn = p.date(occurredOn)
	txn.Origin = domain.Origin(origin)
	txn.CreatedAt = p.time(createdAt)
	if p.err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", txn.ID, p.err)
	}

	return &txn, nil
}
