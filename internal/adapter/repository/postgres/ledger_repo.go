package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

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

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create appends a transaction. The obligation-period unique index turns a
// second materialization of the same period into ErrMaterializationConflict.
func (r *LedgerRepository) Create(ctx context.Context, tx usecase.Transaction, txn *domain.LedgerTransaction) error {
	var obligationID pgtype.Text
	var periodIndex pgtype.Int4
	if key, ok := txn.Key(); ok {
		obligationID = pgtype.Text{String: key.ObligationID, Valid: true}
		periodIndex = pgInt4(key.PeriodIndex, true)
	}

	_, err := conn(r.db, tx).Exec(ctx, `
		INSERT INTO ledger_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		txn.ID,
		txn.OwnerID,
		domain.NormalizeScope(txn.Scope),
		obligationID,
		periodIndex,
		string(txn.Direction),
		decimalToNumeric(txn.Amount),
		txn.Currency,
		dateToPg(txn.OccurredOn),
		string(txn.Origin),
		txn.Description,
		timeToPgTimestamptz(txn.CreatedAt),
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

// GetByID retrieves a transaction by ID.
func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*domain.LedgerTransaction, error) {
	return r.get(ctx, r.db, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves a transaction and locks its row until tx ends.
func (r *LedgerRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.LedgerTransaction, error) {
	return r.get(ctx, conn(r.db, tx), `SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = $1 FOR UPDATE`, id)
}

func (r *LedgerRepository) get(ctx context.Context, db DBTX, query string, args ...any) (*domain.LedgerTransaction, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	txn, err := pgx.CollectExactlyOneRow(rows, scanTransaction)
	if err != nil {
		return nil, notFound(err, domain.ErrTransactionNotFound)
	}
	return txn, nil
}

// Delete removes a transaction.
func (r *LedgerRepository) Delete(ctx context.Context, tx usecase.Transaction, id string) error {
	tag, err := conn(r.db, tx).Exec(ctx, `DELETE FROM ledger_transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

// FindByPeriod retrieves the transaction materialized for one obligation period.
func (r *LedgerRepository) FindByPeriod(ctx context.Context, obligationID string, periodIndex int) (*domain.LedgerTransaction, error) {
	return r.get(ctx, r.db, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		WHERE obligation_id = $1 AND period_index = $2`,
		obligationID, periodIndex,
	)
}

// ListMaterializedPeriods returns the periods materialized for ownerID
// with an occurrence date within [from, to].
func (r *LedgerRepository) ListMaterializedPeriods(ctx context.Context, ownerID string, from, to time.Time) ([]domain.PeriodKey, error) {
	rows, err := r.db.Query(ctx, `
		SELECT obligation_id, period_index
		FROM ledger_transactions
		WHERE owner_id = $1
		  AND obligation_id IS NOT NULL
		  AND occurred_on BETWEEN $2 AND $3
		ORDER BY obligation_id, period_index`,
		ownerID, dateToPg(from), dateToPg(to),
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PeriodKey, error) {
		var key domain.PeriodKey
		var idx int32
		err := row.Scan(&key.ObligationID, &idx)
		key.PeriodIndex = int(idx)
		return key, err
	})
}

// ListByOwner lists an owner's transactions, newest first.
func (r *LedgerRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.LedgerTransaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		WHERE owner_id = $1
		ORDER BY occurred_on DESC, id DESC
		LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTransaction)
}

// CountMaterialized returns the number of materialized transactions per obligation.
func (r *LedgerRepository) CountMaterialized(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT obligation_id, COUNT(*)
		FROM ledger_transactions
		WHERE obligation_id IS NOT NULL
		GROUP BY obligation_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = int(n)
	}
	return counts, rows.Err()
}

func scanTransaction(row pgx.CollectableRow) (*domain.LedgerTransaction, error) {
	var (
		txn          domain.LedgerTransaction
		obligationID pgtype.Text
		periodIndex  pgtype.Int4
		direction    string
		amount       pgtype.Numeric
		occurredOn   pgtype.Date
		origin       string
		createdAt    pgtype.Timestamptz
	)

	err := row.Scan(
		&txn.ID,
		&txn.OwnerID,
		&txn.Scope,
		&obligationID,
		&periodIndex,
		&direction,
		&amount,
		&txn.Currency,
		&occurredOn,
		&origin,
		&txn.Description,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if obligationID.Valid {
		id := obligationID.String
		txn.ObligationID = &id
	}
	if periodIndex.Valid {
		idx := int(periodIndex.Int32)
		txn.PeriodIndex = &idx
	}
	txn.Direction = domain.Direction(direction)
	txn.Amount = numericToDecimal(amount)
	txn.OccurredOn = domain.DateOf(occurredOn.Time)
	txn.Origin = domain.Origin(origin)
	txn.CreatedAt = createdAt.Time

	return &txn, nil
}
