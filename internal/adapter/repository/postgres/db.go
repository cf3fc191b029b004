package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

// DBTX is what repositories need from a pool or a transaction.
// *pgxpool.Pool and pgx.Tx both satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const pgErrUniqueViolation = "23505"

// Unique constraints that carry domain meaning.
const (
	constraintObligationPeriod = "ledger_transactions_obligation_period"
	constraintOneCurrent       = "balance_snapshots_one_current"
	constraintAlertDedupKey    = "alerts_owner_dedup_key"
)

// conn returns the pgx transaction behind tx, or db when tx is nil.
func conn(db DBTX, tx usecase.Transaction) DBTX {
	if t, ok := tx.(*Tx); ok && t != nil {
		return t.PgxTx()
	}
	return db
}

// mapUniqueViolation translates the unique constraints the engine relies on
// into domain errors.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgErrUniqueViolation {
		return err
	}

	switch pgErr.ConstraintName {
	case constraintObligationPeriod:
		return domain.ErrMaterializationConflict
	case constraintOneCurrent:
		return domain.ErrDuplicateCurrentBalance
	case constraintAlertDedupKey:
		return domain.ErrDuplicateAlert
	default:
		return err
	}
}

// notFound maps pgx.ErrNoRows to target.
func notFound(err, target error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return target
	}
	return err
}

// Type conversion helpers.
func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric

	_ = n.Scan(d.String())

	return n
}

func nullableNumeric(d decimal.Decimal, set bool) pgtype.Numeric {
	if !set {
		return pgtype.Numeric{}
	}
	return decimalToNumeric(d)
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}

	d := decimal.NewFromBigInt(n.Int, n.Exp)

	return d
}

func timeToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func timePtrToPgTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return timeToPgTimestamptz(*t)
}

func pgTimestamptzToPtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func dateToPg(t time.Time) pgtype.Date {
	return pgtype.Date{Time: domain.DateOf(t), Valid: true}
}

func datePtrToPg(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return dateToPg(*t)
}

func pgDateToPtr(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	v := domain.DateOf(d.Time)
	return &v
}

func pgInt4(v int, set bool) pgtype.Int4 {
	return pgtype.Int4{Int32: int32(v), Valid: set}
}

func pgText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
