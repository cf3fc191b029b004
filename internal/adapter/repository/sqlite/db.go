package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

// DBTX is what repositories need from a database or a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// TxManager implements usecase.TransactionManager.
type TxManager struct {
	db *sql.DB
}

// Begin starts a new transaction.
func (m *TxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx wraps a database/sql transaction.
type Tx struct {
	tx *sql.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit(context.Context) error {
	return mapConstraint(t.tx.Commit())
}

// Rollback rolls back the transaction. Rolling back a finished transaction
// is not an error.
func (t *Tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func conn(db DBTX, tx usecase.Transaction) DBTX {
	if t, ok := tx.(*Tx); ok && t != nil {
		return t.tx
	}
	return db
}

// SQLite reports unique violations by column list, not index name.
var uniqueColumns = []struct {
	columns string
	err     error
}{
	{"ledger_transactions.obligation_id", domain.ErrMaterializationConflict},
	{"balance_snapshots.owner_id", domain.ErrDuplicateCurrentBalance},
	{"alerts.owner_id", domain.ErrDuplicateAlert},
}

func mapConstraint(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return err
	}
	for _, u := range uniqueColumns {
		if strings.Contains(sqliteErr.Error(), u.columns) {
			return u.err
		}
	}
	return err
}

func notFound(err, target error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return target
	}
	return err
}

func mustAffect(res sql.Result, target error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return target
	}
	return nil
}

// Value encoding: dates as YYYY-MM-DD, instants as fixed-width RFC 3339 UTC
// so they sort as text, amounts as decimal strings.

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: domain.FormatDate(*t), Valid: true}
}

func parseNullDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := domain.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullDecimal(d decimal.Decimal, set bool) sql.NullString {
	if !set {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (decimal.Decimal, error) {
	if !s.Valid {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s.String)
}

func nullInt(v int, set bool) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: set}
}

// parser collects the first decoding error so row mappers stay linear.
type parser struct {
	err error
}

func (p *parser) decimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	p.keep(err)
	return d
}

func (p *parser) nullDecimal(s sql.NullString) decimal.Decimal {
	d, err := parseNullDecimal(s)
	p.keep(err)
	return d
}

func (p *parser) date(s string) time.Time {
	d, err := domain.ParseDate(s)
	p.keep(err)
	return d
}

func (p *parser) nullDate(s sql.NullString) *time.Time {
	d, err := parseNullDate(s)
	p.keep(err)
	return d
}

func (p *parser) time(s string) time.Time {
	t, err := parseTime(s)
	p.keep(err)
	return t
}

func (p *parser) nullTime(s sql.NullString) *time.Time {
	t, err := parseNullTime(s)
	p.keep(err)
	return t
}

func (p *parser) keep(err error) {
	if p.err == nil && err != nil {
		p.err = err
	}
}
