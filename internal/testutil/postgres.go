// Package testutil provides helpers for tests that need a real Postgres.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/infrastructure/postgres"
)

// TestDB is a migrated database shared by one test.
type TestDB struct {
	Pool *pgxpool.Pool
	t    *testing.T
}

// NewTestDB connects to DATABASE_URL and applies the migrations. The test
// is skipped when the variable is unset or -short is given.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	if err := postgres.NewMigrator(dbURL, zerolog.Nop()).Up(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, dbURL, 20, 1)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	db := &TestDB{Pool: pool, t: t}
	t.Cleanup(pool.Close)
	db.TruncateAll(ctx)
	return db
}

// TruncateAll removes all data from tables.
func (db *TestDB) TruncateAll(ctx context.Context) {
	db.t.Helper()

	_, err := db.Pool.Exec(ctx, `
		TRUNCATE TABLE
			ledger_transactions,
			balance_snapshots,
			alerts,
			alert_thresholds,
			processing_runs,
			outbox_events,
			audit_logs,
			obligations
		CASCADE;
	`)
	if err != nil {
		db.t.Fatalf("failed to truncate tables: %v", err)
	}
}

// Base returns active obligation attributes with a fresh ID.
func Base(ownerID, name, amount string, direction domain.Direction, start time.Time) domain.ObligationBase {
	return domain.ObligationBase{
		ID:        GenerateID(),
		OwnerID:   ownerID,
		Scope:     domain.DefaultScope,
		Name:      name,
		Direction: direction,
		Currency:  "USD",
		Amount:    decimal.RequireFromString(amount),
		Active:    true,
		StartDate: start,
		CreatedAt: start,
		UpdatedAt: start,
	}
}

// Day returns midnight UTC of the given date.
func Day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// GenerateID generates a new ULID.
func GenerateID() string {
	return ulid.Make().String()
}
