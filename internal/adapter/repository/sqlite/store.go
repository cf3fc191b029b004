// Package sqlite is an embedded, single-file store implementing every
// repository the use cases need. It backs the CLI and local runs where no
// Postgres is available.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure Go driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store owns the database handle and hands out repositories over it.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Path ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = "file:" + path
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: units of work serialize, which stands in for the row
	// and advisory locks Postgres provides.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m.Close would close db as well; only the source is released.
	defer source.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Repository accessors. Each shares the store's connection.
func (s *Store) TxManager() *TxManager { return &TxManager{db: s.db} }
func (s *Store) Obligations() *ObligationRepository { return &ObligationRepository{db: s.db} }
func (s *Store) Ledger() *LedgerRepository { return &LedgerRepository{db: s.db} }
func (s *Store) Balances() *BalanceRepository { return &BalanceRepository{db: s.db} }
func (s *Store) Alerts() *AlertRepository { return &AlertRepository{db: s.db} }
func (s *Store) Thresholds() *ThresholdRepository { return &ThresholdRepository{db: s.db} }
func (s *Store) Runs() *RunRepository { return &RunRepository{db: s.db} }
func (s *Store) Outbox() *OutboxRepository { return &OutboxRepository{db: s.db} }
func (s *Store) Audit() *AuditRepository { return &AuditRepository{db: s.db} }
