package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	postgresRepo "github.com/iho/cashflow/internal/adapter/repository/postgres"
	"github.com/iho/cashflow/internal/adapter/repository/sqlite"
	"github.com/iho/cashflow/internal/infrastructure/config"
	"github.com/iho/cashflow/internal/infrastructure/postgres"
	"github.com/iho/cashflow/internal/usecase"
)

// storage bundles the repositories of one backend.
type storage struct {
	txManager   usecase.TransactionManager
	obligations usecase.ObligationRepository
	ledger      usecase.LedgerRepository
	balances    usecase.BalanceRepository
	alerts      usecase.AlertRepository
	thresholds  usecase.ThresholdRepository
	runs        usecase.RunRepository
	outbox      usecase.OutboxRepository
	audit       usecase.AuditRepository

	ping  func(ctx context.Context) error
	close func()
}

func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storage, error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		return openSQLite(ctx, cfg, logger)
	case config.DriverPostgres:
		return openPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storage, error) {
	if cfg.AutoMigrate {
		if err := postgres.NewMigrator(cfg.DatabaseURL, logger).Up(); err != nil {
			return nil, err
		}
	}

	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DatabaseMaxConns,
		MinConns:    cfg.DatabaseMinConns,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to postgres")

	return &storage{
		txManager:   postgresRepo.NewTxManager(pool),
		obligations: postgresRepo.NewObligationRepository(pool),
		ledger:      postgresRepo.NewLedgerRepository(pool),
		balances:    postgresRepo.NewBalanceRepository(pool),
		alerts:      postgresRepo.NewAlertRepository(pool),
		thresholds:  postgresRepo.NewThresholdRepository(pool),
		runs:        postgresRepo.NewRunRepository(pool),
		outbox:      postgresRepo.NewOutboxRepository(pool),
		audit:       postgresRepo.NewAuditRepository(pool),
		ping:        pool.Ping,
		close:       pool.Close,
	}, nil
}

func openSQLite(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storage, error) {
	store, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite database")

	return &storage{
		txManager:   store.TxManager(),
		obligations: store.Obligations(),
		ledger:      store.Ledger(),
		balances:    store.Balances(),
		alerts:      store.Alerts(),
		thresholds:  store.Thresholds(),
		runs:        store.Runs(),
		outbox:      store.Outbox(),
		audit:       store.Audit(),
		ping:        store.Ping,
		close:       func() { _ = store.Close() },
	}, nil
}
