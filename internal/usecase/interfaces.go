package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/domain"
)

// ObligationRepository defines data access for obligations.
type ObligationRepository interface {
	Create(ctx context.Context, obligation domain.Obligation) error
	GetByID(ctx context.Context, id string) (domain.Obligation, error)
	// GetByIDForUpdate loads the obligation and row-locks it until tx ends.
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (domain.Obligation, error)
	ListByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]domain.Obligation, error)
	// ListCounted returns every installment plan and loan, active or not.
	ListCounted(ctx context.Context) ([]domain.Obligation, error)
	ListOwnersWithActive(ctx context.Context) ([]string, error)
	// UpdateProgress stores the completed-period counter and active flag.
	UpdateProgress(ctx context.Context, tx Transaction, id string, counter int, active bool, updatedAt time.Time) error
	Deactivate(ctx context.Context, id string, updatedAt time.Time) error
}

// LedgerRepository defines data access for ledger transactions.
type LedgerRepository interface {
	// Create appends a transaction. A second transaction for the same
	// obligation period fails with domain.ErrMaterializationConflict.
	Create(ctx context.Context, tx Transaction, txn *domain.LedgerTransaction) error
	GetByID(ctx context.Context, id string) (*domain.LedgerTransaction, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.LedgerTransaction, error)
	Delete(ctx context.Context, tx Transaction, id string) error
	FindByPeriod(ctx context.Context, obligationID string, periodIndex int) (*domain.LedgerTransaction, error)
	// ListMaterializedPeriods returns the periods materialized for ownerID
	// with an occurrence date within [from, to].
	ListMaterializedPeriods(ctx context.Context, ownerID string, from, to time.Time) ([]domain.PeriodKey, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.LedgerTransaction, error)
	// CountMaterialized returns the number of materialized transactions per obligation.
	CountMaterialized(ctx context.Context) (map[string]int, error)
}

// CurrentBalanceCount is an (owner, scope) pair and its number of current rows.
type CurrentBalanceCount struct {
	OwnerID string
	Scope   string
	Count   int
}

// BalanceRepository defines data access for balance snapshots.
type BalanceRepository interface {
	// LockScope serializes writers of one (owner, scope) until tx ends.
	LockScope(ctx context.Context, tx Transaction, ownerID, scope string) error
	GetCurrent(ctx context.Context, ownerID, scope string) (*domain.BalanceSnapshot, error)
	GetCurrentTx(ctx context.Context, tx Transaction, ownerID, scope string) (*domain.BalanceSnapshot, error)
	ClearCurrent(ctx context.Context, tx Transaction, id string) error
	// Insert appends a snapshot. A second current row for the same scope
	// fails with domain.ErrDuplicateCurrentBalance.
	Insert(ctx context.Context, tx Transaction, snapshot *domain.BalanceSnapshot) error
	ListCurrent(ctx context.Context, ownerID string) ([]*domain.BalanceSnapshot, error)
	History(ctx context.Context, ownerID, scope string, limit, offset int) ([]*domain.BalanceSnapshot, error)
	// FindMultipleCurrent reports scopes with more than one current row.
	FindMultipleCurrent(ctx context.Context) ([]CurrentBalanceCount, error)
}

// AlertRepository defines data access for alerts.
type AlertRepository interface {
	// Create stores a new alert. An existing (owner, dedup key) fails with
	// domain.ErrDuplicateAlert.
	Create(ctx context.Context, tx Transaction, alert *domain.Alert) error
	GetByID(ctx context.Context, id string) (*domain.Alert, error)
	GetByDedupKey(ctx context.Context, ownerID, dedupKey string) (*domain.Alert, error)
	// UpdateComputed stores severity, message, amount, due date and updated_at.
	UpdateComputed(ctx context.Context, tx Transaction, alert *domain.Alert) error
	// UpdateState stores read, dismissed, snoozed_until and updated_at.
	UpdateState(ctx context.Context, alert *domain.Alert) error
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Alert, error)
}

// ThresholdRepository defines data access for per-owner alert thresholds.
type ThresholdRepository interface {
	// Get returns domain.ErrNoThresholds when the owner has none stored.
	Get(ctx context.Context, ownerID string) (*domain.AlertThresholds, error)
	Upsert(ctx context.Context, thresholds *domain.AlertThresholds) error
}

// RunRepository defines data access for processing runs.
type RunRepository interface {
	Create(ctx context.Context, run *domain.ProcessingRun) error
	Update(ctx context.Context, run *domain.ProcessingRun) error
	GetByID(ctx context.Context, id string) (*domain.ProcessingRun, error)
	List(ctx context.Context, limit, offset int) ([]*domain.ProcessingRun, error)
	// LastCompletedRunDate returns the latest run date that completed.
	// ok is false when no run ever completed.
	LastCompletedRunDate(ctx context.Context) (date time.Time, ok bool, err error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx Transaction, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	DeletePublished(ctx context.Context, before time.Time) error
}

// AuditRepository defines data access for audit logs.
type AuditRepository interface {
	CreateTx(ctx context.Context, tx Transaction, log *domain.AuditLog) error
	List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Retrier re-runs operation on transient conflicts such as a lost race for
// the current balance.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// ForecastCache stores computed projections per (owner, horizon, as-of date).
type ForecastCache interface {
	Get(ctx context.Context, ownerID string, horizonDays int, asOf time.Time) ([]domain.ForecastPoint, bool, error)
	Set(ctx context.Context, ownerID string, horizonDays int, asOf time.Time, points []domain.ForecastPoint) error
	// Invalidate drops every cached projection of ownerID.
	Invalidate(ctx context.Context, ownerID string) error
}

// RunLocker guards a materialization date across processes.
type RunLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// RateProvider converts amounts between currencies.
type RateProvider interface {
	Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error)
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release forgets key so a failed request can be retried.
	Release(ctx context.Context, key string) error
}

// Metrics receives engine telemetry.
type Metrics interface {
	ObserveRun(status domain.RunStatus, duration time.Duration)
	ObserveOwner(result domain.OwnerResult)
	AlertRaised(alertType domain.AlertType, severity domain.Severity)
	ForecastCacheLookup(hit bool)
	BalanceConflict()
	OrphanedTransaction()
}

type nopMetrics struct{}

func (nopMetrics) ObserveRun(domain.RunStatus, time.Duration) {}
func (nopMetrics) ObserveOwner(domain.OwnerResult) {}
func (nopMetrics) AlertRaised(domain.AlertType, domain.Severity) {}
func (nopMetrics) ForecastCacheLookup(bool) {}
func (nopMetrics) BalanceConflict() {}
func (nopMetrics) OrphanedTransaction() {}
