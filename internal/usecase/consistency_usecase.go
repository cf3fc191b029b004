package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/cashflow/internal/domain"
)

// ConsistencyUseCase checks the ledger invariants that storage constraints
// alone do not cover.
type ConsistencyUseCase struct {
	obligationRepo ObligationRepository
	ledgerRepo     LedgerRepository
	balanceRepo    BalanceRepository
	metrics        Metrics
	logger         zerolog.Logger
	now            func() time.Time
}

// NewConsistencyUseCase creates a new consistency use case
func NewConsistencyUseCase(
	obligationRepo ObligationRepository,
	ledgerRepo LedgerRepository,
	balanceRepo BalanceRepository,
) *ConsistencyUseCase {
	return &ConsistencyUseCase{
		obligationRepo: obligationRepo,
		ledgerRepo:     ledgerRepo,
		balanceRepo:    balanceRepo,
		metrics:        nopMetrics{},
		logger:         zerolog.Nop(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics sets the telemetry sink.
func (uc *ConsistencyUseCase) WithMetrics(m Metrics) *ConsistencyUseCase {
	uc.metrics = m
	return uc
}

// WithLogger sets the logger.
func (uc *ConsistencyUseCase) WithLogger(l zerolog.Logger) *ConsistencyUseCase {
	uc.logger = l
	return uc
}

// WithClock replaces the wall clock.
func (uc *ConsistencyUseCase) WithClock(now func() time.Time) *ConsistencyUseCase {
	uc.now = now
	return uc
}

// CounterDiscrepancy is a counted obligation whose materialized
// transactions disagree with its completed-period counter.
type CounterDiscrepancy struct {
	ObligationID string
	OwnerID      string
	Kind         domain.ObligationKind
	Counter      int
	Materialized int
}

// Orphaned reports whether transactions exist beyond the counter, which is
// what an interrupted reversal leaves behind.
func (d CounterDiscrepancy) Orphaned() bool {
	return d.Materialized > d.Counter
}

// ConsistencyReport represents the result of a consistency check
type ConsistencyReport struct {
	CheckedObligations       int
	DuplicateCurrentBalances []CurrentBalanceCount
	CounterDiscrepancies     []CounterDiscrepancy
	Consistent               bool
	CheckedAt                time.Time
}

// Orphans returns the discrepancies that carry orphaned transactions.
func (r *ConsistencyReport) Orphans() []CounterDiscrepancy {
	var out []CounterDiscrepancy
	for _, d := range r.CounterDiscrepancies {
		if d.Orphaned() {
			out = append(out, d)
		}
	}
	return out
}

// Check looks for scopes with more than one current balance and for counted
// obligations whose materialized transactions exceed or trail their counter.
// Only duplicates and orphans make the report inconsistent; a counter ahead
// of its transactions is what skipped periods leave behind.
func (uc *ConsistencyUseCase) Check(ctx context.Context) (*ConsistencyReport, error) {
	duplicates, err := uc.balanceRepo.FindMultipleCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("check current balances: %w", err)
	}

	obligations, err := uc.obligationRepo.ListCounted(ctx)
	if err != nil {
		return nil, fmt.Errorf("list counted obligations: %w", err)
	}

	counts, err := uc.ledgerRepo.CountMaterialized(ctx)
	if err != nil {
		return nil, fmt.Errorf("count materialized transactions: %w", err)
	}

	report := &ConsistencyReport{
		CheckedObligations:       len(obligations),
		DuplicateCurrentBalances: duplicates,
		CounterDiscrepancies:     make([]CounterDiscrepancy, 0),
		CheckedAt:                uc.now(),
	}

	for _, o := range obligations {
		counter, counted := domain.Counter(o)
		if !counted {
			continue
		}
		b := o.Common()
		if materialized := counts[b.ID]; materialized != counter {
			report.CounterDiscrepancies = append(report.CounterDiscrepancies, CounterDiscrepancy{
				ObligationID: b.ID,
				OwnerID:      b.OwnerID,
				Kind:         o.Kind(),
				Counter:      counter,
				Materialized: materialized,
			})
		}
	}
	sort.Slice(report.CounterDiscrepancies, func(i, j int) bool {
		return report.CounterDiscrepancies[i].ObligationID < report.CounterDiscrepancies[j].ObligationID
	})

	orphans := report.Orphans()
	for _, d := range orphans {
		uc.metrics.OrphanedTransaction()
		uc.logger.Error().
			Str("owner_id", d.OwnerID).
			Str("obligation_id", d.ObligationID).
			Int("counter", d.Counter).
			Int("materialized", d.Materialized).
			Msg("orphaned materialized transactions")
	}
	for _, d := range duplicates {
		uc.logger.Error().
			Str("owner_id", d.OwnerID).
			Str("scope", d.Scope).
			Int("current_rows", d.Count).
			Msg("more than one current balance")
	}

	report.Consistent = len(duplicates) == 0 && len(orphans) == 0
	return report, nil
}
