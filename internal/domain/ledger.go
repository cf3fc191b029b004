package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Origin tells how a ledger transaction came to exist.
type Origin string

const (
	OriginManual       Origin = "manual"
	OriginMaterialized Origin = "materialized"
)

// LedgerTransaction is an immutable ledger row. Materialized transactions
// carry the obligation and period they were created for.
type LedgerTransaction struct {
	ID           string
	OwnerID      string
	Scope        string
	ObligationID *string
	PeriodIndex  *int
	Direction    Direction
	Amount       decimal.Decimal
	Currency     string
	OccurredOn   time.Time
	Origin       Origin
	Description  string
	CreatedAt    time.Time
}

// SignedAmount returns the balance delta of the transaction.
func (t *LedgerTransaction) SignedAmount() decimal.Decimal {
	return t.Direction.Signed(t.Amount)
}

// PeriodKey identifies a materialized obligation period.
type PeriodKey struct {
	ObligationID string
	PeriodIndex  int
}

func (k PeriodKey) String() string {
	return fmt.Sprintf("%s#%d", k.ObligationID, k.PeriodIndex)
}

// Key returns the period key of a materialized transaction.
func (t *LedgerTransaction) Key() (PeriodKey, bool) {
	if t.ObligationID == nil || t.PeriodIndex == nil {
		return PeriodKey{}, false
	}
	return PeriodKey{ObligationID: *t.ObligationID, PeriodIndex: *t.PeriodIndex}, true
}

// Validate checks the transaction before it is appended.
func (t *LedgerTransaction) Validate() error {
	if err := ValidateOwnerID(t.OwnerID); err != nil {
		return err
	}
	if err := ValidateScope(t.Scope); err != nil {
		return err
	}
	if !t.Direction.Valid() {
		return fmt.Errorf("%w: direction must be inflow or outflow", ErrInvalidAmount)
	}
	if err := ValidateAmount(t.Amount); err != nil {
		return err
	}
	if err := ValidateCurrency(t.Currency); err != nil {
		return err
	}
	if t.Origin == OriginMaterialized && (t.ObligationID == nil || t.PeriodIndex == nil) {
		return fmt.Errorf("%w: materialized transaction needs an obligation period", ErrInvalidSchedule)
	}
	return nil
}
