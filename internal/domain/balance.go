package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSnapshot is one entry of an owner's append-only balance history.
// At most one snapshot per (OwnerID, Scope) has IsCurrent set.
type BalanceSnapshot struct {
	ID            string
	OwnerID       string
	Scope         string
	Amount        decimal.Decimal
	Currency      string
	IsCurrent     bool
	EffectiveDate time.Time
	CreatedAt     time.Time
}
