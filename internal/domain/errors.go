package domain

import "errors"

var (
	// Obligation errors
	ErrInvalidObligation  = errors.New("invalid obligation")
	ErrInvalidSchedule    = errors.New("invalid schedule")
	ErrObligationNotFound = errors.New("obligation not found")

	// Ledger errors
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrCurrencyMismatch        = errors.New("currency does not match reporting currency")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrBalanceNotFound         = errors.New("current balance not found")
	ErrDuplicateCurrentBalance = errors.New("concurrent update produced a second current balance")

	// Materialization errors
	ErrMaterializationConflict = errors.New("obligation period already materialized")
	ErrOrphanedTransaction     = errors.New("reversal left an orphaned transaction")
	ErrReversalOutOfOrder      = errors.New("only the latest materialized period can be reversed")
	ErrRunNotFound             = errors.New("processing run not found")
	ErrInvalidRunTransition    = errors.New("invalid processing run transition")
	ErrRunInProgress           = errors.New("materialization run already in progress")

	// Forecast and alert errors
	ErrInvalidHorizon   = errors.New("invalid forecast horizon")
	ErrAlertNotFound    = errors.New("alert not found")
	ErrInvalidSnooze    = errors.New("snooze time must be in the future")
	ErrInvalidThreshold = errors.New("invalid alert threshold")
	ErrDuplicateAlert   = errors.New("alert with this dedup key already exists")
	ErrNoThresholds     = errors.New("no alert thresholds configured for owner")

	// Owner resolution errors
	ErrMissingOwner = errors.New("owner is required")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)
