package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from blocking tables
	DefaultTransactionTimeout = 10 * time.Second

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// DefaultHorizonDays is used when a forecast request names no horizon.
	DefaultHorizonDays = 90

	// DefaultMaxHorizonDays bounds forecast requests.
	DefaultMaxHorizonDays = 730

	// DefaultMaxCatchUpDays bounds how many missed run dates one trigger replays.
	DefaultMaxCatchUpDays = 31

	// DefaultWorkers is the number of owners materialized concurrently.
	DefaultWorkers = 4

	// DefaultOwnerTimeout bounds the materialization of a single owner.
	DefaultOwnerTimeout = 30 * time.Second

	// DefaultRunLockTTL is how long a run date stays locked in Redis.
	DefaultRunLockTTL = 10 * time.Minute
)
