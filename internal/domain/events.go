package domain

import "time"

// Event types
const (
	EventTypeTransactionMaterialized = "transaction.materialized"
	EventTypeTransactionRecorded     = "transaction.recorded"
	EventTypeTransactionReversed     = "transaction.reversed"
	EventTypeBalanceUpdated          = "balance.updated"
	EventTypeAlertRaised             = "alert.raised"
	EventTypeRunCompleted            = "run.completed"
	EventTypeRunFailed               = "run.failed"
)

// Aggregate types
const (
	AggregateTypeTransaction = "transaction"
	AggregateTypeBalance     = "balance"
	AggregateTypeAlert       = "alert"
	AggregateTypeRun         = "processing_run"
)

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// TransactionEvent payload
type TransactionEvent struct {
	TransactionID string `json:"transaction_id"`
	OwnerID       string `json:"owner_id"`
	Scope         string `json:"scope"`
	ObligationID  string `json:"obligation_id,omitempty"`
	PeriodIndex   *int   `json:"period_index,omitempty"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	OccurredOn    string `json:"occurred_on"`
}

// BalanceUpdatedEvent payload
type BalanceUpdatedEvent struct {
	OwnerID       string `json:"owner_id"`
	Scope         string `json:"scope"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	EffectiveDate string `json:"effective_date"`
}

// AlertRaisedEvent payload
type AlertRaisedEvent struct {
	AlertID  string `json:"alert_id"`
	OwnerID  string `json:"owner_id"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	DedupKey string `json:"dedup_key"`
}

// RunFinishedEvent payload
type RunFinishedEvent struct {
	RunID        string   `json:"run_id"`
	RunDate      string   `json:"run_date"`
	Status       string   `json:"status"`
	Materialized int      `json:"materialized"`
	Failed       int      `json:"failed"`
	FailedOwners []string `json:"failed_owners,omitempty"`
}

// NewTransactionEvent builds the payload of a transaction event.
func NewTransactionEvent(tx *LedgerTransaction) map[string]any {
	payload := TransactionEvent{
		TransactionID: tx.ID,
		OwnerID:       tx.OwnerID,
		Scope:         tx.Scope,
		PeriodIndex:   tx.PeriodIndex,
		Amount:        tx.Amount.StringFixed(AmountScale),
		Currency:      tx.Currency,
		OccurredOn:    FormatDate(tx.OccurredOn),
	}
	if tx.ObligationID != nil {
		payload.ObligationID = *tx.ObligationID
	}
	return MarshalState(payload)
}
