package domain

import (
	"encoding/json"
	"time"
)

// AuditLog records a compensating action on the ledger.
type AuditLog struct {
	ID           string
	OwnerID      string // Owner whose ledger was changed
	Action       AuditAction
	ResourceType string
	ResourceID   string
	BeforeState  JSON // State before the action
	AfterState   JSON // State after the action
	Status       AuditStatus
	CreatedAt    time.Time
}

// JSON is a type alias for JSON data
type JSON map[string]any

// AuditAction represents different types of auditable actions
type AuditAction string

const (
	AuditActionTransactionReverse AuditAction = "transaction.reverse"
	AuditActionCounterRewind      AuditAction = "obligation.counter_rewind"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
)

// MarshalState converts a domain object to JSON for audit logging
func MarshalState(v any) JSON {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return JSON{"error": "failed to marshal state"}
	}

	var result JSON
	if err := json.Unmarshal(data, &result); err != nil {
		return JSON{"error": "failed to unmarshal state"}
	}

	return result
}

// AuditFilter defines filters for querying audit logs
type AuditFilter struct {
	OwnerID      string
	Action       AuditAction
	ResourceType string
	ResourceID   string
	Limit        int
	Offset       int
}
