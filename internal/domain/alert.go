package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AlertType classifies the condition an alert reports.
type AlertType string

const (
	AlertNegativeForecast     AlertType = "negative_forecast"
	AlertLowBalance           AlertType = "low_balance"
	AlertUpcomingLargePayment AlertType = "upcoming_large_payment"
)

// Severity ranks alerts. Higher is more urgent.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns a sortable weight for the severity.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Alert is a deduplicated notice derived from the forecast.
type Alert struct {
	ID           string
	OwnerID      string
	Type         AlertType
	Severity     Severity
	DedupKey     string
	Subject      string
	Period       string
	Message      string
	Amount       decimal.Decimal
	DueDate      time.Time
	Read         bool
	Dismissed    bool
	SnoozedUntil *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DedupKey builds the (type, subject, period) key of an alert.
func DedupKey(alertType AlertType, subject, period string) string {
	return strings.Join([]string{string(alertType), subject, period}, "|")
}

// IsVisible reports whether the alert should be shown at now. Snoozed alerts
// reappear once SnoozedUntil has passed.
func (a *Alert) IsVisible(now time.Time) bool {
	if a.Dismissed {
		return false
	}
	return a.SnoozedUntil == nil || !a.SnoozedUntil.After(now)
}

// Refresh copies the computed fields of next into a, keeping the user state
// (read, dismissed, snooze) untouched.
func (a *Alert) Refresh(next *Alert, now time.Time) {
	a.Severity = next.Severity
	a.Message = next.Message
	a.Amount = next.Amount
	a.DueDate = next.DueDate
	a.UpdatedAt = now
}

// AlertThresholds are the per-owner inputs of the alert evaluator.
type AlertThresholds struct {
	OwnerID string
	// LowBalance raises a warning when a projected balance drops below it.
	LowBalance decimal.Decimal
	// LargePayment flags single outflows above it.
	LargePayment decimal.Decimal
	// LargePaymentWarningRatio escalates a large payment to a warning when it
	// is at least this share of the current balance.
	LargePaymentWarningRatio decimal.Decimal
	LookaheadDays            int
	UpdatedAt                time.Time
}

// Validate checks threshold sanity.
func (t *AlertThresholds) Validate() error {
	if t.LowBalance.IsNegative() {
		return fmt.Errorf("%w: low balance threshold cannot be negative", ErrInvalidThreshold)
	}
	if !t.LargePayment.IsPositive() {
		return fmt.Errorf("%w: large payment threshold must be positive", ErrInvalidThreshold)
	}
	if !t.LargePaymentWarningRatio.IsPositive() {
		return fmt.Errorf("%w: warning ratio must be positive", ErrInvalidThreshold)
	}
	if t.LookaheadDays <= 0 {
		return fmt.Errorf("%w: lookahead must be at least one day", ErrInvalidThreshold)
	}
	return nil
}
