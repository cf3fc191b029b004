package dto

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

// Dates travel as YYYY-MM-DD strings.

func parseDate(field, value string) (time.Time, error) {
	t, err := domain.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: expected YYYY-MM-DD, got %q", field, value)
	}
	return t, nil
}

func parseOptionalDate(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := parseDate(field, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateObligationRequest represents a request to create an obligation. Kind
// selects which of the variant fields apply.
type CreateObligationRequest struct {
	Kind      domain.ObligationKind `json:"kind"`
	Scope     string                `json:"scope,omitempty"`
	Name      string                `json:"name"`
	Direction domain.Direction      `json:"direction"`
	Currency  string                `json:"currency"`
	Amount    decimal.Decimal       `json:"amount"`
	StartDate string                `json:"start_date"`
	EndDate   string                `json:"end_date,omitempty"`

	DayOfMonth int `json:"day_of_month,omitempty"`

	TotalAmount      decimal.Decimal `json:"total_amount"`
	PeriodCount      int             `json:"period_count,omitempty"`
	PeriodsCompleted int             `json:"periods_completed,omitempty"`
	FirstDueDate     string          `json:"first_due_date,omitempty"`

	Principal          decimal.Decimal `json:"principal"`
	AnnualInterestRate decimal.Decimal `json:"annual_interest_rate"`
	MonthlyPayment     decimal.Decimal `json:"monthly_payment"`
	PaymentsMade       int             `json:"payments_made,omitempty"`

	BillingCycle domain.BillingCycle `json:"billing_cycle,omitempty"`
	BillingDay   int                 `json:"billing_day,omitempty"`
}

// ToUseCaseInput converts to use case input for ownerID.
func (r *CreateObligationRequest) ToUseCaseInput(ownerID string) (usecase.CreateObligationInput, error) {
	start, err := parseDate("start_date", r.StartDate)
	if err != nil {
		return usecase.CreateObligationInput{}, err
	}
	end, err := parseOptionalDate("end_date", r.EndDate)
	if err != nil {
		return usecase.CreateObligationInput{}, err
	}

	var firstDue time.Time
	if r.FirstDueDate != "" {
		if firstDue, err = parseDate("first_due_date", r.FirstDueDate); err != nil {
			return usecase.CreateObligationInput{}, err
		}
	}

	return usecase.CreateObligationInput{
		OwnerID:            ownerID,
		Scope:              r.Scope,
		Kind:               r.Kind,
		Name:               r.Name,
		Direction:          r.Direction,
		Currency:           r.Currency,
		Amount:             r.Amount,
		StartDate:          start,
		EndDate:            end,
		DayOfMonth:         r.DayOfMonth,
		TotalAmount:        r.TotalAmount,
		PeriodCount:        r.PeriodCount,
		PeriodsCompleted:   r.PeriodsCompleted,
		FirstDueDate:       firstDue,
		Principal:          r.Principal,
		AnnualInterestRate: r.AnnualInterestRate,
		MonthlyPayment:     r.MonthlyPayment,
		PaymentsMade:       r.PaymentsMade,
		BillingCycle:       r.BillingCycle,
		BillingDay:         r.BillingDay,
	}, nil
}

// RecordTransactionRequest represents a manual ledger transaction.
type RecordTransactionRequest struct {
	Scope       string           `json:"scope,omitempty"`
	Direction   domain.Direction `json:"direction"`
	Amount      decimal.Decimal  `json:"amount"`
	Currency    string           `json:"currency"`
	OccurredOn  string           `json:"occurred_on,omitempty"`
	Description string           `json:"description,omitempty"`
}

// ToUseCaseInput converts to use case input. An empty occurred_on means today
// and is resolved by the use case.
func (r *RecordTransactionRequest) ToUseCaseInput(ownerID string) (usecase.RecordTransactionInput, error) {
	var occurred time.Time
	if r.OccurredOn != "" {
		var err error
		if occurred, err = parseDate("occurred_on", r.OccurredOn); err != nil {
			return usecase.RecordTransactionInput{}, err
		}
	}
	return usecase.RecordTransactionInput{
		OwnerID:     ownerID,
		Scope:       r.Scope,
		Direction:   r.Direction,
		Amount:      r.Amount,
		Currency:    r.Currency,
		OccurredOn:  occurred,
		Description: r.Description,
	}, nil
}

// SetBalanceRequest replaces the current balance of a scope.
type SetBalanceRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	EffectiveDate string          `json:"effective_date,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *SetBalanceRequest) ToUseCaseInput(ownerID, scope string) (usecase.SetBalanceInput, error) {
	var effective time.Time
	if r.EffectiveDate != "" {
		var err error
		if effective, err = parseDate("effective_date", r.EffectiveDate); err != nil {
			return usecase.SetBalanceInput{}, err
		}
	}
	return usecase.SetBalanceInput{
		OwnerID:       ownerID,
		Scope:         scope,
		Amount:        r.Amount,
		Currency:      r.Currency,
		EffectiveDate: effective,
	}, nil
}

// SnoozeRequest hides an alert until the given instant.
type SnoozeRequest struct {
	Until time.Time `json:"until"`
}

// ThresholdsRequest replaces an owner's alert thresholds.
type ThresholdsRequest struct {
	LowBalance               decimal.Decimal `json:"low_balance"`
	LargePayment             decimal.Decimal `json:"large_payment"`
	LargePaymentWarningRatio decimal.Decimal `json:"large_payment_warning_ratio"`
	LookaheadDays            int             `json:"lookahead_days"`
}

// ToDomain converts to the owner's thresholds.
func (r *ThresholdsRequest) ToDomain(ownerID string) *domain.AlertThresholds {
	return &domain.AlertThresholds{
		OwnerID:                  ownerID,
		LowBalance:               r.LowBalance,
		LargePayment:             r.LargePayment,
		LargePaymentWarningRatio: r.LargePaymentWarningRatio,
		LookaheadDays:            r.LookaheadDays,
	}
}

// RunMaterializationRequest triggers a run. An empty date means today.
type RunMaterializationRequest struct {
	Date string `json:"date,omitempty"`
}

// RunDate returns the requested date, or now's date when none was given.
func (r *RunMaterializationRequest) RunDate(now time.Time) (time.Time, error) {
	if r.Date == "" {
		return domain.DateOf(now), nil
	}
	return parseDate("date", r.Date)
}
