package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells whether money flows in or out of the owner's balance.
type Direction string

const (
	DirectionInflow  Direction = "inflow"
	DirectionOutflow Direction = "outflow"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionInflow || d == DirectionOutflow
}

// Signed returns amount with the sign implied by the direction.
func (d Direction) Signed(amount decimal.Decimal) decimal.Decimal {
	if d == DirectionOutflow {
		return amount.Neg()
	}
	return amount
}

// ObligationKind tags the obligation variants.
type ObligationKind string

const (
	KindFixedItem       ObligationKind = "fixed_item"
	KindInstallmentPlan ObligationKind = "installment_plan"
	KindLoan            ObligationKind = "loan"
	KindSubscription    ObligationKind = "subscription"
)

// BillingCycle is the recurrence of a subscription.
type BillingCycle string

const (
	BillingMonthly BillingCycle = "monthly"
	BillingYearly  BillingCycle = "yearly"
	BillingWeekly  BillingCycle = "weekly"
)

// Obligation is a recurring financial commitment. The set of implementations
// is closed: FixedItem, InstallmentPlan, Loan and Subscription.
type Obligation interface {
	Common() *ObligationBase
	Kind() ObligationKind
	Validate() error
	isObligation()
}

// ObligationBase holds the attributes shared by every obligation variant.
type ObligationBase struct {
	ID        string
	OwnerID   string
	Scope     string
	Name      string
	Direction Direction
	Currency  string
	Amount    decimal.Decimal
	Active    bool
	StartDate time.Time
	EndDate   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Common returns the shared attributes.
func (b *ObligationBase) Common() *ObligationBase {
	return b
}

// EndsBefore reports whether the obligation has ended before date.
func (b *ObligationBase) EndsBefore(date time.Time) bool {
	return b.EndDate != nil && DateOf(*b.EndDate).Before(DateOf(date))
}

func (b *ObligationBase) validate(requireAmount bool) error {
	if err := ValidateOwnerID(b.OwnerID); err != nil {
		return invalidObligation(err)
	}
	if err := ValidateName(b.Name); err != nil {
		return invalidObligation(err)
	}
	if err := ValidateScope(b.Scope); err != nil {
		return invalidObligation(err)
	}
	if !b.Direction.Valid() {
		return fmt.Errorf("%w: direction must be inflow or outflow, got %q", ErrInvalidObligation, b.Direction)
	}
	if err := ValidateCurrency(b.Currency); err != nil {
		return invalidObligation(err)
	}
	if requireAmount {
		if err := ValidateAmount(b.Amount); err != nil {
			return invalidObligation(err)
		}
	}
	if b.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidObligation)
	}
	if b.EndDate != nil && DateOf(*b.EndDate).Before(DateOf(b.StartDate)) {
		return fmt.Errorf("%w: end date %s is before start date %s",
			ErrInvalidObligation, FormatDate(*b.EndDate), FormatDate(b.StartDate))
	}
	return nil
}

func invalidObligation(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidObligation, err)
}

// FixedItem recurs every month on DayOfMonth.
type FixedItem struct {
	ObligationBase
	DayOfMonth int
}

func (*FixedItem) Kind() ObligationKind { return KindFixedItem }
func (*FixedItem) isObligation()        {}

// Validate checks the fixed item's schedule parameters.
func (f *FixedItem) Validate() error {
	if err := f.validate(true); err != nil {
		return err
	}
	if f.DayOfMonth < 1 || f.DayOfMonth > 31 {
		return fmt.Errorf("%w: day of month must be between 1 and 31, got %d", ErrInvalidObligation, f.DayOfMonth)
	}
	return nil
}

// InstallmentPlan splits TotalAmount into PeriodCount monthly payments.
type InstallmentPlan struct {
	ObligationBase
	TotalAmount      decimal.Decimal
	PeriodCount      int
	PeriodsCompleted int
	FirstDueDate     time.Time
}

func (*InstallmentPlan) Kind() ObligationKind { return KindInstallmentPlan }
func (*InstallmentPlan) isObligation()        {}

// Validate checks the plan's totals and counters.
func (p *InstallmentPlan) Validate() error {
	if err := p.validate(false); err != nil {
		return err
	}
	if p.PeriodCount <= 0 {
		return fmt.Errorf("%w: period count must be positive, got %d", ErrInvalidObligation, p.PeriodCount)
	}
	if err := ValidateAmount(p.TotalAmount); err != nil {
		return fmt.Errorf("%w: total amount: %w", ErrInvalidObligation, err)
	}
	if p.PeriodsCompleted < 0 || p.PeriodsCompleted > p.PeriodCount {
		return fmt.Errorf("%w: periods completed must be between 0 and %d, got %d",
			ErrInvalidObligation, p.PeriodCount, p.PeriodsCompleted)
	}
	if p.FirstDueDate.IsZero() {
		return fmt.Errorf("%w: first due date is required", ErrInvalidSchedule)
	}
	if DateOf(p.FirstDueDate).Before(DateOf(p.StartDate)) {
		return fmt.Errorf("%w: first due date %s is before start date %s",
			ErrInvalidSchedule, FormatDate(p.FirstDueDate), FormatDate(p.StartDate))
	}
	return nil
}

// Loan is an amortizing loan repaid in monthly payments, the first one month
// after StartDate. AnnualInterestRate is a fraction: 0.10 means 10%.
type Loan struct {
	ObligationBase
	Principal          decimal.Decimal
	AnnualInterestRate decimal.Decimal
	MonthlyPayment     decimal.Decimal
	PaymentsMade       int
}

func (*Loan) Kind() ObligationKind { return KindLoan }
func (*Loan) isObligation()        {}

// MonthlyInterest returns one period's interest on balance, rounded to cents.
func (l *Loan) MonthlyInterest(balance decimal.Decimal) decimal.Decimal {
	if l.AnnualInterestRate.IsZero() {
		return decimal.Zero
	}
	return balance.Mul(l.AnnualInterestRate).Div(decimal.NewFromInt(12)).Round(AmountScale)
}

// Validate checks principal, rate and that the payment outgrows the interest.
func (l *Loan) Validate() error {
	if err := l.validate(false); err != nil {
		return err
	}
	if err := ValidateAmount(l.Principal); err != nil {
		return fmt.Errorf("%w: principal: %w", ErrInvalidObligation, err)
	}
	if err := ValidateAmount(l.MonthlyPayment); err != nil {
		return fmt.Errorf("%w: monthly payment: %w", ErrInvalidObligation, err)
	}
	if l.AnnualInterestRate.IsNegative() {
		return fmt.Errorf("%w: annual interest rate cannot be negative", ErrInvalidObligation)
	}
	if l.PaymentsMade < 0 {
		return fmt.Errorf("%w: payments made cannot be negative", ErrInvalidObligation)
	}
	if l.AnnualInterestRate.IsPositive() {
		interest := l.MonthlyInterest(l.Principal)
		if l.MonthlyPayment.LessThanOrEqual(interest) {
			return fmt.Errorf("%w: monthly payment %s does not cover the first period's interest %s",
				ErrInvalidSchedule, l.MonthlyPayment.StringFixed(AmountScale), interest.StringFixed(AmountScale))
		}
	}
	return nil
}

// Subscription renews on BillingDay every BillingCycle. For weekly cycles
// BillingDay is the ISO weekday, 1 (Monday) through 7 (Sunday).
type Subscription struct {
	ObligationBase
	BillingCycle BillingCycle
	BillingDay   int
}

func (*Subscription) Kind() ObligationKind { return KindSubscription }
func (*Subscription) isObligation()        {}

// Validate checks the billing cycle and day.
func (s *Subscription) Validate() error {
	if err := s.validate(true); err != nil {
		return err
	}
	switch s.BillingCycle {
	case BillingMonthly, BillingYearly:
		if s.BillingDay < 1 || s.BillingDay > 31 {
			return fmt.Errorf("%w: billing day must be between 1 and 31, got %d", ErrInvalidObligation, s.BillingDay)
		}
	case BillingWeekly:
		if s.BillingDay < 1 || s.BillingDay > 7 {
			return fmt.Errorf("%w: weekly billing day must be between 1 (Monday) and 7 (Sunday), got %d",
				ErrInvalidObligation, s.BillingDay)
		}
	default:
		return fmt.Errorf("%w: unknown billing cycle %q", ErrInvalidObligation, s.BillingCycle)
	}
	return nil
}

// Counter returns the completed-period counter of counted obligations.
// Fixed items and subscriptions have none.
func Counter(o Obligation) (int, bool) {
	switch v := o.(type) {
	case *InstallmentPlan:
		return v.PeriodsCompleted, true
	case *Loan:
		return v.PaymentsMade, true
	default:
		return 0, false
	}
}
