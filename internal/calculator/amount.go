package calculator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/domain"
)

// MaxLoanPeriods caps amortization tables at 100 years of monthly payments.
const MaxLoanPeriods = 1200

var twelve = decimal.NewFromInt(12)

// LoanPeriod is one row of a loan amortization table.
type LoanPeriod struct {
	PeriodIndex      int
	DueDate          time.Time
	Payment          decimal.Decimal
	Interest         decimal.Decimal
	Principal        decimal.Decimal
	RemainingBalance decimal.Decimal
}

// PeriodAmount returns the unsigned amount due for the given period.
func PeriodAmount(o domain.Obligation, periodIndex int) (decimal.Decimal, error) {
	switch v := o.(type) {
	case *domain.FixedItem:
		return v.Amount, nil
	case *domain.Subscription:
		return v.Amount, nil
	case *domain.InstallmentPlan:
		return InstallmentAmount(v.TotalAmount, v.PeriodCount, periodIndex)
	case *domain.Loan:
		periods, err := LoanSchedule(v)
		if err != nil {
			return decimal.Zero, err
		}
		if periodIndex < 0 || periodIndex >= len(periods) {
			return decimal.Zero, fmt.Errorf("%w: loan %s has no period %d", domain.ErrInvalidSchedule, v.ID, periodIndex)
		}
		return periods[periodIndex].Payment, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported obligation %T", domain.ErrInvalidObligation, o)
	}
}

// InstallmentAmount splits total into count periods rounded to cents. The
// final period takes the remainder so the periods sum to total exactly.
func InstallmentAmount(total decimal.Decimal, count, periodIndex int) (decimal.Decimal, error) {
	if count <= 0 {
		return decimal.Zero, fmt.Errorf("%w: period count must be positive, got %d", domain.ErrInvalidObligation, count)
	}
	if !total.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: total amount must be positive", domain.ErrInvalidObligation)
	}
	if periodIndex < 0 || periodIndex >= count {
		return decimal.Zero, fmt.Errorf("%w: period %d outside 0..%d", domain.ErrInvalidSchedule, periodIndex, count-1)
	}

	perPeriod := total.DivRound(decimal.NewFromInt(int64(count)), domain.AmountScale)
	if periodIndex < count-1 {
		return perPeriod, nil
	}

	return total.Sub(perPeriod.Mul(decimal.NewFromInt(int64(count - 1)))), nil
}

// LoanPortions splits payment into interest on balance and principal.
// Interest is balance * rate / 12 rounded to cents; a zero rate accrues none.
func LoanPortions(balance, annualRate, payment decimal.Decimal) (interest, principal decimal.Decimal, err error) {
	if annualRate.IsZero() {
		return decimal.Zero, payment, nil
	}

	interest = balance.Mul(annualRate).Div(twelve).Round(domain.AmountScale)
	principal = payment.Sub(interest)
	if !principal.IsPositive() {
		return interest, principal, fmt.Errorf("%w: payment %s does not cover interest %s on balance %s",
			domain.ErrInvalidSchedule, payment.StringFixed(2), interest.StringFixed(2), balance.StringFixed(2))
	}

	return interest, principal, nil
}

// LoanSchedule builds the full amortization table of l from its original
// principal. The final payment is reduced to what is left plus its interest.
func LoanSchedule(l *domain.Loan) ([]LoanPeriod, error) {
	if !l.Principal.IsPositive() || !l.MonthlyPayment.IsPositive() {
		return nil, fmt.Errorf("%w: loan principal and payment must be positive", domain.ErrInvalidObligation)
	}

	balance := l.Principal
	due := domain.DateOf(l.StartDate)
	periods := make([]LoanPeriod, 0, 16)

	for i := 0; balance.IsPositive(); i++ {
		if i >= MaxLoanPeriods {
			return nil, fmt.Errorf("%w: loan %s does not amortize within %d payments", domain.ErrInvalidSchedule, l.ID, MaxLoanPeriods)
		}

		interest, principal, err := LoanPortions(balance, l.AnnualInterestRate, l.MonthlyPayment)
		if err != nil {
			return nil, err
		}

		payment := l.MonthlyPayment
		if principal.GreaterThanOrEqual(balance) {
			principal = balance
			payment = balance.Add(interest)
		}

		balance = balance.Sub(principal)
		due = AddMonthsClamped(due, 1)

		periods = append(periods, LoanPeriod{
			PeriodIndex:      i,
			DueDate:          due,
			Payment:          payment,
			Interest:         interest,
			Principal:        principal,
			RemainingBalance: balance,
		})
	}

	return periods, nil
}

// OutstandingBalance returns what is still owed on l after PaymentsMade
// payments.
func OutstandingBalance(l *domain.Loan) (decimal.Decimal, error) {
	if l.PaymentsMade <= 0 {
		return l.Principal, nil
	}

	periods, err := LoanSchedule(l)
	if err != nil {
		return decimal.Zero, err
	}
	if l.PaymentsMade >= len(periods) {
		return decimal.Zero, nil
	}

	return periods[l.PaymentsMade-1].RemainingBalance, nil
}

// ValidateSchedule checks that every period of o produces a positive amount
// and that loans amortize. Obligations are rejected at creation when it fails.
func ValidateSchedule(o domain.Obligation) error {
	switch v := o.(type) {
	case *domain.InstallmentPlan:
		first, err := InstallmentAmount(v.TotalAmount, v.PeriodCount, 0)
		if err != nil {
			return err
		}
		last, err := InstallmentAmount(v.TotalAmount, v.PeriodCount, v.PeriodCount-1)
		if err != nil {
			return err
		}
		if !first.IsPositive() || !last.IsPositive() {
			return fmt.Errorf("%w: %s over %d periods leaves a period without a payment",
				domain.ErrInvalidSchedule, v.TotalAmount.StringFixed(2), v.PeriodCount)
		}
	case *domain.Loan:
		periods, err := LoanSchedule(v)
		if err != nil {
			return err
		}
		if v.PaymentsMade > len(periods) {
			return fmt.Errorf("%w: %d payments made but the loan amortizes in %d",
				domain.ErrInvalidSchedule, v.PaymentsMade, len(periods))
		}
	case *domain.FixedItem, *domain.Subscription:
	default:
		return fmt.Errorf("%w: unsupported obligation %T", domain.ErrInvalidObligation, o)
	}
	return nil
}
