package calculator

import (
	"iter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/domain"
)

// Occurrence is one due period of an obligation with its amount.
type Occurrence struct {
	ObligationID string
	Scope        string
	PeriodIndex  int
	Date         time.Time
	Amount       decimal.Decimal
	Direction    domain.Direction
}

// Signed returns the occurrence's effect on the balance.
func (o Occurrence) Signed() decimal.Decimal {
	return o.Direction.Signed(o.Amount)
}

// Occurrences yields the uncompleted periods of o falling within [from, to],
// in date order. Inactive obligations yield nothing. The error is reported
// before iteration starts so the sequence itself cannot fail midway.
func Occurrences(o domain.Obligation, from, to time.Time) (iter.Seq[Occurrence], error) {
	from, to = domain.DateOf(from), domain.DateOf(to)
	b := o.Common()

	if !b.Active || to.Before(from) {
		return func(func(Occurrence) bool) {}, nil
	}

	seq, err := dueDates(o, from)
	if err != nil {
		return nil, err
	}

	// Loan amounts come from the amortization table; build it once.
	var loanPeriods []LoanPeriod
	if l, ok := o.(*domain.Loan); ok {
		if loanPeriods, err = LoanSchedule(l); err != nil {
			return nil, err
		}
	}
	if err := ValidateSchedule(o); err != nil {
		return nil, err
	}

	counter, counted := domain.Counter(o)

	return func(yield func(Occurrence) bool) {
		for i, d := range seq {
			if d.After(to) {
				return
			}
			if counted && i < counter {
				continue
			}

			var amount decimal.Decimal
			if loanPeriods != nil {
				amount = loanPeriods[i].Payment
			} else {
				// Installment bounds were checked by ValidateSchedule above.
				amount, _ = PeriodAmount(o, i)
			}

			occ := Occurrence{
				ObligationID: b.ID,
				Scope:        b.Scope,
				PeriodIndex:  i,
				Date:         d,
				Amount:       amount,
				Direction:    b.Direction,
			}
			if !yield(occ) {
				return
			}
		}
	}, nil
}
