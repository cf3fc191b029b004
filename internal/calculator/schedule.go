package calculator

import (
	"fmt"
	"iter"
	"time"

	"github.com/iho/cashflow/internal/domain"
)

// Due is one due period of an obligation.
type Due struct {
	PeriodIndex int
	Date        time.Time
}

// dueDates yields (period index, due date) pairs of o on or after from, in
// period order. Series of fixed items and subscriptions only end at EndDate,
// so callers break out once they have seen enough.
func dueDates(o domain.Obligation, from time.Time) (iter.Seq2[int, time.Time], error) {
	from = domain.DateOf(from)
	b := o.Common()
	start := domain.DateOf(b.StartDate)

	withinEnd := func(d time.Time) bool {
		return b.EndDate == nil || !d.After(domain.DateOf(*b.EndDate))
	}

	switch v := o.(type) {
	case *domain.FixedItem:
		return monthlySeries(start, v.DayOfMonth, from, withinEnd), nil
	case *domain.Subscription:
		switch v.BillingCycle {
		case domain.BillingMonthly:
			return monthlySeries(start, v.BillingDay, from, withinEnd), nil
		case domain.BillingYearly:
			return yearlySeries(start, v.BillingDay, from, withinEnd), nil
		case domain.BillingWeekly:
			return weeklySeries(start, v.BillingDay, from, withinEnd), nil
		default:
			return nil, fmt.Errorf("%w: unknown billing cycle %q", domain.ErrInvalidSchedule, v.BillingCycle)
		}
	case *domain.InstallmentPlan:
		if v.PeriodCount <= 0 {
			return nil, fmt.Errorf("%w: period count must be positive", domain.ErrInvalidObligation)
		}
		return steppedSeries(domain.DateOf(v.FirstDueDate), v.PeriodCount, from, withinEnd), nil
	case *domain.Loan:
		periods, err := LoanSchedule(v)
		if err != nil {
			return nil, err
		}
		return steppedSeries(AddMonthsClamped(start, 1), len(periods), from, withinEnd), nil
	default:
		return nil, fmt.Errorf("%w: unsupported obligation %T", domain.ErrInvalidObligation, o)
	}
}

func monthlySeries(start time.Time, day int, from time.Time, withinEnd func(time.Time) bool) iter.Seq2[int, time.Time] {
	first := ClampDay(start.Year(), start.Month(), day)
	if first.Before(start) {
		first = ClampDay(start.Year(), start.Month()+1, day)
	}

	return func(yield func(int, time.Time) bool) {
		i := 0
		if from.After(first) {
			i = max(monthsBetween(first, from)-1, 0)
		}
		for ; ; i++ {
			d := ClampDay(first.Year(), first.Month()+time.Month(i), day)
			if !withinEnd(d) {
				return
			}
			if d.Before(from) {
				continue
			}
			if !yield(i, d) {
				return
			}
		}
	}
}

func yearlySeries(start time.Time, day int, from time.Time, withinEnd func(time.Time) bool) iter.Seq2[int, time.Time] {
	month := start.Month()
	first := ClampDay(start.Year(), month, day)
	if first.Before(start) {
		first = ClampDay(start.Year()+1, month, day)
	}

	return func(yield func(int, time.Time) bool) {
		i := 0
		if from.After(first) {
			i = max(from.Year()-first.Year()-1, 0)
		}
		for ; ; i++ {
			d := ClampDay(first.Year()+i, month, day)
			if !withinEnd(d) {
				return
			}
			if d.Before(from) {
				continue
			}
			if !yield(i, d) {
				return
			}
		}
	}
}

func weeklySeries(start time.Time, day int, from time.Time, withinEnd func(time.Time) bool) iter.Seq2[int, time.Time] {
	offset := (int(isoWeekday(day)) - int(start.Weekday()) + 7) % 7
	first := start.AddDate(0, 0, offset)

	return func(yield func(int, time.Time) bool) {
		i := 0
		if from.After(first) {
			days := int(from.Sub(first).Hours() / 24)
			i = max(days/7-1, 0)
		}
		for ; ; i++ {
			d := first.AddDate(0, 0, 7*i)
			if !withinEnd(d) {
				return
			}
			if d.Before(from) {
				continue
			}
			if !yield(i, d) {
				return
			}
		}
	}
}

func steppedSeries(first time.Time, count int, from time.Time, withinEnd func(time.Time) bool) iter.Seq2[int, time.Time] {
	return func(yield func(int, time.Time) bool) {
		d := first
		for i := 0; i < count; i++ {
			if i > 0 {
				d = AddMonthsClamped(d, 1)
			}
			if !withinEnd(d) {
				return
			}
			if d.Before(from) {
				continue
			}
			if !yield(i, d) {
				return
			}
		}
	}
}

// DueDate returns the due date of the given period, regardless of whether
// the obligation is still active.
func DueDate(o domain.Obligation, periodIndex int) (time.Time, error) {
	if periodIndex < 0 {
		return time.Time{}, fmt.Errorf("%w: negative period index %d", domain.ErrInvalidSchedule, periodIndex)
	}

	seq, err := dueDates(o, time.Time{})
	if err != nil {
		return time.Time{}, err
	}

	for i, d := range seq {
		if i == periodIndex {
			return d, nil
		}
		if i > periodIndex {
			break
		}
	}

	return time.Time{}, fmt.Errorf("%w: obligation %s has no period %d", domain.ErrInvalidSchedule, o.Common().ID, periodIndex)
}

// NextDueDate returns the first period due on or after from that has not
// been completed yet. ok is false when the obligation is inactive, ended or
// fully paid.
func NextDueDate(o domain.Obligation, from time.Time) (due Due, ok bool, err error) {
	if !o.Common().Active {
		return Due{}, false, nil
	}

	seq, err := dueDates(o, from)
	if err != nil {
		return Due{}, false, err
	}

	counter, counted := domain.Counter(o)
	for i, d := range seq {
		if counted && i < counter {
			continue
		}
		return Due{PeriodIndex: i, Date: d}, true, nil
	}

	return Due{}, false, nil
}

// PeriodIndexOn reports which period of o, if any, falls due on date.
func PeriodIndexOn(o domain.Obligation, date time.Time) (int, bool, error) {
	if !o.Common().Active {
		return 0, false, nil
	}

	date = domain.DateOf(date)
	seq, err := dueDates(o, date)
	if err != nil {
		return 0, false, err
	}

	for i, d := range seq {
		if !d.Equal(date) {
			return 0, false, nil
		}
		return i, true, nil
	}

	return 0, false, nil
}

// PeriodCount returns the number of periods of bounded obligations.
// bounded is false for fixed items and subscriptions.
func PeriodCount(o domain.Obligation) (count int, bounded bool, err error) {
	switch v := o.(type) {
	case *domain.InstallmentPlan:
		return v.PeriodCount, true, nil
	case *domain.Loan:
		periods, err := LoanSchedule(v)
		if err != nil {
			return 0, true, err
		}
		return len(periods), true, nil
	default:
		return 0, false, nil
	}
}

// IsComplete reports whether every period of a bounded obligation has been
// materialized.
func IsComplete(o domain.Obligation) (bool, error) {
	counter, counted := domain.Counter(o)
	if !counted {
		return false, nil
	}

	count, _, err := PeriodCount(o)
	if err != nil {
		return false, err
	}

	return counter >= count, nil
}
