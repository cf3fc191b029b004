// Package forecast turns a starting balance and a set of dated cash events
// into a running projected balance.
package forecast

import (
	"cmp"
	"iter"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/calculator"
	"github.com/iho/cashflow/internal/domain"
)

// Event is a signed change to the balance on Date.
type Event struct {
	Date         time.Time
	Amount       decimal.Decimal
	ObligationID string
}

// FromOccurrence converts a calculator occurrence into a signed event.
func FromOccurrence(o calculator.Occurrence) Event {
	return Event{Date: o.Date, Amount: o.Signed(), ObligationID: o.ObligationID}
}

// HorizonEnd returns the last date covered by a projection.
func HorizonEnd(asOf time.Time, horizonDays int) time.Time {
	return domain.DateOf(asOf).AddDate(0, 0, horizonDays)
}

// Project walks events chronologically from start and yields one point per
// distinct event date in [asOf, asOf+horizonDays], plus the horizon's last
// date when no event lands on it. Events on the same date are summed into a
// single point. The sequence is pure: ranging over it again yields the same
// points.
func Project(start decimal.Decimal, asOf time.Time, horizonDays int, events []Event) iter.Seq[domain.ForecastPoint] {
	asOf = domain.DateOf(asOf)
	end := HorizonEnd(asOf, horizonDays)

	sorted := make([]Event, 0, len(events))
	for _, e := range events {
		e.Date = domain.DateOf(e.Date)
		if e.Date.Before(asOf) || e.Date.After(end) {
			continue
		}
		sorted = append(sorted, e)
	}
	slices.SortStableFunc(sorted, func(a, b Event) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ObligationID, b.ObligationID)
	})

	return func(yield func(domain.ForecastPoint) bool) {
		balance := start
		lastDate := time.Time{}

		for i := 0; i < len(sorted); {
			day := sorted[i].Date
			var ids []string
			for ; i < len(sorted) && sorted[i].Date.Equal(day); i++ {
				balance = balance.Add(sorted[i].Amount)
				if id := sorted[i].ObligationID; id != "" && !slices.Contains(ids, id) {
					ids = append(ids, id)
				}
			}

			lastDate = day
			if !yield(domain.ForecastPoint{Date: day, ProjectedBalance: balance, ContributingObligationIDs: ids}) {
				return
			}
		}

		if !lastDate.Equal(end) {
			yield(domain.ForecastPoint{Date: end, ProjectedBalance: balance})
		}
	}
}

// Collect drains seq into a slice.
func Collect(seq iter.Seq[domain.ForecastPoint]) []domain.ForecastPoint {
	points := slices.Collect(seq)
	if points == nil {
		return []domain.ForecastPoint{}
	}
	return points
}

// Lowest returns the point with the smallest projected balance. ok is false
// for an empty sequence.
func Lowest(seq iter.Seq[domain.ForecastPoint]) (lowest domain.ForecastPoint, ok bool) {
	for p := range seq {
		if !ok || p.ProjectedBalance.LessThan(lowest.ProjectedBalance) {
			lowest, ok = p, true
		}
	}
	return lowest, ok
}
