// Package calculator holds the pure date and amount math behind obligations:
// due dates, per-period amounts and loan amortization. Nothing here touches
// storage or the clock.
package calculator

import "time"

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDay returns the date for day in the given month, clamping day to the
// month's last day. Month values outside 1..12 roll over into adjacent years.
func ClampDay(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	y, m := first.Year(), first.Month()

	if last := DaysIn(y, m); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}

	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// AddMonthsClamped moves d by n calendar months keeping d's day of month,
// clamped to the target month's length. Chaining single steps carries the
// clamp forward: Jan 31 -> Feb 28 -> Mar 28.
func AddMonthsClamped(d time.Time, n int) time.Time {
	return ClampDay(d.Year(), d.Month()+time.Month(n), d.Day())
}

// isoWeekday maps 1 (Monday) .. 7 (Sunday) onto time.Weekday.
func isoWeekday(day int) time.Weekday {
	return time.Weekday(day % 7)
}

func monthsBetween(from, to time.Time) int {
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}
