// Package alerting derives alerts from a balance projection. The rules are
// pure; persistence and deduplication against stored alerts live in the
// alert use case.
package alerting

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/domain"
)

// TotalSubject is the subject of balance alerts raised on the owner-wide
// projection.
const TotalSubject = "total"

const periodLayout = "2006-01"

// Payment is an upcoming outflow considered by the large-payment rule.
type Payment struct {
	ObligationID string
	Name         string
	DueDate      time.Time
	Amount       decimal.Decimal
}

// Input is everything the rules look at.
type Input struct {
	OwnerID        string
	Subject        string
	Currency       string
	CurrentBalance decimal.Decimal
	Points         []domain.ForecastPoint
	Payments       []Payment
	Thresholds     domain.AlertThresholds
	Now            time.Time
}

// Derive applies the negative-forecast, low-balance and large-payment rules.
// At most one balance alert of each type is produced per calendar month.
// The result is ranked with Sort.
func Derive(in Input) []*domain.Alert {
	subject := in.Subject
	if subject == "" {
		subject = TotalSubject
	}

	var alerts []*domain.Alert
	seen := make(map[string]struct{})
	add := func(a *domain.Alert) {
		if _, dup := seen[a.DedupKey]; dup {
			return
		}
		seen[a.DedupKey] = struct{}{}
		a.OwnerID = in.OwnerID
		if a.Subject == "" {
			a.Subject = subject
		}
		a.CreatedAt = in.Now
		a.UpdatedAt = in.Now
		alerts = append(alerts, a)
	}

	for _, p := range in.Points {
		period := p.Date.Format(periodLayout)
		switch {
		case p.ProjectedBalance.IsNegative():
			add(&domain.Alert{
				Type:     domain.AlertNegativeForecast,
				Severity: domain.SeverityCritical,
				DedupKey: domain.DedupKey(domain.AlertNegativeForecast, subject, period),
				Period:   period,
				Message: fmt.Sprintf("Projected balance falls to %s %s on %s",
					p.ProjectedBalance.StringFixed(domain.AmountScale), in.Currency, domain.FormatDate(p.Date)),
				Amount:  p.ProjectedBalance,
				DueDate: p.Date,
			})
		case p.ProjectedBalance.LessThan(in.Thresholds.LowBalance):
			add(&domain.Alert{
				Type:     domain.AlertLowBalance,
				Severity: domain.SeverityWarning,
				DedupKey: domain.DedupKey(domain.AlertLowBalance, subject, period),
				Period:   period,
				Message: fmt.Sprintf("Projected balance drops to %s %s on %s, below %s",
					p.ProjectedBalance.StringFixed(domain.AmountScale), in.Currency, domain.FormatDate(p.Date),
					in.Thresholds.LowBalance.StringFixed(domain.AmountScale)),
				Amount:  p.ProjectedBalance,
				DueDate: p.Date,
			})
		}
	}

	for _, pay := range in.Payments {
		if !pay.Amount.GreaterThan(in.Thresholds.LargePayment) {
			continue
		}
		period := domain.FormatDate(pay.DueDate)
		add(&domain.Alert{
			Type:     domain.AlertUpcomingLargePayment,
			Severity: PaymentSeverity(pay.Amount, in.CurrentBalance, in.Thresholds.LargePaymentWarningRatio),
			DedupKey: domain.DedupKey(domain.AlertUpcomingLargePayment, pay.ObligationID, period),
			Period:   period,
			Message: fmt.Sprintf("%s of %s %s is due on %s",
				paymentName(pay), pay.Amount.StringFixed(domain.AmountScale), in.Currency, period),
			Subject: pay.ObligationID,
			Amount:  pay.Amount,
			DueDate: pay.DueDate,
		})
	}

	Sort(alerts)
	return alerts
}

// PaymentSeverity escalates a large payment to a warning when the balance
// cannot absorb it comfortably.
func PaymentSeverity(amount, balance, warningRatio decimal.Decimal) domain.Severity {
	if !balance.IsPositive() {
		return domain.SeverityWarning
	}
	if amount.GreaterThanOrEqual(balance.Mul(warningRatio)) {
		return domain.SeverityWarning
	}
	return domain.SeverityInfo
}

func paymentName(p Payment) string {
	if p.Name != "" {
		return p.Name
	}
	return "Payment " + p.ObligationID
}

// Sort orders alerts by severity, most urgent first, then by due date.
func Sort(alerts []*domain.Alert) {
	slices.SortStableFunc(alerts, func(a, b *domain.Alert) int {
		if c := cmp.Compare(b.Severity.Rank(), a.Severity.Rank()); c != 0 {
			return c
		}
		if c := a.DueDate.Compare(b.DueDate); c != 0 {
			return c
		}
		return cmp.Compare(a.DedupKey, b.DedupKey)
	})
}

// Visible filters alerts down to the ones shown at now.
func Visible(alerts []*domain.Alert, now time.Time) []*domain.Alert {
	out := make([]*domain.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.IsVisible(now) {
			out = append(out, a)
		}
	}
	return out
}
