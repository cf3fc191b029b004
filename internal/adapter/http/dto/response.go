package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return domain.FormatDate(*t)
}

// ObligationResponse represents an obligation in API responses. Only the
// fields of its kind are set.
type ObligationResponse struct {
	ID        string                `json:"id"`
	OwnerID   string                `json:"owner_id"`
	Scope     string                `json:"scope"`
	Kind      domain.ObligationKind `json:"kind"`
	Name      string                `json:"name"`
	Direction domain.Direction      `json:"direction"`
	Currency  string                `json:"currency"`
	Amount    *decimal.Decimal      `json:"amount,omitempty"`
	Active    bool                  `json:"active"`
	StartDate string                `json:"start_date"`
	EndDate   string                `json:"end_date,omitempty"`

	DayOfMonth int `json:"day_of_month,omitempty"`

	TotalAmount      *decimal.Decimal `json:"total_amount,omitempty"`
	PeriodCount      int              `json:"period_count,omitempty"`
	PeriodsCompleted *int             `json:"periods_completed,omitempty"`
	FirstDueDate     string           `json:"first_due_date,omitempty"`

	Principal          *decimal.Decimal `json:"principal,omitempty"`
	AnnualInterestRate *decimal.Decimal `json:"annual_interest_rate,omitempty"`
	MonthlyPayment     *decimal.Decimal `json:"monthly_payment,omitempty"`
	PaymentsMade       *int             `json:"payments_made,omitempty"`

	BillingCycle domain.BillingCycle `json:"billing_cycle,omitempty"`
	BillingDay   int                 `json:"billing_day,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ObligationFromDomain converts a domain obligation to response.
func ObligationFromDomain(o domain.Obligation) *ObligationResponse {
	b := o.Common()
	resp := &ObligationResponse{
		ID:        b.ID,
		OwnerID:   b.OwnerID,
		Scope:     b.Scope,
		Kind:      o.Kind(),
		Name:      b.Name,
		Direction: b.Direction,
		Currency:  b.Currency,
		Active:    b.Active,
		StartDate: domain.FormatDate(b.StartDate),
		EndDate:   formatOptionalDate(b.EndDate),
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}

	switch v := o.(type) {
	case *domain.FixedItem:
		resp.Amount = &v.Amount
		resp.DayOfMonth = v.DayOfMonth
	case *domain.InstallmentPlan:
		resp.TotalAmount = &v.TotalAmount
		resp.PeriodCount = v.PeriodCount
		resp.PeriodsCompleted = &v.PeriodsCompleted
		resp.FirstDueDate = domain.FormatDate(v.FirstDueDate)
	case *domain.Loan:
		resp.Principal = &v.Principal
		resp.AnnualInterestRate = &v.AnnualInterestRate
		resp.MonthlyPayment = &v.MonthlyPayment
		resp.PaymentsMade = &v.PaymentsMade
	case *domain.Subscription:
		resp.Amount = &v.Amount
		resp.BillingCycle = v.BillingCycle
		resp.BillingDay = v.BillingDay
	}
	return resp
}

// ObligationsFromDomain converts domain obligations to responses.
func ObligationsFromDomain(obligations []domain.Obligation) []*ObligationResponse {
	result := make([]*ObligationResponse, len(obligations))
	for i, o := range obligations {
		result[i] = ObligationFromDomain(o)
	}
	return result
}

// ListObligationsResponse represents a list of obligations.
type ListObligationsResponse struct {
	Obligations []*ObligationResponse `json:"obligations"`
	Total       int                   `json:"total"`
}

// TransactionResponse represents a ledger transaction in API responses.
type TransactionResponse struct {
	ID           string           `json:"id"`
	OwnerID      string           `json:"owner_id"`
	Scope        string           `json:"scope"`
	ObligationID *string          `json:"obligation_id,omitempty"`
	PeriodIndex  *int             `json:"period_index,omitempty"`
	Direction    domain.Direction `json:"direction"`
	Amount       decimal.Decimal  `json:"amount"`
	Currency     string           `json:"currency"`
	OccurredOn   string           `json:"occurred_on"`
	Origin       domain.Origin    `json:"origin"`
	Description  string           `json:"description,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// TransactionFromDomain converts a domain transaction to response.
func TransactionFromDomain(t *domain.LedgerTransaction) *TransactionResponse {
	return &TransactionResponse{
		ID:           t.ID,
		OwnerID:      t.OwnerID,
		Scope:        t.Scope,
		ObligationID: t.ObligationID,
		PeriodIndex:  t.PeriodIndex,
		Direction:    t.Direction,
		Amount:       t.Amount,
		Currency:     t.Currency,
		OccurredOn:   domain.FormatDate(t.OccurredOn),
		Origin:       t.Origin,
		Description:  t.Description,
		CreatedAt:    t.CreatedAt,
	}
}

// ListTransactionsResponse represents a page of transactions.
type ListTransactionsResponse struct {
	Transactions []*TransactionResponse `json:"transactions"`
	Total        int                    `json:"total"`
}

// TransactionsFromDomain converts domain transactions to responses.
func TransactionsFromDomain(txns []*domain.LedgerTransaction) []*TransactionResponse {
	result := make([]*TransactionResponse, len(txns))
	for i, t := range txns {
		result[i] = TransactionFromDomain(t)
	}
	return result
}

// BalanceResponse represents a balance snapshot in API responses.
type BalanceResponse struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Scope         string          `json:"scope"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	IsCurrent     bool            `json:"is_current"`
	EffectiveDate string          `json:"effective_date"`
	CreatedAt     time.Time       `json:"created_at"`
}

// BalanceFromDomain converts a domain snapshot to response.
func BalanceFromDomain(b *domain.BalanceSnapshot) *BalanceResponse {
	return &BalanceResponse{
		ID:            b.ID,
		OwnerID:       b.OwnerID,
		Scope:         b.Scope,
		Amount:        b.Amount,
		Currency:      b.Currency,
		IsCurrent:     b.IsCurrent,
		EffectiveDate: domain.FormatDate(b.EffectiveDate),
		CreatedAt:     b.CreatedAt,
	}
}

// BalancesFromDomain converts domain snapshots to responses.
func BalancesFromDomain(snapshots []*domain.BalanceSnapshot) []*BalanceResponse {
	result := make([]*BalanceResponse, len(snapshots))
	for i, b := range snapshots {
		result[i] = BalanceFromDomain(b)
	}
	return result
}

// ListBalancesResponse represents a list of balance snapshots.
type ListBalancesResponse struct {
	Balances []*BalanceResponse `json:"balances"`
}

// ForecastPointResponse is one projected balance.
type ForecastPointResponse struct {
	Date                      string          `json:"date"`
	ProjectedBalance          decimal.Decimal `json:"projected_balance"`
	ContributingObligationIDs []string        `json:"contributing_obligation_ids,omitempty"`
}

// ForecastResponse represents a projection in API responses.
type ForecastResponse struct {
	OwnerID     string                   `json:"owner_id"`
	AsOf        string                   `json:"as_of"`
	HorizonDays int                      `json:"horizon_days"`
	Points      []*ForecastPointResponse `json:"points"`
}

// ForecastFromDomain converts forecast points to response.
func ForecastFromDomain(ownerID string, asOf time.Time, horizonDays int, points []domain.ForecastPoint) *ForecastResponse {
	resp := &ForecastResponse{
		OwnerID:     ownerID,
		AsOf:        domain.FormatDate(asOf),
		HorizonDays: horizonDays,
		Points:      make([]*ForecastPointResponse, len(points)),
	}
	for i, p := range points {
		resp.Points[i] = &ForecastPointResponse{
			Date:                      domain.FormatDate(p.Date),
			ProjectedBalance:          p.ProjectedBalance,
			ContributingObligationIDs: p.ContributingObligationIDs,
		}
	}
	return resp
}

// AlertResponse represents an alert in API responses.
type AlertResponse struct {
	ID           string           `json:"id"`
	Type         domain.AlertType `json:"type"`
	Severity     domain.Severity  `json:"severity"`
	Subject      string           `json:"subject"`
	Period       string           `json:"period"`
	Message      string           `json:"message"`
	Amount       decimal.Decimal  `json:"amount"`
	DueDate      string           `json:"due_date"`
	Read         bool             `json:"read"`
	Dismissed    bool             `json:"dismissed"`
	SnoozedUntil *time.Time       `json:"snoozed_until,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// AlertFromDomain converts a domain alert to response.
func AlertFromDomain(a *domain.Alert) *AlertResponse {
	return &AlertResponse{
		ID:           a.ID,
		Type:         a.Type,
		Severity:     a.Severity,
		Subject:      a.Subject,
		Period:       a.Period,
		Message:      a.Message,
		Amount:       a.Amount,
		DueDate:      domain.FormatDate(a.DueDate),
		Read:         a.Read,
		Dismissed:    a.Dismissed,
		SnoozedUntil: a.SnoozedUntil,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

// ListAlertsResponse represents a list of alerts.
type ListAlertsResponse struct {
	Alerts []*AlertResponse `json:"alerts"`
}

// AlertsFromDomain converts domain alerts to responses.
func AlertsFromDomain(alerts []*domain.Alert) *ListAlertsResponse {
	resp := &ListAlertsResponse{Alerts: make([]*AlertResponse, len(alerts))}
	for i, a := range alerts {
		resp.Alerts[i] = AlertFromDomain(a)
	}
	return resp
}

// ThresholdsResponse represents an owner's alert thresholds.
type ThresholdsResponse struct {
	OwnerID                  string          `json:"owner_id"`
	LowBalance               decimal.Decimal `json:"low_balance"`
	LargePayment             decimal.Decimal `json:"large_payment"`
	LargePaymentWarningRatio decimal.Decimal `json:"large_payment_warning_ratio"`
	LookaheadDays            int             `json:"lookahead_days"`
	UpdatedAt                *time.Time      `json:"updated_at,omitempty"`
}

// ThresholdsFromDomain converts domain thresholds to response.
func ThresholdsFromDomain(t *domain.AlertThresholds) *ThresholdsResponse {
	resp := &ThresholdsResponse{
		OwnerID:                  t.OwnerID,
		LowBalance:               t.LowBalance,
		LargePayment:             t.LargePayment,
		LargePaymentWarningRatio: t.LargePaymentWarningRatio,
		LookaheadDays:            t.LookaheadDays,
	}
	if !t.UpdatedAt.IsZero() {
		resp.UpdatedAt = &t.UpdatedAt
	}
	return resp
}

// RunResponse represents a processing run in API responses.
type RunResponse struct {
	ID           string               `json:"id"`
	RunDate      string               `json:"run_date"`
	Status       domain.RunStatus     `json:"status"`
	Materialized int                  `json:"materialized"`
	Skipped      int                  `json:"skipped"`
	Failed       int                  `json:"failed"`
	Owners       []domain.OwnerResult `json:"owners"`
	CatchUpDates []string             `json:"catch_up_dates,omitempty"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	FinishedAt   *time.Time           `json:"finished_at,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

// RunFromDomain converts a domain run to response.
func RunFromDomain(r *domain.ProcessingRun) *RunResponse {
	materialized, skipped, failed := r.Totals()
	resp := &RunResponse{
		ID:           r.ID,
		RunDate:      domain.FormatDate(r.RunDate),
		Status:       r.Status,
		Materialized: materialized,
		Skipped:      skipped,
		Failed:       failed,
		Owners:       r.Owners,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		CreatedAt:    r.CreatedAt,
	}
	if resp.Owners == nil {
		resp.Owners = []domain.OwnerResult{}
	}
	for _, d := range r.CatchUpDates {
		resp.CatchUpDates = append(resp.CatchUpDates, domain.FormatDate(d))
	}
	return resp
}

// ListRunsResponse represents a page of processing runs.
type ListRunsResponse struct {
	Runs []*RunResponse `json:"runs"`
}

// RunsFromDomain converts domain runs to responses.
func RunsFromDomain(runs []*domain.ProcessingRun) *ListRunsResponse {
	resp := &ListRunsResponse{Runs: make([]*RunResponse, len(runs))}
	for i, r := range runs {
		resp.Runs[i] = RunFromDomain(r)
	}
	return resp
}

// DiscrepancyResponse is one obligation whose counter disagrees with the ledger.
type DiscrepancyResponse struct {
	ObligationID string                `json:"obligation_id"`
	OwnerID      string                `json:"owner_id"`
	Kind         domain.ObligationKind `json:"kind"`
	Counter      int                   `json:"counter"`
	Materialized int                   `json:"materialized"`
	Orphaned     bool                  `json:"orphaned"`
}

// DuplicateBalanceResponse is a scope with more than one current balance.
type DuplicateBalanceResponse struct {
	OwnerID string `json:"owner_id"`
	Scope   string `json:"scope"`
	Count   int    `json:"count"`
}

// ConsistencyResponse represents a consistency report.
type ConsistencyResponse struct {
	Status                   string                      `json:"status"`
	Consistent               bool                        `json:"consistent"`
	CheckedObligations       int                         `json:"checked_obligations"`
	DuplicateCurrentBalances []*DuplicateBalanceResponse `json:"duplicate_current_balances"`
	CounterDiscrepancies     []*DiscrepancyResponse      `json:"counter_discrepancies"`
	CheckedAt                time.Time                   `json:"checked_at"`
}

// ConsistencyFromReport converts a consistency report to response.
func ConsistencyFromReport(r *usecase.ConsistencyReport) *ConsistencyResponse {
	resp := &ConsistencyResponse{
		Status:                   "consistent",
		Consistent:               r.Consistent,
		CheckedObligations:       r.CheckedObligations,
		DuplicateCurrentBalances: make([]*DuplicateBalanceResponse, len(r.DuplicateCurrentBalances)),
		CounterDiscrepancies:     make([]*DiscrepancyResponse, len(r.CounterDiscrepancies)),
		CheckedAt:                r.CheckedAt,
	}
	if !r.Consistent {
		resp.Status = "inconsistent"
	}
	for i, d := range r.DuplicateCurrentBalances {
		resp.DuplicateCurrentBalances[i] = &DuplicateBalanceResponse{OwnerID: d.OwnerID, Scope: d.Scope, Count: d.Count}
	}
	for i, d := range r.CounterDiscrepancies {
		resp.CounterDiscrepancies[i] = &DiscrepancyResponse{
			ObligationID: d.ObligationID,
			OwnerID:      d.OwnerID,
			Kind:         d.Kind,
			Counter:      d.Counter,
			Materialized: d.Materialized,
			Orphaned:     d.Orphaned(),
		}
	}
	return resp
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
