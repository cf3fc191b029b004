package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

const obligationColumns = `
	id, owner_id, scope, kind, name, direction, currency, amount, active,
	start_date, end_date, day_of_month, total_amount, period_count, first_due_date,
	principal, annual_interest_rate, monthly_payment, billing_cycle, billing_day,
	completed_periods, created_at, updated_at`

// ObligationRepository implements usecase.ObligationRepository.
type ObligationRepository struct {
	db DBTX
}

// Create inserts a new obligation.
func (r *ObligationRepository) Create(ctx context.Context, o domain.Obligation) error {
	b := o.Common()
	var (
		dayOfMonth, periodCount, billingDay sql.NullInt64
		totalAmount, principal, rate        sql.NullString
		monthlyPayment, billingCycle        sql.NullString
		firstDue                            sql.NullString
		completed                           int
	)

	switch v := o.(type) {
	case *domain.FixedItem:
		dayOfMonth = nullInt(v.DayOfMonth, true)
	case *domain.InstallmentPlan:
		totalAmount = nullDecimal(v.TotalAmount, true)
		periodCount = nullInt(v.PeriodCount, true)
		firstDue = nullDate(&v.FirstDueDate)
		completed = v.PeriodsCompleted
	case *domain.Loan:
		principal = nullDecimal(v.Principal, true)
		rate = nullDecimal(v.AnnualInterestRate, true)
		monthlyPayment = nullDecimal(v.MonthlyPayment, true)
		completed = v.PaymentsMade
	case *domain.Subscription:
		billingCycle = sql.NullString{String: string(v.BillingCycle), Valid: true}
		billingDay = nullInt(v.BillingDay, true)
	default:
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidObligation, o.Kind())
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO obligations (`+obligationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OwnerID, domain.NormalizeScope(b.Scope), string(o.Kind()), b.Name, string(b.Direction), b.Currency,
		nullDecimal(b.Amount, !b.Amount.IsZero()), b.Active,
		domain.FormatDate(b.StartDate), nullDate(b.EndDate), dayOfMonth, totalAmount, periodCount, firstDue,
		principal, rate, monthlyPayment, billingCycle, billingDay,
		completed, formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert obligation: %w", err)
	}
	return nil
}

// GetByID retrieves an obligation by ID.
func (r *ObligationRepository) GetByID(ctx context.Context, id string) (domain.Obligation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+obligationColumns+` FROM obligations WHERE id = ?`, id)
	o, err := scanObligation(row)
	if err != nil {
		return nil, notFound(err, domain.ErrObligationNotFound)
	}
	return o, nil
}

// GetByIDForUpdate reads within tx. The transaction already holds the
// database write lock, so no row lock is needed.
func (r *ObligationRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (domain.Obligation, error) {
	row := conn(r.db, tx).QueryRowContext(ctx, `SELECT `+obligationColumns+` FROM obligations WHERE id = ?`, id)
	o, err := scanObligation(row)
	if err != nil {
		return nil, notFound(err, domain.ErrObligationNotFound)
	}
	return o, nil
}

// ListByOwner lists an owner's obligations, oldest first.
func (r *ObligationRepository) ListByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]domain.Obligation, error) {
	return r.list(ctx, `
		SELECT `+obligationColumns+`
		FROM obligations
		WHERE owner_id = ? AND (active = 1 OR ? = 0)
		ORDER BY created_at, id`,
		ownerID, activeOnly,
	)
}

// ListCounted lists every installment plan and loan.
func (r *ObligationRepository) ListCounted(ctx context.Context) ([]domain.Obligation, error) {
	return r.list(ctx, `
		SELECT `+obligationColumns+`
		FROM obligations
		WHERE kind IN ('installment_plan', 'loan')
		ORDER BY id`)
}

func (r *ObligationRepository) list(ctx context.Context, query string, args ...any) ([]domain.Obligation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obligations []domain.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		obligations = append(obligations, o)
	}
	return obligations, rows.Err()
}

// ListOwnersWithActive lists owners with at least one active obligation.
func (r *ObligationRepository) ListOwnersWithActive(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM obligations WHERE active = 1 ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// UpdateProgress stores the completed-period counter and the active flag.
func (r *ObligationRepository) UpdateProgress(ctx context.Context, tx usecase.Transaction, id string, counter int, active bool, updatedAt time.Time) error {
	res, err := conn(r.db, tx).ExecContext(ctx,
		`UPDATE obligations SET completed_periods = ?, active = ?, updated_at = ? WHERE id = ?`,
		counter, active, formatTime(updatedAt), id,
	)
	if err != nil {
		return fmt.Errorf("update obligation progress: %w", err)
	}
	return mustAffect(res, domain.ErrObligationNotFound)
}

// Deactivate marks an obligation inactive.
func (r *ObligationRepository) Deactivate(ctx context.Context, id string, updatedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE obligations SET active = 0, updated_at = ? WHERE id = ?`,
		formatTime(updatedAt), id)
	if err != nil {
		return fmt.Errorf("deactivate obligation: %w", err)
	}
	return mustAffect(res, domain.ErrObligationNotFound)
}

func scanObligation(s scanner) (domain.Obligation, error) {
	var (
		id, owner, scope, kind, name, direction, currency string
		amount, endDate, totalAmount, firstDue            sql.NullString
		principal, rate, monthlyPayment, billingCycle     sql.NullString
		dayOfMonth, periodCount, billingDay               sql.NullInt64
		active                                            bool
		startDate, createdAt, updatedAt                   string
		completed                                         int
	)

	err := s.Scan(
		&id, &owner, &scope, &kind, &name, &direction, &currency, &amount, &active,
		&startDate, &endDate, &dayOfMonth, &totalAmount, &periodCount, &firstDue,
		&principal, &rate, &monthlyPayment, &billingCycle, &billingDay,
		&completed, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	var p parser
	base := domain.ObligationBase{
		ID:        id,
		OwnerID:   owner,
		Scope:     scope,
		Name:      name,
		Direction: domain.Direction(direction),
		Currency:  currency,
		Amount:    p.nullDecimal(amount),
		Active:    active,
		StartDate: p.date(startDate),
		EndDate:   p.nullDate(endDate),
		CreatedAt: p.time(createdAt),
		UpdatedAt: p.time(updatedAt),
	}

	var o domain.Obligation
	switch domain.ObligationKind(kind) {
	case domain.KindFixedItem:
		o = &domain.FixedItem{ObligationBase: base, DayOfMonth: int(dayOfMonth.Int64)}
	case domain.KindInstallmentPlan:
		plan := &domain.InstallmentPlan{
			ObligationBase:   base,
			TotalAmount:      p.nullDecimal(totalAmount),
			PeriodCount:      int(periodCount.Int64),
			PeriodsCompleted: completed,
		}
		if due := p.nullDate(firstDue); due != nil {
			plan.FirstDueDate = *due
		}
		o = plan
	case domain.KindLoan:
		o = &domain.Loan{
			ObligationBase:     base,
			Principal:          p.nullDecimal(principal),
			AnnualInterestRate: p.nullDecimal(rate),
			MonthlyPayment:     p.nullDecimal(monthlyPayment),
			PaymentsMade:       completed,
		}
	case domain.KindSubscription:
		o = &domain.Subscription{
			ObligationBase: base,
			BillingCycle:   domain.BillingCycle(billingCycle.String),
			BillingDay:     int(billingDay.Int64),
		}
	default:
		return nil, fmt.Errorf("obligation %s: unknown kind %q", id, kind)
	}

	if p.err != nil {
		return nil, fmt.Errorf("decode obligation %s: %w", id, p.err)
	}
	return o, nil
}
