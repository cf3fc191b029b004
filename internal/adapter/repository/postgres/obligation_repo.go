package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

const obligationColumns = `
	id, owner_id, scope, kind, name, direction, currency, amount, active,
	start_date, end_date, day_of_month, total_amount, period_count, first_due_date,
	principal, annual_interest_rate, monthly_payment, billing_cycle, billing_day,
	completed_periods, created_at, updated_at`

// ObligationRepository implements usecase.ObligationRepository. All four
// obligation kinds share one table; variant columns are NULL for other kinds.
type ObligationRepository struct {
	db DBTX
}

// NewObligationRepository creates a new ObligationRepository.
func NewObligationRepository(db DBTX) *ObligationRepository {
	return &ObligationRepository{db: db}
}

// obligationRow is the flattened storage shape of a domain.Obligation.
type obligationRow struct {
	ID                 string
	OwnerID            string
	Scope              string
	Kind               string
	Name               string
	Direction          string
	Currency           string
	Amount             pgtype.Numeric
	Active             bool
	StartDate          pgtype.Date
	EndDate            pgtype.Date
	DayOfMonth         pgtype.Int4
	TotalAmount        pgtype.Numeric
	PeriodCount        pgtype.Int4
	FirstDueDate       pgtype.Date
	Principal          pgtype.Numeric
	AnnualInterestRate pgtype.Numeric
	MonthlyPayment     pgtype.Numeric
	BillingCycle       pgtype.Text
	BillingDay         pgtype.Int4
	CompletedPeriods   int32
	CreatedAt          pgtype.Timestamptz
	UpdatedAt          pgtype.Timestamptz
}

func (r *obligationRow) scanArgs() []any {
	return []any{
		&r.ID, &r.OwnerID, &r.Scope, &r.Kind, &r.Name, &r.Direction, &r.Currency, &r.Amount, &r.Active,
		&r.StartDate, &r.EndDate, &r.DayOfMonth, &r.TotalAmount, &r.PeriodCount, &r.FirstDueDate,
		&r.Principal, &r.AnnualInterestRate, &r.MonthlyPayment, &r.BillingCycle, &r.BillingDay,
		&r.CompletedPeriods, &r.CreatedAt, &r.UpdatedAt,
	}
}

func (r *obligationRow) values() []any {
	return []any{
		r.ID, r.OwnerID, r.Scope, r.Kind, r.Name, r.Direction, r.Currency, r.Amount, r.Active,
		r.StartDate, r.EndDate, r.DayOfMonth, r.TotalAmount, r.PeriodCount, r.FirstDueDate,
		r.Principal, r.AnnualInterestRate, r.MonthlyPayment, r.BillingCycle, r.BillingDay,
		r.CompletedPeriods, r.CreatedAt, r.UpdatedAt,
	}
}

func obligationToRow(o domain.Obligation) (obligationRow, error) {
	b := o.Common()
	row := obligationRow{
		ID:        b.ID,
		OwnerID:   b.OwnerID,
		Scope:     domain.NormalizeScope(b.Scope),
		Kind:      string(o.Kind()),
		Name:      b.Name,
		Direction: string(b.Direction),
		Currency:  b.Currency,
		Amount:    nullableNumeric(b.Amount, !b.Amount.IsZero()),
		Active:    b.Active,
		StartDate: dateToPg(b.StartDate),
		EndDate:   datePtrToPg(b.EndDate),
		CreatedAt: timeToPgTimestamptz(b.CreatedAt),
		UpdatedAt: timeToPgTimestamptz(b.UpdatedAt),
	}

	switch v := o.(type) {
	case *domain.FixedItem:
		row.DayOfMonth = pgInt4(v.DayOfMonth, true)
	case *domain.InstallmentPlan:
		row.TotalAmount = decimalToNumeric(v.TotalAmount)
		row.PeriodCount = pgInt4(v.PeriodCount, true)
		row.FirstDueDate = dateToPg(v.FirstDueDate)
		row.CompletedPeriods = int32(v.PeriodsCompleted)
	case *domain.Loan:
		row.Principal = decimalToNumeric(v.Principal)
		row.AnnualInterestRate = decimalToNumeric(v.AnnualInterestRate)
		row.MonthlyPayment = decimalToNumeric(v.MonthlyPayment)
		row.CompletedPeriods = int32(v.PaymentsMade)
	case *domain.Subscription:
		row.BillingCycle = pgText(string(v.BillingCycle))
		row.BillingDay = pgInt4(v.BillingDay, true)
	default:
		return obligationRow{}, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidObligation, o.Kind())
	}

	return row, nil
}

func rowToObligation(row obligationRow) (domain.Obligation, error) {
	base := domain.ObligationBase{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		Scope:     row.Scope,
		Name:      row.Name,
		Direction: domain.Direction(row.Direction),
		Currency:  row.Currency,
		Amount:    numericToDecimal(row.Amount),
		Active:    row.Active,
		StartDate: domain.DateOf(row.StartDate.Time),
		EndDate:   pgDateToPtr(row.EndDate),
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}

	switch domain.ObligationKind(row.Kind) {
	case domain.KindFixedItem:
		return &domain.FixedItem{ObligationBase: base, DayOfMonth: int(row.DayOfMonth.Int32)}, nil
	case domain.KindInstallmentPlan:
		return &domain.InstallmentPlan{
			ObligationBase:   base,
			TotalAmount:      numericToDecimal(row.TotalAmount),
			PeriodCount:      int(row.PeriodCount.Int32),
			PeriodsCompleted: int(row.CompletedPeriods),
			FirstDueDate:     domain.DateOf(row.FirstDueDate.Time),
		}, nil
	case domain.KindLoan:
		return &domain.Loan{
			ObligationBase:     base,
			Principal:          numericToDecimal(row.Principal),
			AnnualInterestRate: numericToDecimal(row.AnnualInterestRate),
			MonthlyPayment:     numericToDecimal(row.MonthlyPayment),
			PaymentsMade:       int(row.CompletedPeriods),
		}, nil
	case domain.KindSubscription:
		return &domain.Subscription{
			ObligationBase: base,
			BillingCycle:   domain.BillingCycle(row.BillingCycle.String),
			BillingDay:     int(row.BillingDay.Int32),
		}, nil
	default:
		return nil, fmt.Errorf("obligation %s: unknown kind %q", row.ID, row.Kind)
	}
}

// Create inserts a new obligation.
func (r *ObligationRepository) Create(ctx context.Context, obligation domain.Obligation) error {
	row, err := obligationToRow(obligation)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO obligations (`+obligationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23)`,
		row.values()...,
	)
	if err != nil {
		return fmt.Errorf("insert obligation: %w", err)
	}
	return nil
}

// GetByID retrieves an obligation by ID.
func (r *ObligationRepository) GetByID(ctx context.Context, id string) (domain.Obligation, error) {
	return r.get(ctx, r.db, `SELECT `+obligationColumns+` FROM obligations WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves an obligation and locks its row until tx ends.
func (r *ObligationRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (domain.Obligation, error) {
	return r.get(ctx, conn(r.db, tx), `SELECT `+obligationColumns+` FROM obligations WHERE id = $1 FOR UPDATE`, id)
}

func (r *ObligationRepository) get(ctx context.Context, db DBTX, query, id string) (domain.Obligation, error) {
	var row obligationRow
	if err := db.QueryRow(ctx, query, id).Scan(row.scanArgs()...); err != nil {
		return nil, notFound(err, domain.ErrObligationNotFound)
	}
	return rowToObligation(row)
}

// ListByOwner lists an owner's obligations, oldest first.
func (r *ObligationRepository) ListByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]domain.Obligation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+obligationColumns+`
		FROM obligations
		WHERE owner_id = $1 AND (active OR NOT $2)
		ORDER BY created_at, id`,
		ownerID, activeOnly,
	)
	if err != nil {
		return nil, err
	}
	return collectObligations(rows)
}

// ListCounted lists every installment plan and loan.
func (r *ObligationRepository) ListCounted(ctx context.Context) ([]domain.Obligation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+obligationColumns+`
		FROM obligations
		WHERE kind IN ('installment_plan', 'loan')
		ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	return collectObligations(rows)
}

// ListOwnersWithActive lists owners that have at least one active obligation.
func (r *ObligationRepository) ListOwnersWithActive(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT owner_id FROM obligations WHERE active ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UpdateProgress stores the completed-period counter and the active flag.
func (r *ObligationRepository) UpdateProgress(ctx context.Context, tx usecase.Transaction, id string, counter int, active bool, updatedAt time.Time) error {
	tag, err := conn(r.db, tx).Exec(ctx, `
		UPDATE obligations
		SET completed_periods = $2, active = $3, updated_at = $4
		WHERE id = $1`,
		id, counter, active, timeToPgTimestamptz(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("update obligation progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrObligationNotFound
	}
	return nil
}

// Deactivate marks an obligation inactive.
func (r *ObligationRepository) Deactivate(ctx context.Context, id string, updatedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE obligations SET active = FALSE, updated_at = $2 WHERE id = $1`,
		id, timeToPgTimestamptz(updatedAt))
	if err != nil {
		return fmt.Errorf("deactivate obligation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrObligationNotFound
	}
	return nil
}

func collectObligations(rows pgx.Rows) ([]domain.Obligation, error) {
	defer rows.Close()

	var obligations []domain.Obligation
	for rows.Next() {
		var row obligationRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, err
		}
		o, err := rowToObligation(row)
		if err != nil {
			return nil, err
		}
		obligations = append(obligations, o)
	}
	return obligations, rows.Err()
}
