package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/calculator"
	"github.com/iho/cashflow/internal/domain"
)

// ObligationUseCase handles obligation intake and lifecycle.
type ObligationUseCase struct {
	obligationRepo ObligationRepository
	idGen          IDGenerator
	cache          ForecastCache
	logger         zerolog.Logger
	now            func() time.Time
}

// NewObligationUseCase creates a new ObligationUseCase.
func NewObligationUseCase(obligationRepo ObligationRepository, idGen IDGenerator) *ObligationUseCase {
	return &ObligationUseCase{
		obligationRepo: obligationRepo,
		idGen:          idGen,
		logger:         zerolog.Nop(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithCache makes obligation changes invalidate cached forecasts.
func (uc *ObligationUseCase) WithCache(cache ForecastCache) *ObligationUseCase {
	uc.cache = cache
	return uc
}

// WithLogger sets the logger.
func (uc *ObligationUseCase) WithLogger(l zerolog.Logger) *ObligationUseCase {
	uc.logger = l
	return uc
}

// WithClock replaces the wall clock.
func (uc *ObligationUseCase) WithClock(now func() time.Time) *ObligationUseCase {
	uc.now = now
	return uc
}

// CreateObligationInput carries the fields of every obligation variant; Kind
// selects which ones apply.
type CreateObligationInput struct {
	OwnerID   string
	Scope     string
	Kind      domain.ObligationKind
	Name      string
	Direction domain.Direction
	Currency  string
	Amount    decimal.Decimal
	StartDate time.Time
	EndDate   *time.Time

	// FixedItem
	DayOfMonth int

	// InstallmentPlan
	TotalAmount      decimal.Decimal
	PeriodCount      int
	PeriodsCompleted int
	FirstDueDate     time.Time

	// Loan
	Principal          decimal.Decimal
	AnnualInterestRate decimal.Decimal
	MonthlyPayment     decimal.Decimal
	PaymentsMade       int

	// Subscription
	BillingCycle domain.BillingCycle
	BillingDay   int
}

// Create validates and stores a new obligation. Schedules that cannot be
// computed, such as a loan that never amortizes, are rejected here rather
// than during materialization.
func (uc *ObligationUseCase) Create(ctx context.Context, input CreateObligationInput) (domain.Obligation, error) {
	o, err := uc.build(input)
	if err != nil {
		return nil, err
	}

	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := calculator.ValidateSchedule(o); err != nil {
		return nil, err
	}

	if complete, err := calculator.IsComplete(o); err != nil {
		return nil, err
	} else if complete {
		o.Common().Active = false
	}

	if err := uc.obligationRepo.Create(ctx, o); err != nil {
		return nil, err
	}

	uc.invalidate(ctx, o.Common().OwnerID)
	uc.logger.Info().
		Str("owner_id", o.Common().OwnerID).
		Str("obligation_id", o.Common().ID).
		Str("kind", string(o.Kind())).
		Msg("obligation created")

	return o, nil
}

func (uc *ObligationUseCase) build(input CreateObligationInput) (domain.Obligation, error) {
	now := uc.now()
	base := domain.ObligationBase{
		ID:        uc.idGen.Generate(),
		OwnerID:   input.OwnerID,
		Scope:     domain.NormalizeScope(input.Scope),
		Name:      strings.TrimSpace(input.Name),
		Direction: input.Direction,
		Currency:  domain.NormalizeCurrency(input.Currency),
		Amount:    input.Amount,
		Active:    true,
		StartDate: domain.DateOf(input.StartDate),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.EndDate != nil {
		end := domain.DateOf(*input.EndDate)
		base.EndDate = &end
	}

	switch input.Kind {
	case domain.KindFixedItem:
		return &domain.FixedItem{ObligationBase: base, DayOfMonth: input.DayOfMonth}, nil

	case domain.KindSubscription:
		return &domain.Subscription{ObligationBase: base, BillingCycle: input.BillingCycle, BillingDay: input.BillingDay}, nil

	case domain.KindInstallmentPlan:
		if input.StartDate.IsZero() {
			base.StartDate = domain.DateOf(input.FirstDueDate)
		}
		if input.PeriodCount > 0 && input.TotalAmount.IsPositive() {
			base.Amount, _ = calculator.InstallmentAmount(input.TotalAmount, input.PeriodCount, 0)
		}
		return &domain.InstallmentPlan{
			ObligationBase:   base,
			TotalAmount:      input.TotalAmount,
			PeriodCount:      input.PeriodCount,
			PeriodsCompleted: input.PeriodsCompleted,
			FirstDueDate:     domain.DateOf(input.FirstDueDate),
		}, nil

	case domain.KindLoan:
		base.Amount = input.MonthlyPayment
		return &domain.Loan{
			ObligationBase:     base,
			Principal:          input.Principal,
			AnnualInterestRate: input.AnnualInterestRate,
			MonthlyPayment:     input.MonthlyPayment,
			PaymentsMade:       input.PaymentsMade,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidObligation, input.Kind)
	}
}

// Get retrieves an obligation of the owner.
func (uc *ObligationUseCase) Get(ctx context.Context, ownerID, id string) (domain.Obligation, error) {
	o, err := uc.obligationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Common().OwnerID != ownerID {
		return nil, domain.ErrObligationNotFound
	}
	return o, nil
}

// ListByOwner lists the owner's obligations.
func (uc *ObligationUseCase) ListByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]domain.Obligation, error) {
	if err := domain.ValidateOwnerID(ownerID); err != nil {
		return nil, err
	}
	return uc.obligationRepo.ListByOwner(ctx, ownerID, activeOnly)
}

// Deactivate stops an obligation from producing further periods. The row
// is kept because ledger transactions reference it.
func (uc *ObligationUseCase) Deactivate(ctx context.Context, ownerID, id string) (domain.Obligation, error) {
	o, err := uc.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !o.Common().Active {
		return o, nil
	}

	now := uc.now()
	if err := uc.obligationRepo.Deactivate(ctx, id, now); err != nil {
		return nil, err
	}
	o.Common().Active = false
	o.Common().UpdatedAt = now

	uc.invalidate(ctx, ownerID)
	return o, nil
}

func (uc *ObligationUseCase) invalidate(ctx context.Context, ownerID string) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.Invalidate(ctx, ownerID); err != nil {
		uc.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("failed to invalidate forecast cache")
	}
}
