package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/calculator"
	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/forecast"
)

// FallbackCurrency is the reporting currency of owners with no balances and
// no obligations.
const FallbackCurrency = "USD"

// ForecastConfig tunes projections.
type ForecastConfig struct {
	// ReportingCurrency fixes the currency of every projection. When empty
	// the owner's own currency is used.
	ReportingCurrency string
	MaxHorizonDays    int
}

// ForecastUseCase projects an owner's balance forward.
type ForecastUseCase struct {
	obligationRepo ObligationRepository
	ledgerRepo     LedgerRepository
	balanceRepo    BalanceRepository
	cache          ForecastCache
	rates          RateProvider
	metrics        Metrics
	logger         zerolog.Logger
	cfg            ForecastConfig
	now            func() time.Time
}

// NewForecastUseCase creates a new ForecastUseCase.
func NewForecastUseCase(
	obligationRepo ObligationRepository,
	ledgerRepo LedgerRepository,
	balanceRepo BalanceRepository,
	cfg ForecastConfig,
) *ForecastUseCase {
	if cfg.MaxHorizonDays <= 0 {
		cfg.MaxHorizonDays = DefaultMaxHorizonDays
	}
	cfg.ReportingCurrency = domain.NormalizeCurrency(cfg.ReportingCurrency)

	return &ForecastUseCase{
		obligationRepo: obligationRepo,
		ledgerRepo:     ledgerRepo,
		balanceRepo:    balanceRepo,
		metrics:        nopMetrics{},
		logger:         zerolog.Nop(),
		cfg:            cfg,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithCache enables caching of computed projections.
func (uc *ForecastUseCase) WithCache(cache ForecastCache) *ForecastUseCase {
	uc.cache = cache
	return uc
}

// WithRates enables conversion of foreign-currency amounts.
func (uc *ForecastUseCase) WithRates(rates RateProvider) *ForecastUseCase {
	uc.rates = rates
	return uc
}

// WithMetrics sets the telemetry sink.
func (uc *ForecastUseCase) WithMetrics(m Metrics) *ForecastUseCase {
	uc.metrics = m
	return uc
}

// WithLogger sets the logger.
func (uc *ForecastUseCase) WithLogger(l zerolog.Logger) *ForecastUseCase {
	uc.logger = l
	return uc
}

// WithClock replaces the wall clock.
func (uc *ForecastUseCase) WithClock(now func() time.Time) *ForecastUseCase {
	uc.now = now
	return uc
}

// Projection is a computed forecast together with its inputs.
type Projection struct {
	OwnerID      string
	Currency     string
	AsOf         time.Time
	HorizonDays  int
	StartBalance decimal.Decimal
	Points       []domain.ForecastPoint
	// Occurrences are the unmaterialized periods in the window, with
	// amounts in Currency.
	Occurrences []calculator.Occurrence
	Obligations map[string]domain.Obligation
}

// Project returns the owner's projected balance for the next horizonDays
// days starting at asOf. A zero asOf means today.
func (uc *ForecastUseCase) Project(ctx context.Context, ownerID string, horizonDays int, asOf time.Time) ([]domain.ForecastPoint, error) {
	if err := domain.ValidateOwnerID(ownerID); err != nil {
		return nil, err
	}
	if err := uc.validateHorizon(horizonDays); err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = uc.now()
	}
	asOf = domain.DateOf(asOf)

	if uc.cache != nil {
		points, ok, err := uc.cache.Get(ctx, ownerID, horizonDays, asOf)
		if err != nil {
			uc.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("forecast cache lookup failed")
		}
		uc.metrics.ForecastCacheLookup(ok)
		if ok {
			return points, nil
		}
	}

	p, err := uc.Projection(ctx, ownerID, horizonDays, asOf)
	if err != nil {
		return nil, err
	}

	if uc.cache != nil {
		if err := uc.cache.Set(ctx, ownerID, horizonDays, asOf, p.Points); err != nil {
			uc.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("failed to cache forecast")
		}
	}

	return p.Points, nil
}

// Projection computes a forecast without consulting the cache.
func (uc *ForecastUseCase) Projection(ctx context.Context, ownerID string, horizonDays int, asOf time.Time) (*Projection, error) {
	if err := uc.validateHorizon(horizonDays); err != nil {
		return nil, err
	}
	asOf = domain.DateOf(asOf)
	end := forecast.HorizonEnd(asOf, horizonDays)

	balances, err := uc.balanceRepo.ListCurrent(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	obligations, err := uc.obligationRepo.ListByOwner(ctx, ownerID, true)
	if err != nil {
		return nil, fmt.Errorf("load obligations: %w", err)
	}
	materialized, err := uc.ledgerRepo.ListMaterializedPeriods(ctx, ownerID, asOf, end)
	if err != nil {
		return nil, fmt.Errorf("load materialized periods: %w", err)
	}

	currency := uc.reportingCurrency(balances, obligations)

	start := decimal.Zero
	for _, b := range balances {
		amount, err := uc.convert(ctx, b.Amount, b.Currency, currency, asOf)
		if err != nil {
			return nil, err
		}
		start = start.Add(amount)
	}

	done := make(map[domain.PeriodKey]struct{}, len(materialized))
	for _, k := range materialized {
		done[k] = struct{}{}
	}

	p := &Projection{
		OwnerID:      ownerID,
		Currency:     currency,
		AsOf:         asOf,
		HorizonDays:  horizonDays,
		StartBalance: start,
		Obligations:  make(map[string]domain.Obligation, len(obligations)),
	}

	var events []forecast.Event
	for _, o := range obligations {
		b := o.Common()
		p.Obligations[b.ID] = o

		seq, err := calculator.Occurrences(o, asOf, end)
		if err != nil {
			return nil, fmt.Errorf("obligation %s: %w", b.ID, err)
		}

		for occ := range seq {
			if _, ok := done[domain.PeriodKey{ObligationID: b.ID, PeriodIndex: occ.PeriodIndex}]; ok {
				continue
			}
			occ.Amount, err = uc.convert(ctx, occ.Amount, b.Currency, currency, occ.Date)
			if err != nil {
				return nil, err
			}
			p.Occurrences = append(p.Occurrences, occ)
			events = append(events, forecast.FromOccurrence(occ))
		}
	}

	p.Points = forecast.Collect(forecast.Project(start, asOf, horizonDays, events))
	return p, nil
}

func (uc *ForecastUseCase) validateHorizon(horizonDays int) error {
	if horizonDays < 0 || horizonDays > uc.cfg.MaxHorizonDays {
		return fmt.Errorf("%w: horizon must be between 0 and %d days, got %d",
			domain.ErrInvalidHorizon, uc.cfg.MaxHorizonDays, horizonDays)
	}
	return nil
}

func (uc *ForecastUseCase) reportingCurrency(balances []*domain.BalanceSnapshot, obligations []domain.Obligation) string {
	if uc.cfg.ReportingCurrency != "" {
		return uc.cfg.ReportingCurrency
	}
	switch {
	case len(balances) > 0:
		return balances[0].Currency
	case len(obligations) > 0:
		return obligations[0].Common().Currency
	default:
		return FallbackCurrency
	}
}

func (uc *ForecastUseCase) convert(ctx context.Context, amount decimal.Decimal, from, to string, on time.Time) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	if uc.rates == nil {
		return decimal.Zero, fmt.Errorf("%w: %s amount in a %s projection and no rate provider configured",
			domain.ErrCurrencyMismatch, from, to)
	}

	rate, err := uc.rates.Rate(ctx, from, to, on)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate %s->%s: %w", from, to, err)
	}
	return amount.Mul(rate).Round(domain.AmountScale), nil
}
