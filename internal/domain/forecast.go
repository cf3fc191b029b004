package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ForecastPoint is the projected balance at the end of Date.
type ForecastPoint struct {
	Date                      time.Time
	ProjectedBalance          decimal.Decimal
	ContributingObligationIDs []string
}
