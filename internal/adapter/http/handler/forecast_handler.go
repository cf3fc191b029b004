package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/iho/cashflow/internal/adapter/http/dto"
	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

// ForecastService defines the behavior needed by ForecastHandler.
type ForecastService interface {
	Project(ctx context.Context, ownerID string, horizonDays int, asOf time.Time) ([]domain.ForecastPoint, error)
}

// ForecastHandler serves balance projections.
type ForecastHandler struct {
	forecastUC ForecastService
	now        func() time.Time
}

// NewForecastHandler creates a new ForecastHandler.
func NewForecastHandler(forecastUC ForecastService) *ForecastHandler {
	return &ForecastHandler{
		forecastUC: forecastUC,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Get projects the owner's balance. horizon_days defaults to
// usecase.DefaultHorizonDays and as_of to today.
func (h *ForecastHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	horizon := usecase.DefaultHorizonDays
	if v := r.URL.Query().Get("horizon_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid horizon_days", err.Error())
			return
		}
		horizon = n
	}

	asOf := domain.DateOf(h.now())
	if v := r.URL.Query().Get("as_of"); v != "" {
		d, err := domain.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid as_of", err.Error())
			return
		}
		asOf = d
	}

	points, err := h.forecastUC.Project(r.Context(), owner, horizon, asOf)
	if err != nil {
		writeDomainError(w, "failed to project balance", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ForecastFromDomain(owner, asOf, horizon, points))
}
