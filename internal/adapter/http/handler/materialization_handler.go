package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iho/cashflow/internal/adapter/http/dto"
	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

// MaterializationService defines the behavior needed by MaterializationHandler.
type MaterializationService interface {
	RunMaterialization(ctx context.Context, date time.Time) (*domain.ProcessingRun, error)
	GetRun(ctx context.Context, id string) (*domain.ProcessingRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*domain.ProcessingRun, error)
}

// ConsistencyService defines the behavior needed for consistency checks.
type ConsistencyService interface {
	Check(ctx context.Context) (*usecase.ConsistencyReport, error)
}

// MaterializationHandler exposes the scheduler and ledger checks to operators.
type MaterializationHandler struct {
	materializationUC MaterializationService
	consistencyUC     ConsistencyService
	now               func() time.Time
}

// NewMaterializationHandler creates a new MaterializationHandler.
func NewMaterializationHandler(materializationUC MaterializationService, consistencyUC ConsistencyService) *MaterializationHandler {
	return &MaterializationHandler{
		materializationUC: materializationUC,
		consistencyUC:     consistencyUC,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// Run materializes a date, today by default. Owners that failed are
// reported in the run, not as an HTTP error.
func (h *MaterializationHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req dto.RunMaterializationRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	date, err := req.RunDate(h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	run, err := h.materializationUC.RunMaterialization(r.Context(), date)
	if err != nil {
		writeDomainError(w, "failed to run materialization", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.RunFromDomain(run))
}

// GetRun retrieves a processing run.
func (h *MaterializationHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.materializationUC.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "failed to get run", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.RunFromDomain(run))
}

// ListRuns lists processing runs, newest first.
func (h *MaterializationHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.materializationUC.ListRuns(r.Context(), parseIntQuery(r, "limit", 20), parseIntQuery(r, "offset", 0))
	if err != nil {
		writeDomainError(w, "failed to list runs", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.RunsFromDomain(runs))
}

// CheckConsistency reports duplicate current balances and counters that
// disagree with the ledger. An inconsistent ledger answers 409.
func (h *MaterializationHandler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.consistencyUC.Check(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check consistency", err.Error())
		return
	}

	status := http.StatusOK
	if !report.Consistent {
		status = http.StatusConflict
	}
	writeJSON(w, status, dto.ConsistencyFromReport(report))
}
