package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/cashflow/internal/adapter/http/dto"
	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

// ObligationService defines the behavior needed by ObligationHandler.
type ObligationService interface {
	Create(ctx context.Context, input usecase.CreateObligationInput) (domain.Obligation, error)
	Get(ctx context.Context, ownerID, id string) (domain.Obligation, error)
	ListByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]domain.Obligation, error)
	Deactivate(ctx context.Context, ownerID, id string) (domain.Obligation, error)
}

// ObligationHandler handles obligation HTTP requests.
type ObligationHandler struct {
	obligationUC ObligationService
}

// NewObligationHandler creates a new ObligationHandler.
func NewObligationHandler(obligationUC ObligationService) *ObligationHandler {
	return &ObligationHandler{obligationUC: obligationUC}
}

// Create creates a new obligation.
func (h *ObligationHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req dto.CreateObligationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	input, err := req.ToUseCaseInput(owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	o, err := h.obligationUC.Create(r.Context(), input)
	if err != nil {
		writeDomainError(w, "failed to create obligation", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.ObligationFromDomain(o))
}

// Get retrieves an obligation by ID.
func (h *ObligationHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	o, err := h.obligationUC.Get(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "failed to get obligation", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ObligationFromDomain(o))
}

// List lists the owner's obligations; ?all=true includes inactive ones.
func (h *ObligationHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	obligations, err := h.obligationUC.ListByOwner(r.Context(), owner, !parseBoolQuery(r, "all"))
	if err != nil {
		writeDomainError(w, "failed to list obligations", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ListObligationsResponse{
		Obligations: dto.ObligationsFromDomain(obligations),
		Total:       len(obligations),
	})
}

// Deactivate stops an obligation from materializing.
func (h *ObligationHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	o, err := h.obligationUC.Deactivate(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "failed to deactivate obligation", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ObligationFromDomain(o))
}
