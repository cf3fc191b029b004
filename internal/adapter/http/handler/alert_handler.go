package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iho/cashflow/internal/adapter/http/dto"
	"github.com/iho/cashflow/internal/domain"
)

// AlertService defines the behavior needed by AlertHandler.
type AlertService interface {
	Evaluate(ctx context.Context, ownerID string) ([]*domain.Alert, error)
	List(ctx context.Context, ownerID string, includeHidden bool) ([]*domain.Alert, error)
	MarkRead(ctx context.Context, ownerID, id string) (*domain.Alert, error)
	Dismiss(ctx context.Context, ownerID, id string) (*domain.Alert, error)
	Snooze(ctx context.Context, ownerID, id string, until time.Time) (*domain.Alert, error)
	GetThresholds(ctx context.Context, ownerID string) (*domain.AlertThresholds, error)
	SetThresholds(ctx context.Context, t *domain.AlertThresholds) (*domain.AlertThresholds, error)
}

// AlertHandler handles alert HTTP requests.
type AlertHandler struct {
	alertUC AlertService
}

// NewAlertHandler creates a new AlertHandler.
func NewAlertHandler(alertUC AlertService) *AlertHandler {
	return &AlertHandler{alertUC: alertUC}
}

// List returns visible alerts; ?all=true includes dismissed and snoozed ones.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	alerts, err := h.alertUC.List(r.Context(), owner, parseBoolQuery(r, "all"))
	if err != nil {
		writeDomainError(w, "failed to list alerts", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AlertsFromDomain(alerts))
}

// Evaluate recomputes the owner's alerts and returns the visible ones.
func (h *AlertHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	alerts, err := h.alertUC.Evaluate(r.Context(), owner)
	if err != nil {
		writeDomainError(w, "failed to evaluate alerts", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AlertsFromDomain(alerts))
}

// MarkRead marks an alert as read.
func (h *AlertHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "failed to mark alert read", h.alertUC.MarkRead)
}

// Dismiss hides an alert for good.
func (h *AlertHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "failed to dismiss alert", h.alertUC.Dismiss)
}

func (h *AlertHandler) mutate(w http.ResponseWriter, r *http.Request, message string,
	fn func(ctx context.Context, ownerID, id string) (*domain.Alert, error),
) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	alert, err := fn(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, message, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AlertFromDomain(alert))
}

// Snooze hides an alert until the requested instant.
func (h *AlertHandler) Snooze(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req dto.SnoozeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	alert, err := h.alertUC.Snooze(r.Context(), owner, chi.URLParam(r, "id"), req.Until)
	if err != nil {
		writeDomainError(w, "failed to snooze alert", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AlertFromDomain(alert))
}

// GetThresholds returns the owner's thresholds, or the defaults.
func (h *AlertHandler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	t, err := h.alertUC.GetThresholds(r.Context(), owner)
	if err != nil {
		writeDomainError(w, "failed to get thresholds", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ThresholdsFromDomain(t))
}

// SetThresholds replaces the owner's thresholds.
func (h *AlertHandler) SetThresholds(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req dto.ThresholdsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	t, err := h.alertUC.SetThresholds(r.Context(), req.ToDomain(owner))
	if err != nil {
		writeDomainError(w, "failed to set thresholds", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ThresholdsFromDomain(t))
}
