package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/adapter/http/dto"
	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

func rentItem() *domain.FixedItem {
	return &domain.FixedItem{
		ObligationBase: domain.ObligationBase{
			ID:        "rent",
			OwnerID:   "owner-1",
			Scope:     domain.DefaultScope,
			Name:      "Rent",
			Direction: domain.DirectionOutflow,
			Currency:  "USD",
			Amount:    decimal.RequireFromString("2000.00"),
			Active:    true,
			StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		DayOfMonth: 1,
	}
}

func TestObligationHandler_Create_Success(t *testing.T) {
	var captured usecase.CreateObligationInput
	handler := NewObligationHandler(&obligationServiceStub{
		createFn: func(ctx context.Context, input usecase.CreateObligationInput) (domain.Obligation, error) {
			captured = input
			return rentItem(), nil
		},
	})

	body, _ := json.Marshal(dto.CreateObligationRequest{
		Kind:       domain.KindFixedItem,
		Name:       "Rent",
		Direction:  domain.DirectionOutflow,
		Currency:   "USD",
		Amount:     decimal.RequireFromString("2000.00"),
		StartDate:  "2024-01-01",
		DayOfMonth: 1,
	})
	req := asOwner(httptest.NewRequest(http.MethodPost, "/obligations", bytes.NewReader(body)), "owner-1")
	rec := httptest.NewRecorder()

	handler.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.OwnerID != "owner-1" || captured.Kind != domain.KindFixedItem || captured.DayOfMonth != 1 {
		t.Fatalf("expected input to match request, got %+v", captured)
	}
	if !captured.StartDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start date %s", captured.StartDate)
	}

	var resp dto.ObligationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "rent" || resp.DayOfMonth != 1 || resp.StartDate != "2024-01-01" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestObligationHandler_Create_BadDate(t *testing.T) {
	handler := NewObligationHandler(&obligationServiceStub{})

	body := []byte(`{"kind":"fixed_item","name":"Rent","direction":"outflow","currency":"USD","amount":"10","start_date":"01/02/2024","day_of_month":1}`)
	req := asOwner(httptest.NewRequest(http.MethodPost, "/obligations", bytes.NewReader(body)), "owner-1")
	rec := httptest.NewRecorder()

	handler.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestObligationHandler_Create_Invalid(t *testing.T) {
	handler := NewObligationHandler(&obligationServiceStub{
		createFn: func(ctx context.Context, input usecase.CreateObligationInput) (domain.Obligation, error) {
			return nil, domain.ErrInvalidObligation
		},
	})

	body := []byte(`{"kind":"fixed_item","name":"Rent","direction":"outflow","currency":"USD","amount":"10","start_date":"2024-01-01","day_of_month":40}`)
	req := asOwner(httptest.NewRequest(http.MethodPost, "/obligations", bytes.NewReader(body)), "owner-1")
	rec := httptest.NewRecorder()

	handler.Create(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestObligationHandler_Create_NoOwner(t *testing.T) {
	handler := NewObligationHandler(&obligationServiceStub{})

	req := httptest.NewRequest(http.MethodPost, "/obligations", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	handler.Create(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestObligationHandler_Get_NotFound(t *testing.T) {
	handler := NewObligationHandler(&obligationServiceStub{
		getFn: func(ctx context.Context, ownerID, id string) (domain.Obligation, error) {
			if ownerID != "owner-2" || id != "rent" {
				t.Errorf("unexpected lookup %s/%s", ownerID, id)
			}
			return nil, domain.ErrObligationNotFound
		},
	})

	req := asOwner(httptest.NewRequest(http.MethodGet, "/obligations/rent", nil), "owner-2")
	req = setChiURLParam(req, "id", "rent")
	rec := httptest.NewRecorder()

	handler.Get(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestObligationHandler_List_All(t *testing.T) {
	var activeOnly bool
	handler := NewObligationHandler(&obligationServiceStub{
		listFn: func(ctx context.Context, ownerID string, active bool) ([]domain.Obligation, error) {
			activeOnly = active
			return []domain.Obligation{rentItem()}, nil
		},
	})

	req := asOwner(httptest.NewRequest(http.MethodGet, "/obligations?all=true", nil), "owner-1")
	rec := httptest.NewRecorder()

	handler.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if activeOnly {
		t.Fatal("expected all=true to include inactive obligations")
	}

	var resp dto.ListObligationsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 1 || resp.Obligations[0].Kind != domain.KindFixedItem {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestObligationHandler_Deactivate(t *testing.T) {
	handler := NewObligationHandler(&obligationServiceStub{
		deactivateFn: func(ctx context.Context, ownerID, id string) (domain.Obligation, error) {
			o := rentItem()
			o.Active = false
			return o, nil
		},
	})

	req := asOwner(httptest.NewRequest(http.MethodDelete, "/obligations/rent", nil), "owner-1")
	req = setChiURLParam(req, "id", "rent")
	rec := httptest.NewRecorder()

	handler.Deactivate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp dto.ObligationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Active {
		t.Fatal("expected inactive obligation")
	}
}
