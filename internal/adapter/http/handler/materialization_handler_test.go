package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iho/cashflow/internal/adapter/http/dto"
	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

func completedRun(date time.Time) *domain.ProcessingRun {
	return &domain.ProcessingRun{
		ID:      "run-1",
		RunDate: date,
		Status:  domain.RunCompleted,
		Owners: []domain.OwnerResult{
			{OwnerID: "owner-1", Materialized: 2},
			{OwnerID: "owner-2", Failed: 1, Errors: []string{"timeout"}},
		},
	}
}

func TestMaterializationHandler_Run(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantDate time.Time
	}{
		{name: "empty body uses today", body: "", wantDate: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)},
		{name: "explicit date", body: `{"date":"2024-03-01"}`, wantDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotDate time.Time
			stub := &materializationServiceStub{
				runFn: func(ctx context.Context, date time.Time) (*domain.ProcessingRun, error) {
					gotDate = date
					return completedRun(date), nil
				},
			}
			handler := NewMaterializationHandler(stub, stub)
			handler.now = func() time.Time { return time.Date(2024, 3, 20, 23, 0, 0, 0, time.UTC) }

			req := httptest.NewRequest(http.MethodPost, "/materializations", bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()

			handler.Run(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if !gotDate.Equal(tt.wantDate) {
				t.Fatalf("expected %s, got %s", tt.wantDate, gotDate)
			}

			var resp dto.RunResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Materialized != 2 || resp.Failed != 1 {
				t.Fatalf("unexpected totals %+v", resp)
			}
		})
	}
}

func TestMaterializationHandler_Run_InProgress(t *testing.T) {
	stub := &materializationServiceStub{
		runFn: func(ctx context.Context, date time.Time) (*domain.ProcessingRun, error) {
			return nil, domain.ErrRunInProgress
		},
	}
	handler := NewMaterializationHandler(stub, stub)

	req := httptest.NewRequest(http.MethodPost, "/materializations", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	handler.Run(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestMaterializationHandler_GetRun_NotFound(t *testing.T) {
	stub := &materializationServiceStub{
		getRunFn: func(ctx context.Context, id string) (*domain.ProcessingRun, error) {
			return nil, domain.ErrRunNotFound
		},
	}
	handler := NewMaterializationHandler(stub, stub)

	req := setChiURLParam(httptest.NewRequest(http.MethodGet, "/materializations/nope", nil), "id", "nope")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMaterializationHandler_CheckConsistency(t *testing.T) {
	tests := []struct {
		name     string
		report   *usecase.ConsistencyReport
		wantCode int
	}{
		{
			name:     "consistent",
			report:   &usecase.ConsistencyReport{CheckedObligations: 3, Consistent: true},
			wantCode: http.StatusOK,
		},
		{
			name: "orphaned transaction",
			report: &usecase.ConsistencyReport{
				CheckedObligations: 3,
				CounterDiscrepancies: []usecase.CounterDiscrepancy{
					{ObligationID: "phone", OwnerID: "owner-1", Kind: domain.KindInstallmentPlan, Counter: 0, Materialized: 1},
				},
			},
			wantCode: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &materializationServiceStub{
				checkFn: func(ctx context.Context) (*usecase.ConsistencyReport, error) { return tt.report, nil },
			}
			handler := NewMaterializationHandler(stub, stub)

			req := httptest.NewRequest(http.MethodGet, "/ledger/consistency", nil)
			rec := httptest.NewRecorder()

			handler.CheckConsistency(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			var resp dto.ConsistencyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.CheckedObligations != 3 {
				t.Fatalf("unexpected response %+v", resp)
			}
		})
	}
}
