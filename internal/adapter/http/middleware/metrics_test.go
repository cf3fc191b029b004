package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddlewareRecordsRoutePattern(t *testing.T) {
	testCases := []struct {
		name       string
		method     string
		path       string
		statusCode int
		want       string
	}{
		{
			name:       "uses the route pattern for IDs",
			method:     http.MethodPost,
			path:       "/api/v1/alerts/01HZX/read",
			statusCode: http.StatusTeapot,
			want:       "/api/v1/alerts/{id}/read",
		},
		{
			name:       "static route",
			method:     http.MethodGet,
			path:       "/health",
			statusCode: http.StatusOK,
			want:       "/health",
		},
		{
			name:       "unknown route",
			method:     http.MethodGet,
			path:       "/nope/123",
			statusCode: http.StatusNotFound,
			want:       unmatchedRoute,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			httpRequestsTotal.Reset()
			httpRequestDuration.Reset()
			httpRequestsInFlight.Set(0)

			r := chi.NewRouter()
			r.Use(Metrics)
			handler := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(tc.statusCode) }
			r.Post("/api/v1/alerts/{id}/read", handler)
			r.Get("/health", handler)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))

			if got := testutil.ToFloat64(httpRequestsInFlight); got != 0 {
				t.Fatalf("expected in-flight gauge to return to 0, got %v", got)
			}

			counter := httpRequestsTotal.WithLabelValues(tc.method, tc.want, strconv.Itoa(tc.statusCode))
			if got := testutil.ToFloat64(counter); got != 1 {
				t.Fatalf("expected counter for %q to be 1, got %v", tc.want, got)
			}
		})
	}
}
