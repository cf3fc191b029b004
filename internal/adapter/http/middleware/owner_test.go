package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iho/cashflow/internal/infrastructure/auth"
)

func ownerEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := OwnerFromContext(r.Context())
		if !ok {
			t.Fatal("expected an owner in the context")
		}
		w.Header().Set("X-Resolved-Owner", owner)
		w.Header().Set("X-Resolved-Role", string(RoleFromContext(r.Context())))
	})
}

func TestOwnerMiddleware_Header(t *testing.T) {
	handler := OwnerMiddleware(nil)(ownerEcho(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(OwnerHeader, "owner-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Header().Get("X-Resolved-Owner") != "owner-1" {
		t.Fatalf("expected owner-1 to be resolved, got %d %q", rr.Code, rr.Header().Get("X-Resolved-Owner"))
	}
	if rr.Header().Get("X-Resolved-Role") != string(auth.RoleOperator) {
		t.Fatalf("expected header callers to be operators, got %q", rr.Header().Get("X-Resolved-Role"))
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without an owner, got %d", rr.Code)
	}
}

func TestOwnerMiddleware_Token(t *testing.T) {
	manager := auth.NewJWTManager("secret", time.Minute)
	handler := OwnerMiddleware(manager)(ownerEcho(t))

	token, err := manager.Generate("owner-7", auth.RoleOwner)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	testCases := []struct {
		name   string
		header string
		status int
	}{
		{name: "valid token", header: "Bearer " + token, status: http.StatusOK},
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", status: http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			// The header is ignored once tokens are required.
			req.Header.Set(OwnerHeader, "someone-else")
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if tc.status == http.StatusOK && rr.Header().Get("X-Resolved-Owner") != "owner-7" {
				t.Fatalf("expected the token subject, got %q", rr.Header().Get("X-Resolved-Owner"))
			}
		})
	}
}

func TestRequireOperator(t *testing.T) {
	handler := RequireOperator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for role, want := range map[auth.Role]int{
		auth.RoleOperator: http.StatusOK,
		auth.RoleOwner:    http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithOwner(req.Context(), "owner-1", role))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Errorf("role %s: expected %d, got %d", role, want, rr.Code)
		}
	}
}
