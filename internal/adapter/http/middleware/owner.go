package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/iho/cashflow/internal/adapter/http/dto"
	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/infrastructure/auth"
)

// OwnerHeader names the owner when token authentication is disabled.
const OwnerHeader = "X-Owner-ID"

// ContextKey is the type for context keys
type ContextKey string

const (
	ownerContextKey ContextKey = "owner"
	roleContextKey  ContextKey = "role"
)

// WithOwner returns ctx carrying ownerID and role.
func WithOwner(ctx context.Context, ownerID string, role auth.Role) context.Context {
	ctx = context.WithValue(ctx, ownerContextKey, ownerID)
	return context.WithValue(ctx, roleContextKey, role)
}

// OwnerFromContext returns the owner resolved for the request.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerContextKey).(string)
	return owner, ok && owner != ""
}

// RoleFromContext returns the role resolved for the request.
func RoleFromContext(ctx context.Context) auth.Role {
	role, _ := ctx.Value(roleContextKey).(auth.Role)
	return role
}

func writeUnauthorized(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: message, Message: err.Error()})
}

// OwnerMiddleware resolves the owner of every request. With a JWT manager
// the owner is the subject of a bearer token. Without one the X-Owner-ID
// header names it and the caller is trusted as an operator.
func OwnerMiddleware(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if jwtManager == nil {
				owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
				if err := domain.ValidateOwnerID(owner); err != nil {
					writeUnauthorized(w, http.StatusUnauthorized, "missing owner", domain.ErrMissingOwner)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner, auth.RoleOperator)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, http.StatusUnauthorized, "missing authorization header", domain.ErrMissingOwner)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeUnauthorized(w, http.StatusUnauthorized, "invalid authorization header format", domain.ErrInvalidToken)
				return
			}

			claims, err := jwtManager.Verify(parts[1])
			if err != nil {
				message := "invalid token"
				if errors.Is(err, domain.ErrExpiredToken) {
					message = "expired token"
				}
				writeUnauthorized(w, http.StatusUnauthorized, message, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), claims.OwnerID(), claims.Role)))
		})
	}
}

// RequireOperator rejects callers that are not operators.
func RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RoleFromContext(r.Context()) != auth.RoleOperator {
			writeUnauthorized(w, http.StatusForbidden, "insufficient permissions",
				errors.New("operator role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
