package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/cloo-solutions/salesdojo/internal/api"
)

type contextKey string

const CompanyIDKey contextKey = "company_id"

// companyHeader carries the authenticated company to middleware that wraps
// the auth layer and therefore cannot see its context.
const companyHeader = "X-Company-ID"

type AuthValidator interface {
	ValidateAPIKey(ctx context.Context, token string) (string, error)
}

// APIKeyAuth resolves the bearer token to a company and scopes the request
// to it.
func APIKeyAuth(validator AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			companyID, err := validator.ValidateAPIKey(r.Context(), token)
			if err != nil {
				api.Error(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			r.Header.Set(companyHeader, companyID)
			ctx := context.WithValue(r.Context(), CompanyIDKey, companyID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetCompanyID(ctx context.Context) string {
	companyID, _ := ctx.Value(CompanyIDKey).(string)
	return companyID
}

// WithCompanyID returns ctx scoped to companyID.
func WithCompanyID(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, CompanyIDKey, companyID)
}
