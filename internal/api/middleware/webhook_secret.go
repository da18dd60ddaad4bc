package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/cloo-solutions/salesdojo/internal/api"
)

// WebhookSecret admits requests carrying the shared secret in
// X-Webhook-Secret, or in X-Vapi-Secret as sent by the call provider. An
// empty secret rejects everything.
func WebhookSecret(secret string) func(http.Handler) http.Handler {
	want := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Webhook-Secret")
			if got == "" {
				got = r.Header.Get("X-Vapi-Secret")
			}
			if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				api.Error(w, http.StatusUnauthorized, "invalid webhook secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
