package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/tjfontaine/edge-origin-router/internal/auth"
)

// AuthMiddleware requires a valid admin API key in the Authorization header
// (Bearer token format). If the authenticator has no keys, the middleware is a no-op.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if authenticator == nil || !authenticator.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}

			description, err := authenticator.ValidateAPIKey(apiKey)
			if err != nil {
				writeUnauthorized(w, "invalid API key")
				return
			}

			AddLogField(r.Context(), "api_key", description)
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": message},
	})
}
