// Package middleware holds the HTTP middleware guarding the wallet API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/pysugar/key-wallet-nexus/internal/db"
	"gorm.io/gorm"
)

// GatewayAuth validates the wallet gateway key on every request. The key is
// accepted as a Bearer token or an x-api-key header.
func GatewayAuth(database *gorm.DB) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expectedKey := db.GetGatewayKey(database)
			if expectedKey == "" {
				// No gateway key configured yet (first run); allow through.
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				if strings.TrimPrefix(authHeader, "Bearer ") == expectedKey {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.Header.Get("x-api-key") == expectedKey {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": {"message": "Invalid gateway key", "type": "authentication_error"}}`))
		})
	}
}
