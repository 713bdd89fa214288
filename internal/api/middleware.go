// Package api implements the package editing REST API using chi.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerToken returns the token of an "Authorization: Bearer" header. GET
// requests may pass it as access_token instead, since browser EventSource
// clients cannot set headers.
func bearerToken(r *http.Request) (string, bool) {
	if given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return given, true
	}
	if r.Method == http.MethodGet {
		if given := r.URL.Query().Get("access_token"); given != "" {
			return given, true
		}
	}
	return "", false
}

// AuthMiddleware returns middleware that validates a Bearer token.
// When enabled is false every request passes through.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
