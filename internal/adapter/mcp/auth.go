package mcp

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware accepts "Authorization: Bearer <key>" or the bare key.
// An empty apiKey disables the check.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			http.Error(w, "invalid credentials", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
