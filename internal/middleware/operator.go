package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Operator gates a route group behind the operator API key. The key travels
// as "Authorization: Bearer <key>" and is checked against the configured
// bcrypt hash. An empty hash disables the routes entirely rather than
// leaving them open.
func Operator(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				http.Error(w, "operator interface not configured", http.StatusForbidden)
				return
			}

			auth := r.Header.Get("Authorization")
			key, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || key == "" {
				http.Error(w, "operator credentials required", http.StatusUnauthorized)
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
				http.Error(w, "invalid operator credentials", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
