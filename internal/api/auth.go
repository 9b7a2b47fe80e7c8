package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyAuth rejects requests whose X-API-Key header does not match key. A
// bearer token in the Authorization header is accepted as well. An empty key
// disables the check.
func APIKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-Key")
			if got == "" {
				const prefix = "Bearer "
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
					got = auth[len(prefix):]
				}
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
