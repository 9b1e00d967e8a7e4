// Package auth authenticates requests against the HTTP query surface: a
// static admin key gates tenant-configuration endpoints, and JWTs (see
// jwt.go) establish the identity.UserContext a query runs as.
package auth

import (
	"crypto/subtle"
	"net/http"
)

// AdminKeyHeader is the header carrying the admin key for tenant
// configuration endpoints (create/update/reset a tenant's retrieval and
// guardrail settings).
const AdminKeyHeader = "X-Admin-Key"

// RequireAdminKey returns middleware that rejects any request whose
// X-Admin-Key header does not match adminKey. An empty adminKey disables
// every admin endpoint it guards, rather than accepting any key.
func RequireAdminKey(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKey == "" {
				http.Error(w, "admin endpoints are not configured", http.StatusForbidden)
				return
			}
			got := r.Header.Get(AdminKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
				http.Error(w, "invalid admin key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
