package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/knoguchi/rag/internal/identity"
)

type contextKey string

const userContextKey contextKey = "user"

// authenticate validates the request's Bearer JWT and stores the resulting
// identity.UserContext on the request context for handlers to read.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.jwt == nil {
			http.Error(w, "authentication is not configured", http.StatusForbidden)
			return
		}

		authz := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		claims, err := s.jwt.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}

		user := claims.UserContext(nil)
		if err := user.Validate(); err != nil {
			http.Error(w, "invalid token claims", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (identity.UserContext, bool) {
	u, ok := ctx.Value(userContextKey).(identity.UserContext)
	return u, ok
}
