package middleware

import (
	"net/http"

	"github.com/blogem/authgate/models"
	"github.com/blogem/authgate/session"
)

// RequireSession ensures an authenticated session exists before letting
// the request through. Unauthenticated requests get 401; requests during
// an in-flight operation get 409 so callers retry after it settles
func RequireSession(manager *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := manager.State()

			if state.InFlight() {
				http.Error(w, "authentication in progress", http.StatusConflict)
				return
			}
			if state.Status != models.StatusAuthenticated {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
