package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5/request"

	"github.com/salespulse/salespulse/internal/platform/httpx"
	"github.com/salespulse/salespulse/internal/shared"
)

// Identify attaches the bearer token's user to the request context when a
// valid token is present. Anonymous requests pass through untouched.
func Identify(tokens *TokenManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := tokens.FromRequest(r)
			if err != nil {
				if !errors.Is(err, request.ErrNoTokenInRequest) && logger != nil {
					logger.Debug("ignore bearer token", slog.Any("error", err))
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithUserID(r.Context(), userID)))
		})
	}
}

// RequireUser rejects requests without an identified user with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.UserIDFromContext(r.Context()); !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="salespulse"`)
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
