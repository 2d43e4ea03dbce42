package rbac

import (
	"log/slog"
	"net/http"

	"github.com/salespulse/salespulse/internal/platform/httpx"
	"github.com/salespulse/salespulse/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Guard  Checker
	Logger *slog.Logger
}

// Require ensures the current user satisfies req before next runs.
func (m Middleware) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if req.IsZero() {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.UserIDFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if m.Guard == nil {
				httpx.RespondError(w, ErrStoreUnavailable)
				return
			}
			if err := m.Guard.Check(r.Context(), userID, req); err != nil {
				if !IsDenied(err) && m.Logger != nil {
					m.Logger.Error("rbac require", slog.String("requirement", req.String()), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission ensures the current user has the permission.
func (m Middleware) RequirePermission(perm string) func(http.Handler) http.Handler {
	if normalizeSlug(perm) == "" {
		return m.denyAll(RequirePermission(perm))
	}
	return m.Require(RequirePermission(perm))
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	slugs := normalizePermissions(perms)
	if len(slugs) == 0 {
		return m.denyAll(RequireAnyOf(perms...))
	}
	return m.Require(RequireAnyOf(slugs...))
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	slugs := normalizePermissions(perms)
	if len(slugs) == 0 {
		return m.denyAll(RequireAllOf(perms...))
	}
	return m.Require(RequireAllOf(slugs...))
}

// denyAll guards a route whose slug list is blank. Nobody holds a blank
// slug, so every identified caller gets 403.
func (m Middleware) denyAll(req Requirement) func(http.Handler) http.Handler {
	return func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := shared.UserIDFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			httpx.RespondError(w, &DeniedError{UserID: userID, Requirement: req})
		})
	}
}
