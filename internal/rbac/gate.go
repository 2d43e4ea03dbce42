package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/salespulse/salespulse/internal/shared"
)

// GateDecision is the outcome of a server-side gate.
type GateDecision int

const (
	// GateRender lets the wrapped handler produce its response.
	GateRender GateDecision = iota
	// GateRedirect sends the caller to the fallback location instead.
	GateRedirect
)

func (d GateDecision) String() string {
	if d == GateRender {
		return "render"
	}
	return "redirect"
}

// Checker is the subset of Guard used by gates and middleware.
type Checker interface {
	Check(ctx context.Context, userID int64, req Requirement) error
}

// ServerGate decides before any output is written whether a handler may run.
type ServerGate struct {
	Guard        Checker
	Requirement  Requirement
	FallbackPath string
	Logger       *slog.Logger
}

// Decide resolves the gate for userID. Denials and errors both redirect.
func (g ServerGate) Decide(ctx context.Context, userID int64) GateDecision {
	if g.Requirement.IsZero() {
		return GateRender
	}
	if g.Guard == nil {
		return GateRedirect
	}
	err := g.Guard.Check(ctx, userID, g.Requirement)
	if err == nil {
		return GateRender
	}
	if !IsDenied(err) && g.Logger != nil {
		g.Logger.Error("gate check failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	return GateRedirect
}

// Wrap gates next, answering 303 See Other to FallbackPath on redirect.
func (g ServerGate) Wrap(next http.Handler) http.Handler {
	fallback := g.FallbackPath
	if fallback == "" {
		fallback = "/"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := shared.UserIDFromContext(r.Context())
		if g.Decide(r.Context(), userID) == GateRedirect {
			http.Redirect(w, r, fallback, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}
