package dashboard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/salespulse/salespulse/internal/platform/httpx"
	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/internal/shared"
)

// PermissionGuard is what the dashboard needs from rbac.Guard.
type PermissionGuard interface {
	rbac.Checker
	PermissionSet(ctx context.Context, userID int64) (rbac.PermissionSet, error)
}

// Handler serves the gated dashboard endpoints.
type Handler struct {
	logger       *slog.Logger
	guard        PermissionGuard
	sections     []Section
	fallbackPath string
}

// NewHandler builds the dashboard handler. Callers denied view_dashboard are
// redirected to fallbackPath.
func NewHandler(logger *slog.Logger, guard PermissionGuard, fallbackPath string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if fallbackPath == "" {
		fallbackPath = "/forbidden"
	}
	return &Handler{logger: logger, guard: guard, sections: DefaultNavigation(), fallbackPath: fallbackPath}
}

// MountRoutes registers /dashboard and the fallback page.
func (h *Handler) MountRoutes(r chi.Router) {
	gate := rbac.ServerGate{
		Guard:        h.guard,
		Requirement:  rbac.RequirePermission(shared.PermViewDashboard),
		FallbackPath: h.fallbackPath,
		Logger:       h.logger,
	}
	r.Method(http.MethodGet, "/dashboard", gate.Wrap(http.HandlerFunc(h.showDashboard)))
	r.Get(h.fallbackPath, h.showForbidden)
}

type dashboardResponse struct {
	UserID     int64     `json:"userId"`
	Navigation []Section `json:"navigation"`
}

func (h *Handler) showDashboard(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	set, err := h.guard.PermissionSet(r.Context(), userID)
	if err != nil {
		h.logger.Error("dashboard permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dashboardResponse{UserID: userID, Navigation: Visible(h.sections, set)})
}

func (h *Handler) showForbidden(w http.ResponseWriter, r *http.Request) {
	httpx.Problem(w, http.StatusForbidden, "Forbidden", "Anda tidak memiliki akses ke halaman ini")
}
