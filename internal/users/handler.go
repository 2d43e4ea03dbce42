package users

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/salespulse/salespulse/internal/platform/httpx"
	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/internal/shared"
)

// Handler exposes user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
	rbac    rbac.Middleware
}

// NewHandler creates a user handler.
func NewHandler(logger *slog.Logger, service Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermManageUsers))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.getUser)
		r.Put("/{id}/active", h.setActive)
		r.Post("/{id}/roles/{roleID}", h.assignRole)
		r.Delete("/{id}/roles/{roleID}", h.revokeRole)
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req activeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Active == nil {
		httpx.RespondError(w, fmt.Errorf("%w: active is required", httpx.ErrValidation))
		return
	}
	if self, ok := shared.UserIDFromContext(r.Context()); ok && self == id && !*req.Active {
		httpx.RespondError(w, fmt.Errorf("%w: cannot deactivate your own account", httpx.ErrConflict))
		return
	}
	user, err := h.service.SetUserActive(r.Context(), id, *req.Active)
	if err != nil {
		h.fail(w, "set user active", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := h.linkParams(w, r)
	if !ok {
		return
	}
	if err := h.service.AssignRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, "assign role", err)
		return
	}
	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.fail(w, "reload user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := h.linkParams(w, r)
	if !ok {
		return
	}
	if err := h.service.RevokeRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, "revoke role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) linkParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	roleID, err := httpx.PathInt64(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return userID, roleID, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
