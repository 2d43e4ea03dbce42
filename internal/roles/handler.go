package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/salespulse/salespulse/internal/platform/httpx"
	"github.com/salespulse/salespulse/internal/rbac"
	"github.com/salespulse/salespulse/internal/shared"
)

// Handler manages role management endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermManageRoles))
		r.Get("/", h.listRoles)
		r.Post("/", h.createRole)
		r.Get("/{id}", h.getRole)
		r.Put("/{id}", h.updateRole)
		r.Delete("/{id}", h.deleteRole)
		r.Put("/{id}/permissions", h.setPermissions)
		r.Post("/{id}/permissions/{permissionID}", h.grantPermission)
		r.Delete("/{id}/permissions/{permissionID}", h.revokePermission)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var input rbac.RoleInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), input)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input rbac.RoleInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, input)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setPermissions(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req setPermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), id, req.PermissionIDs); err != nil {
		h.fail(w, "set role permissions", err)
		return
	}
	h.respondRole(w, r, id)
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	roleID, permID, ok := h.linkParams(w, r)
	if !ok {
		return
	}
	if err := h.service.GrantPermission(r.Context(), roleID, permID); err != nil {
		h.fail(w, "grant permission", err)
		return
	}
	h.respondRole(w, r, roleID)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	roleID, permID, ok := h.linkParams(w, r)
	if !ok {
		return
	}
	if err := h.service.RevokePermission(r.Context(), roleID, permID); err != nil {
		h.fail(w, "revoke permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) linkParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	roleID, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	permID, err := httpx.PathInt64(r, "permissionID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return roleID, permID, true
}

func (h *Handler) respondRole(w http.ResponseWriter, r *http.Request, id int64) {
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "reload role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
