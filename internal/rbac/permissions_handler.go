package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/salespulse/salespulse/internal/platform/httpx"
	"github.com/salespulse/salespulse/internal/shared"
)

// PermissionLister returns a user's effective permission slugs.
type PermissionLister interface {
	Permissions(ctx context.Context, userID int64) ([]string, error)
}

// PermissionsHandler manages the permission catalogue and the current user's
// permission listing.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	lister  PermissionLister
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, lister PermissionLister, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, lister: lister, rbac: rbac}
}

// MountRoutes registers permission catalogue routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermManagePermissions, shared.PermManageRoles))
		r.Get("/", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermManagePermissions))
		r.Post("/", h.createPermission)
		r.Get("/{id}", h.getPermission)
		r.Put("/{id}", h.updatePermission)
		r.Delete("/{id}", h.deletePermission)
	})
}

// MountMe registers routes scoped to the authenticated user.
func (h *PermissionsHandler) MountMe(r chi.Router) {
	r.Get("/permissions", h.myPermissions)
}

func (h *PermissionsHandler) myPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	slugs, err := h.lister.Permissions(r.Context(), userID)
	if err != nil {
		h.fail(w, "list my permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, PermissionsResponse{Permissions: slugs})
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	grouped, err := h.service.PermissionsByModule(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"modules": grouped})
}

func (h *PermissionsHandler) getPermission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		h.fail(w, "get permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *PermissionsHandler) createPermission(w http.ResponseWriter, r *http.Request) {
	var input PermissionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), input)
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *PermissionsHandler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input PermissionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), id, input)
	if err != nil {
		h.fail(w, "update permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *PermissionsHandler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		h.fail(w, "delete permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PermissionsHandler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
