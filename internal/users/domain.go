package users

import "github.com/salespulse/salespulse/internal/rbac"

// UserDetail is a user with assigned roles and their permissions.
type UserDetail = rbac.UserGrants

type activeRequest struct {
	Active *bool `json:"active"`
}
