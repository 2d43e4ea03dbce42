package users

import (
	"context"

	"github.com/salespulse/salespulse/internal/rbac"
)

// Service is the slice of rbac.Service used by user management endpoints.
type Service interface {
	ListUsers(ctx context.Context) ([]rbac.User, error)
	GetUser(ctx context.Context, id int64) (UserDetail, error)
	AssignRole(ctx context.Context, userID, roleID int64) error
	RevokeRole(ctx context.Context, userID, roleID int64) error
	SetUserActive(ctx context.Context, id int64, active bool) (rbac.User, error)
}

var _ Service = (*rbac.Service)(nil)
