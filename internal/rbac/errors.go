package rbac

import (
	"errors"
	"fmt"
	"strings"

	"github.com/salespulse/salespulse/internal/platform/httpx"
)

// Sentinels wrap the httpx kinds so handlers can map them to status codes.
var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)
	// ErrConflict covers duplicates, referenced deletions and protected records.
	ErrConflict = fmt.Errorf("rbac: %w", httpx.ErrConflict)
	// ErrValidation indicates malformed input.
	ErrValidation = fmt.Errorf("rbac: %w", httpx.ErrValidation)
	// ErrForbidden is matched by every *DeniedError.
	ErrForbidden = fmt.Errorf("rbac: %w", httpx.ErrForbidden)
	// ErrStoreUnavailable is matched by errors raised while resolving permissions.
	ErrStoreUnavailable = fmt.Errorf("rbac: %w", httpx.ErrUnavailable)
	// ErrSystemRecord marks attempts to modify seed-provisioned roles or permissions.
	ErrSystemRecord = fmt.Errorf("%w: system record is protected", ErrConflict)
	// ErrPermissionInUse is returned by stores refusing to delete a permission
	// that a role still grants.
	ErrPermissionInUse = fmt.Errorf("%w: permission is still granted to a role", ErrConflict)
)

// DeniedError reports an unsatisfied authorization requirement.
type DeniedError struct {
	UserID      int64
	Requirement Requirement
}

func (e *DeniedError) Error() string {
	return "rbac: access denied, requires " + e.Requirement.String()
}

// Unwrap lets callers match denials with errors.Is(err, ErrForbidden).
func (e *DeniedError) Unwrap() error {
	return ErrForbidden
}

// Required returns the permission slugs the caller was missing, for operator display.
func (e *DeniedError) Required() []string {
	return e.Requirement.Slugs()
}

// ResolveError wraps a data-access failure raised while computing a user's permissions.
type ResolveError struct {
	UserID int64
	Err    error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("rbac: resolve permissions for user %d: %v", e.UserID, e.Err)
}

// Unwrap exposes both the store-unavailable kind and the underlying cause.
func (e *ResolveError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// IsDenied reports whether err is an authorization denial.
func IsDenied(err error) bool {
	var denied *DeniedError
	return errors.As(err, &denied)
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return strings.Join(quoted, ", ")
}
