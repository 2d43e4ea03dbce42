package rbac

import (
	"context"
	"errors"
	"sort"
)

// Resolver computes effective permissions straight from the store.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver backed by store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the deduplicated, sorted union of permission slugs across every
// role assigned to userID. Unknown users and users without roles yield an empty set.
func (r *Resolver) Resolve(ctx context.Context, userID int64) ([]string, error) {
	if userID <= 0 {
		return []string{}, nil
	}
	grants, err := r.store.FindUserWithRolesAndPermissions(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []string{}, nil
		}
		return nil, &ResolveError{UserID: userID, Err: err}
	}
	seen := make(map[string]struct{})
	slugs := make([]string, 0)
	for _, role := range grants.Roles {
		for _, perm := range role.Permissions {
			slug := normalizeSlug(perm.Slug)
			if slug == "" {
				continue
			}
			if _, ok := seen[slug]; ok {
				continue
			}
			seen[slug] = struct{}{}
			slugs = append(slugs, slug)
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}
