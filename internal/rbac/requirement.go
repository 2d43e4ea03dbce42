package rbac

import "strings"

// PermissionSet is a user's effective permission slugs.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from slugs, normalising each entry.
func NewPermissionSet(slugs []string) PermissionSet {
	set := make(PermissionSet, len(slugs))
	for _, s := range slugs {
		s = normalizeSlug(s)
		if s == "" {
			continue
		}
		set[s] = struct{}{}
	}
	return set
}

// Has reports whether slug is present.
func (s PermissionSet) Has(slug string) bool {
	_, ok := s[normalizeSlug(slug)]
	return ok
}

// HasAny reports whether at least one slug is present.
func (s PermissionSet) HasAny(slugs ...string) bool {
	for _, slug := range slugs {
		if s.Has(slug) {
			return true
		}
	}
	return false
}

// HasAll reports whether every slug is present.
func (s PermissionSet) HasAll(slugs ...string) bool {
	for _, slug := range slugs {
		if !s.Has(slug) {
			return false
		}
	}
	return true
}

// Requirement describes an authorization check. At most one field may be set;
// the zero value allows everyone.
type Requirement struct {
	Permission string   `json:"permission,omitempty"`
	Any        []string `json:"anyPermissions,omitempty"`
	All        []string `json:"allPermissions,omitempty"`
}

// RequirePermission builds a single-slug requirement.
func RequirePermission(slug string) Requirement {
	return Requirement{Permission: slug}
}

// RequireAnyOf builds an OR requirement.
func RequireAnyOf(slugs ...string) Requirement {
	return Requirement{Any: slugs}
}

// RequireAllOf builds an AND requirement.
func RequireAllOf(slugs ...string) Requirement {
	return Requirement{All: slugs}
}

// Validate rejects requirements configuring more than one mode.
func (r Requirement) Validate() error {
	modes := 0
	if strings.TrimSpace(r.Permission) != "" {
		modes++
	}
	if len(r.Any) > 0 {
		modes++
	}
	if len(r.All) > 0 {
		modes++
	}
	if modes > 1 {
		return validationf("requirement must set only one of permission, anyPermissions, allPermissions")
	}
	return nil
}

// IsZero reports whether the requirement is a pass-through.
func (r Requirement) IsZero() bool {
	return strings.TrimSpace(r.Permission) == "" && len(r.Any) == 0 && len(r.All) == 0
}

// SatisfiedBy evaluates the requirement against a permission set.
func (r Requirement) SatisfiedBy(set PermissionSet) bool {
	switch {
	case strings.TrimSpace(r.Permission) != "":
		return set.Has(r.Permission)
	case len(r.Any) > 0:
		return set.HasAny(r.Any...)
	case len(r.All) > 0:
		return set.HasAll(r.All...)
	default:
		return true
	}
}

// Slugs lists the slugs named by the requirement.
func (r Requirement) Slugs() []string {
	switch {
	case strings.TrimSpace(r.Permission) != "":
		return []string{normalizeSlug(r.Permission)}
	case len(r.Any) > 0:
		return normalizePermissions(r.Any)
	case len(r.All) > 0:
		return normalizePermissions(r.All)
	default:
		return nil
	}
}

func (r Requirement) String() string {
	switch {
	case strings.TrimSpace(r.Permission) != "":
		return "permission " + joinQuoted(r.Slugs())
	case len(r.Any) > 0:
		return "any of " + joinQuoted(r.Slugs())
	case len(r.All) > 0:
		return "all of " + joinQuoted(r.Slugs())
	default:
		return "nothing"
	}
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = normalizeSlug(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
