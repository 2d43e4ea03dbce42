package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserIDContext(t *testing.T) {
	_, ok := UserIDFromContext(context.Background())
	assert.False(t, ok)

	id, ok := UserIDFromContext(ContextWithUserID(context.Background(), 42))
	assert.True(t, ok)
	assert.EqualValues(t, 42, id)

	_, ok = UserIDFromContext(ContextWithUserID(context.Background(), 0))
	assert.False(t, ok, "non-positive IDs are anonymous")
}

func TestScopesAreDisjoint(t *testing.T) {
	seen := map[string]bool{}
	for _, slug := range append(CoreScopes(), ReportingScopes()...) {
		assert.False(t, seen[slug], slug)
		seen[slug] = true
	}
	assert.Len(t, seen, 9)
}
