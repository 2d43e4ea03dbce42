package shared

import "context"

type userIDContextKey struct{}

// ContextWithUserID stores the authenticated user ID in context.
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDContextKey{}).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}
