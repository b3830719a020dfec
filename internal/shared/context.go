package shared

import (
	"context"

	"github.com/google/uuid"
)

type userContextKey struct{}

// ContextWithUserID stores the authenticated tenant in context.
func ContextWithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserIDFromContext extracts the authenticated tenant from context.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userContextKey{}).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// RequireUserID is UserIDFromContext returning ErrNoTenant when absent.
func RequireUserID(ctx context.Context) (uuid.UUID, error) {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return uuid.Nil, ErrNoTenant
	}
	return id, nil
}
