package auth

import (
	"context"
	"slices"
	"time"
)

// Roles.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID   int64
	Username string
	Email    string
	Role     string

	// JTI and ExpiresAt describe the access token that authenticated the request.
	JTI       string
	ExpiresAt time.Time
}

// HasRole reports whether the identity carries one of roles.
func (i *Identity) HasRole(roles ...string) bool {
	return i != nil && slices.Contains(roles, i.Role)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity set by the authentication middleware.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}

// UserID returns the caller's id or 0 for anonymous requests.
func UserID(ctx context.Context) int64 {
	if id, ok := FromContext(ctx); ok {
		return id.UserID
	}
	return 0
}
