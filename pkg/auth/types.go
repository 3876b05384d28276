package auth

import (
	"context"

	"github.com/platinummonkey/ga4access/pkg/contextkeys"
	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/users"
)

// AuthContext holds the authenticated user of a request
type AuthContext struct {
	User        *users.User
	TokenPrefix string
}

// UserID returns the acting user's ID, or 0 when unauthenticated
func (ac *AuthContext) UserID() int64 {
	if ac == nil || ac.User == nil {
		return 0
	}
	return ac.User.ID
}

// HasSystemRole reports whether the user's system role meets required
func (ac *AuthContext) HasSystemRole(required roles.SystemRole) bool {
	return ac != nil && ac.User.HasSystemCapability(required)
}

// CanAdminister reports whether the user administers clientID
func (ac *AuthContext) CanAdminister(clientID int64) bool {
	return ac != nil && ac.User.CanAdminister(clientID)
}

// WithContext stores ac in ctx
func WithContext(ctx context.Context, ac *AuthContext) context.Context {
	return contextkeys.WithAuth(ctx, ac)
}

// FromContext returns the AuthContext stored in ctx, or nil
func FromContext(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(contextkeys.AuthKey).(*AuthContext)
	return ac
}
