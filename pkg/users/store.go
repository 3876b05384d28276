package users

import (
	"context"
	"time"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

// Store persists users and their API tokens
type Store interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// ListAdmins returns active admins of clientID plus every active super
	// admin. A nil clientID returns all active admins and super admins.
	ListAdmins(ctx context.Context, clientID *int64) ([]*User, error)
	UpdateSystemRole(ctx context.Context, id int64, role roles.SystemRole) (*User, error)
	SetStatus(ctx context.Context, id int64, status Status) error

	SaveToken(ctx context.Context, token *Token) error
	GetByTokenHash(ctx context.Context, hash string) (*User, error)
}

// Token is a stored API token. Only the hash is persisted.
type Token struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Hash      string     `json:"-"`
	Prefix    string     `json:"prefix"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}
