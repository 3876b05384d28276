package users

import (
	"errors"
	"time"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

// Status is the account state of a user
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// AllStatuses returns every user status
func AllStatuses() []Status {
	return []Status{StatusActive, StatusInactive, StatusSuspended}
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive || s == StatusSuspended
}

var (
	// ErrNotFound is returned when a user does not exist
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when registering an email that already exists
	ErrEmailTaken = errors.New("email already registered")
)

// User is an application account
type User struct {
	ID         int64            `json:"id"`
	Email      string           `json:"email"`
	Name       string           `json:"name"`
	SystemRole roles.SystemRole `json:"system_role"`
	GA4Role    roles.GA4Role    `json:"ga4_role,omitempty"`
	ClientID   int64            `json:"client_id"`
	Status     Status           `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// IsActive reports whether the account may act
func (u *User) IsActive() bool {
	return u != nil && u.Status == StatusActive
}

// HasSystemCapability reports whether the user's system role meets required
func (u *User) HasSystemCapability(required roles.SystemRole) bool {
	return u != nil && roles.HasSystemCapability(u.SystemRole, required)
}

// CanAdminister reports whether u may act as an administrator for clientID.
// Super admins administer every client.
func (u *User) CanAdminister(clientID int64) bool {
	if !u.IsActive() {
		return false
	}
	if u.HasSystemCapability(roles.SystemSuperAdmin) {
		return true
	}
	return u.HasSystemCapability(roles.SystemAdmin) && u.ClientID == clientID
}
