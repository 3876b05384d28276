package ga4

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

var (
	ErrNotFound       = errors.New("ga4: not found")
	ErrAlreadyGranted = errors.New("ga4: access already granted")
	ErrTransient      = errors.New("ga4: transient failure")
	ErrRejected       = errors.New("ga4: request rejected")
)

// Provider manages user access bindings on GA4 properties
type Provider interface {
	// GrantAccess creates a binding and returns its resource name
	GrantAccess(ctx context.Context, propertyID, email string, role roles.GA4Role) (string, error)
	// UpdateAccess changes the role of an existing binding
	UpdateAccess(ctx context.Context, bindingID string, role roles.GA4Role) error
	// RevokeAccess deletes a binding
	RevokeAccess(ctx context.Context, bindingID string) error
	// ListBindings returns every user binding on a property
	ListBindings(ctx context.Context, propertyID string) ([]Binding, error)
}

// Binding is one user's access on a property
type Binding struct {
	Name       string        `json:"name"`
	PropertyID string        `json:"property_id"`
	Email      string        `json:"email"`
	Role       roles.GA4Role `json:"role"`
}

// Error wraps a provider failure with its classification
type Error struct {
	Op     string
	Target string
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ga4 %s %s: %v: %v", e.Op, e.Target, e.Kind, e.Err)
	}
	return fmt.Sprintf("ga4 %s %s: %v", e.Op, e.Target, e.Kind)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsTransient reports whether err is worth retrying later
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// FindBinding returns the binding for email on the property or ErrNotFound
func FindBinding(ctx context.Context, p Provider, propertyID, email string) (*Binding, error) {
	bindings, err := p.ListBindings(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for i := range bindings {
		if strings.EqualFold(bindings[i].Email, email) {
			return &bindings[i], nil
		}
	}
	return nil, &Error{Op: "find", Target: propertyID + "/" + email, Kind: ErrNotFound}
}

var predefinedRoles = map[roles.GA4Role]string{
	roles.GA4Viewer:        "predefinedRoles/viewer",
	roles.GA4Analyst:       "predefinedRoles/analyst",
	roles.GA4Editor:        "predefinedRoles/editor",
	roles.GA4Administrator: "predefinedRoles/admin",
}

// RoleName returns the Admin API role resource for r
func RoleName(r roles.GA4Role) string {
	return predefinedRoles[r]
}

// RoleFromNames picks the highest known role from Admin API role names.
// Data restriction roles are ignored.
func RoleFromNames(names []string) roles.GA4Role {
	var best roles.GA4Role
	for _, n := range names {
		for r, name := range predefinedRoles {
			if n == name && r.Rank() > best.Rank() {
				best = r
			}
		}
	}
	return best
}

// PropertyFromBinding extracts the property ID from a binding resource name
// of the form properties/{property}/accessBindings/{id}.
func PropertyFromBinding(name string) string {
	parts := strings.Split(name, "/")
	if len(parts) >= 2 && parts[0] == "properties" {
		return parts[1]
	}
	return ""
}

func propertyParent(propertyID string) string {
	return "properties/" + strings.TrimPrefix(propertyID, "properties/")
}
