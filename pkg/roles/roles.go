package roles

import (
	"fmt"
	"strings"
)

// SystemRole is the application-level role of a user
type SystemRole string

const (
	SystemRequester  SystemRole = "requester"
	SystemAdmin      SystemRole = "admin"
	SystemSuperAdmin SystemRole = "super_admin"
)

// GA4Role is the access level held on a GA4 property
type GA4Role string

const (
	GA4Viewer        GA4Role = "viewer"
	GA4Analyst       GA4Role = "analyst"
	GA4Editor        GA4Role = "editor"
	GA4Administrator GA4Role = "administrator"
)

var systemRank = map[SystemRole]int{
	SystemRequester:  1,
	SystemAdmin:      2,
	SystemSuperAdmin: 3,
}

var ga4Rank = map[GA4Role]int{
	GA4Viewer:        1,
	GA4Analyst:       2,
	GA4Editor:        3,
	GA4Administrator: 4,
}

// AllSystemRoles returns system roles in ascending privilege order
func AllSystemRoles() []SystemRole {
	return []SystemRole{SystemRequester, SystemAdmin, SystemSuperAdmin}
}

// AllGA4Roles returns GA4 roles in ascending privilege order
func AllGA4Roles() []GA4Role {
	return []GA4Role{GA4Viewer, GA4Analyst, GA4Editor, GA4Administrator}
}

// Valid reports whether r is a known system role
func (r SystemRole) Valid() bool {
	_, ok := systemRank[r]
	return ok
}

// Rank returns the privilege rank, 0 for unknown roles
func (r SystemRole) Rank() int {
	return systemRank[r]
}

// AtLeast reports whether r is at or above other
func (r SystemRole) AtLeast(other SystemRole) bool {
	return r.Valid() && r.Rank() >= other.Rank()
}

func (r SystemRole) String() string {
	return string(r)
}

// Valid reports whether r is a known GA4 role
func (r GA4Role) Valid() bool {
	_, ok := ga4Rank[r]
	return ok
}

// Rank returns the privilege rank, 0 for unknown roles
func (r GA4Role) Rank() int {
	return ga4Rank[r]
}

// AtLeast reports whether r is at or above other
func (r GA4Role) AtLeast(other GA4Role) bool {
	return r.Valid() && r.Rank() >= other.Rank()
}

// Elevated reports whether the role can modify property configuration
func (r GA4Role) Elevated() bool {
	return r.AtLeast(GA4Editor)
}

func (r GA4Role) String() string {
	return string(r)
}

// HasSystemCapability reports whether have meets the required minimum system role
func HasSystemCapability(have, required SystemRole) bool {
	return have.AtLeast(required)
}

// ParseSystemRole parses a system role name (case-insensitive)
func ParseSystemRole(s string) (SystemRole, error) {
	r := SystemRole(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown system role %q", s)
	}
	return r, nil
}

// ParseGA4Role parses a GA4 role name (case-insensitive)
func ParseGA4Role(s string) (GA4Role, error) {
	r := GA4Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown GA4 role %q", s)
	}
	return r, nil
}

// SQLValues renders the given values as a quoted, comma separated SQL list
// suitable for a CHECK (... IN (...)) constraint.
func SQLValues[T ~string](values []T) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(string(v), "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}
