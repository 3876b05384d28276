// Package roles defines the two orthogonal role axes used across the service.
//
// # System roles
//
// A SystemRole describes what a user may do inside this application:
//
//	requester < admin < super_admin
//
// Use HasSystemCapability to check whether a role meets a required minimum:
//
//	if !roles.HasSystemCapability(user.SystemRole, roles.SystemAdmin) {
//		return ErrForbidden
//	}
//
// # GA4 roles
//
// A GA4Role is the access level granted on a Google Analytics 4 property:
//
//	viewer < analyst < editor < administrator
//
// The two axes never mix. A requester may hold an administrator grant on a
// property, and a super_admin may hold no grants at all.
package roles
