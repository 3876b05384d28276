// Package approval decides whether a GA4 access request can be granted
// immediately or must wait for an administrator.
package approval

import "github.com/platinummonkey/ga4access/pkg/roles"

// Decision is the outcome of Decide
type Decision struct {
	AutoApproved bool `json:"auto_approved"`
	// RequiresApprovalFrom is the minimum system role of the approver when
	// AutoApproved is false. Empty otherwise.
	RequiresApprovalFrom roles.SystemRole `json:"requires_approval_from,omitempty"`
}

// Decide applies the approval policy. Viewer and analyst access is granted
// immediately. Editor and administrator access is granted immediately only
// when the requester is an admin or above; otherwise an admin must approve.
func Decide(requester roles.SystemRole, requested roles.GA4Role) Decision {
	if !requested.Elevated() {
		return Decision{AutoApproved: true}
	}
	if roles.HasSystemCapability(requester, roles.SystemAdmin) {
		return Decision{AutoApproved: true}
	}
	return Decision{RequiresApprovalFrom: roles.SystemAdmin}
}

// CanApprove reports whether approver satisfies the decision's requirement
func (d Decision) CanApprove(approver roles.SystemRole) bool {
	if d.AutoApproved {
		return true
	}
	return roles.HasSystemCapability(approver, d.RequiresApprovalFrom)
}
