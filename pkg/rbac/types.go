package rbac

import (
	"github.com/platinummonkey/ga4access/pkg/roles"
)

// Resource represents a resource type in the system
type Resource string

const (
	ResourceGrant   Resource = "grant"
	ResourceSummary Resource = "summary"
	ResourceJob     Resource = "job"
	ResourceBinding Resource = "binding"
	ResourceAudit   Resource = "audit"
	ResourceUser    Resource = "user"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionCreate     Action = "create"
	ActionRead       Action = "read"
	ActionReadClient Action = "read_client"
	ActionReadAll    Action = "read_all"
	ActionApprove    Action = "approve"
	ActionTrigger    Action = "trigger"
	ActionUpdateRole Action = "update_role"
)

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// String returns a string representation of the permission
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

var (
	PermGrantCreate     = Permission{ResourceGrant, ActionCreate}
	PermGrantRead       = Permission{ResourceGrant, ActionRead}
	PermGrantReadClient = Permission{ResourceGrant, ActionReadClient}
	PermGrantReadAll    = Permission{ResourceGrant, ActionReadAll}
	PermGrantApprove    = Permission{ResourceGrant, ActionApprove}
	PermSummaryRead     = Permission{ResourceSummary, ActionRead}
	PermJobRead         = Permission{ResourceJob, ActionRead}
	PermJobTrigger      = Permission{ResourceJob, ActionTrigger}
	PermBindingRead     = Permission{ResourceBinding, ActionRead}
	PermAuditRead       = Permission{ResourceAudit, ActionRead}
	PermUserUpdateRole  = Permission{ResourceUser, ActionUpdateRole}
)

// permissions granted at exactly this role; higher roles inherit
var rolePermissions = map[roles.SystemRole][]Permission{
	roles.SystemRequester: {
		PermGrantCreate,
		PermGrantRead,
	},
	roles.SystemAdmin: {
		PermGrantReadClient,
		PermGrantApprove,
		PermSummaryRead,
		PermJobRead,
		PermBindingRead,
		PermAuditRead,
	},
	roles.SystemSuperAdmin: {
		PermGrantReadAll,
		PermJobTrigger,
		PermUserUpdateRole,
	},
}

// PermissionsFor returns every permission held by role, including inherited ones
func PermissionsFor(role roles.SystemRole) []Permission {
	var perms []Permission
	for _, r := range roles.AllSystemRoles() {
		if role.AtLeast(r) {
			perms = append(perms, rolePermissions[r]...)
		}
	}
	return perms
}

// HasPermission reports whether role holds perm
func HasPermission(role roles.SystemRole, perm Permission) bool {
	for _, p := range PermissionsFor(role) {
		if p == perm {
			return true
		}
	}
	return false
}
