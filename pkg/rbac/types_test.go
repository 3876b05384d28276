package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/users"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role roles.SystemRole
		perm Permission
		want bool
	}{
		{roles.SystemRequester, PermGrantCreate, true},
		{roles.SystemRequester, PermGrantApprove, false},
		{roles.SystemRequester, PermSummaryRead, false},
		{roles.SystemAdmin, PermGrantCreate, true},
		{roles.SystemAdmin, PermGrantApprove, true},
		{roles.SystemAdmin, PermJobTrigger, false},
		{roles.SystemAdmin, PermUserUpdateRole, false},
		{roles.SystemSuperAdmin, PermJobTrigger, true},
		{roles.SystemSuperAdmin, PermGrantRead, true},
		{roles.SystemRole("owner"), PermGrantRead, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+tt.perm.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.role, tt.perm))
		})
	}
}

func TestPermissionsFor_Cumulative(t *testing.T) {
	requester := PermissionsFor(roles.SystemRequester)
	admin := PermissionsFor(roles.SystemAdmin)
	super := PermissionsFor(roles.SystemSuperAdmin)

	assert.Subset(t, admin, requester)
	assert.Subset(t, super, admin)
	assert.Greater(t, len(super), len(admin))
	assert.Equal(t, "grant:approve", PermGrantApprove.String())
}

func TestCanViewGrant(t *testing.T) {
	g := &grants.Grant{ID: 1, RequesterID: 10, ClientID: 1, SubjectEmail: "subject@example.com"}

	tests := []struct {
		name string
		user *users.User
		want bool
	}{
		{"requester", &users.User{ID: 10, SystemRole: roles.SystemRequester, ClientID: 1, Status: users.StatusActive}, true},
		{"subject", &users.User{ID: 11, Email: "Subject@Example.com", SystemRole: roles.SystemRequester, ClientID: 2, Status: users.StatusActive}, true},
		{"other requester", &users.User{ID: 12, SystemRole: roles.SystemRequester, ClientID: 1, Status: users.StatusActive}, false},
		{"client admin", &users.User{ID: 13, SystemRole: roles.SystemAdmin, ClientID: 1, Status: users.StatusActive}, true},
		{"foreign admin", &users.User{ID: 14, SystemRole: roles.SystemAdmin, ClientID: 2, Status: users.StatusActive}, false},
		{"super admin", &users.User{ID: 15, SystemRole: roles.SystemSuperAdmin, ClientID: 9, Status: users.StatusActive}, true},
		{"suspended requester", &users.User{ID: 10, SystemRole: roles.SystemRequester, ClientID: 1, Status: users.StatusSuspended}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanViewGrant(tt.user, g))
		})
	}
}

func TestScopeGrantFilter(t *testing.T) {
	var f grants.ListFilter
	ScopeGrantFilter(&users.User{ID: 3, SystemRole: roles.SystemRequester, ClientID: 1}, &f)
	assert.Equal(t, int64(3), *f.RequesterID)
	assert.Nil(t, f.ClientID)

	f = grants.ListFilter{}
	ScopeGrantFilter(&users.User{ID: 4, SystemRole: roles.SystemAdmin, ClientID: 7}, &f)
	assert.Nil(t, f.RequesterID)
	assert.Equal(t, int64(7), *f.ClientID)

	f = grants.ListFilter{}
	ScopeGrantFilter(&users.User{ID: 5, SystemRole: roles.SystemSuperAdmin, ClientID: 7}, &f)
	assert.Nil(t, f.RequesterID)
	assert.Nil(t, f.ClientID)
}
