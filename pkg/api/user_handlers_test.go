package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ga4access/pkg/audit"
	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/users"
)

func TestRegisterUser(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/users/register", "", RegisterRequest{
		Email:    "New.Person@Client.com",
		Name:     "New Person",
		ClientID: 1,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[RegisterResponse](t, w)
	require.NotNil(t, resp.User)
	assert.Equal(t, "new.person@client.com", resp.User.Email)
	assert.Equal(t, roles.SystemRequester, resp.User.SystemRole)
	assert.Equal(t, users.StatusActive, resp.User.Status)
	assert.NotEmpty(t, resp.Token)
	assert.Nil(t, resp.ExpiresAt)

	// The issued token authenticates immediately
	w = f.do(t, http.MethodGet, "/api/v1/users/me", resp.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resp.User.ID, decode[users.User](t, w).ID)

	assert.Eventually(t, func() bool {
		return f.notifier.has(grants.EventUserRegistered, "new.person@client.com")
	}, time.Second, 10*time.Millisecond)

	var created *audit.AuditEvent
	for _, ev := range f.audit.Events() {
		if ev.EventType == audit.EventTypeAdminUserCreate {
			created = ev
		}
	}
	require.NotNil(t, created)
	assert.Equal(t, "new.person@client.com", created.ResourceName)
	assert.NotEmpty(t, created.RequestID)
	assert.NotContains(t, fmt.Sprint(created.Metadata), resp.Token)
}

func TestRegisterUser_TokenTTL(t *testing.T) {
	f := newAPIFixture(t, func(d *Deps) {
		d.TokenTTL = 24 * time.Hour
		d.DefaultClientID = 7
	})

	w := f.do(t, http.MethodPost, "/api/v1/users/register", "", RegisterRequest{Email: "ttl@client.com"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[RegisterResponse](t, w)
	assert.Equal(t, int64(7), resp.User.ClientID)
	require.NotNil(t, resp.ExpiresAt)
	assert.True(t, resp.ExpiresAt.Equal(t0.Add(24*time.Hour)))
}

func TestRegisterUser_Errors(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		req  RegisterRequest
		want int
	}{
		{"invalid email", RegisterRequest{Email: "nope", ClientID: 1}, http.StatusBadRequest},
		{"display name form", RegisterRequest{Email: "Bob <bob@client.com>", ClientID: 1}, http.StatusBadRequest},
		{"missing client", RegisterRequest{Email: "bob@client.com"}, http.StatusBadRequest},
		{"duplicate email", RegisterRequest{Email: "Requester@Agency.com", ClientID: 1}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/users/register", "", tt.req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestUpdateUserRole(t *testing.T) {
	f := newAPIFixture(t)
	path := fmt.Sprintf("/api/v1/admin/users/%d/role", f.requester.ID)

	t.Run("admin lacks permission", func(t *testing.T) {
		w := f.do(t, http.MethodPut, path, f.adminToken, UpdateRoleRequest{SystemRole: "admin"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("invalid role", func(t *testing.T) {
		w := f.do(t, http.MethodPut, path, f.superToken, UpdateRoleRequest{SystemRole: "owner"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("self change refused", func(t *testing.T) {
		self := fmt.Sprintf("/api/v1/admin/users/%d/role", f.super.ID)
		w := f.do(t, http.MethodPut, self, f.superToken, UpdateRoleRequest{SystemRole: "requester"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		w := f.do(t, http.MethodPut, "/api/v1/admin/users/9999/role", f.superToken, UpdateRoleRequest{SystemRole: "admin"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("super admin promotes", func(t *testing.T) {
		w := f.do(t, http.MethodPut, path, f.superToken, UpdateRoleRequest{SystemRole: "Admin"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, roles.SystemAdmin, decode[users.User](t, w).SystemRole)

		// The promoted user's existing token carries the new role
		w = f.do(t, http.MethodGet, "/api/v1/grants/summary", f.requesterToken, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var change *audit.AuditEvent
		for _, ev := range f.audit.Events() {
			if ev.EventType == audit.EventTypeAdminRoleChange {
				change = ev
			}
		}
		require.NotNil(t, change)
		require.NotNil(t, change.Changes)
		assert.Equal(t, "requester", change.Changes.Before["system_role"])
		assert.Equal(t, "admin", change.Changes.After["system_role"])
		require.NotNil(t, change.UserID)
		assert.Equal(t, f.super.ID, *change.UserID)
	})
}

func TestGetCurrentUser_ReflectsStoreChanges(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.users.UpdateSystemRole(context.Background(), f.admin.ID, roles.SystemRequester)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/v1/users/me", f.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, roles.SystemRequester, decode[users.User](t, w).SystemRole)

	w = f.do(t, http.MethodGet, "/api/v1/grants/summary", f.adminToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
