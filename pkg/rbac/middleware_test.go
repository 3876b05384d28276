package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/ga4access/pkg/auth"
	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/users"
)

func serve(h http.Handler, u *users.User) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if u != nil {
		req = req.WithContext(auth.WithContext(req.Context(), &auth.AuthContext{User: u}))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestRequirePermission(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RequirePermission(PermJobTrigger)(ok)

	assert.Equal(t, http.StatusUnauthorized, serve(h, nil))
	assert.Equal(t, http.StatusForbidden, serve(h, &users.User{SystemRole: roles.SystemAdmin, Status: users.StatusActive}))
	assert.Equal(t, http.StatusForbidden, serve(h, &users.User{SystemRole: roles.SystemSuperAdmin, Status: users.StatusInactive}))
	assert.Equal(t, http.StatusOK, serve(h, &users.User{SystemRole: roles.SystemSuperAdmin, Status: users.StatusActive}))
}

func TestRequireAnyPermission(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RequireAnyPermission(PermJobTrigger, PermSummaryRead)(ok)

	assert.Equal(t, http.StatusUnauthorized, serve(h, nil))
	assert.Equal(t, http.StatusForbidden, serve(h, &users.User{SystemRole: roles.SystemRequester, Status: users.StatusActive}))
	assert.Equal(t, http.StatusOK, serve(h, &users.User{SystemRole: roles.SystemAdmin, Status: users.StatusActive}))
}
