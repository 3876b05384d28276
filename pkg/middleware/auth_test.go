package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ga4access/pkg/audit"
	"github.com/platinummonkey/ga4access/pkg/auth"
	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/users"
)

type authFixture struct {
	store  *users.MemoryStore
	tokens *auth.TokenManager
	audit  *audit.MemoryLogger
	user   *users.User
	token  string
}

func newAuthFixture(t *testing.T, role roles.SystemRole) *authFixture {
	t.Helper()
	ctx := context.Background()
	f := &authFixture{
		store: users.NewMemoryStore(),
		audit: audit.NewMemoryLogger(),
	}
	f.tokens = auth.NewTokenManager(f.store, nil)
	f.user = &users.User{Email: "someone@agency.com", SystemRole: role, ClientID: 1, Status: users.StatusActive}
	require.NoError(t, f.store.Create(ctx, f.user))

	token, _, err := f.tokens.CreateToken(ctx, f.user.ID, 0)
	require.NoError(t, err)
	f.token = token
	return f
}

func echoUser(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := GetAuthContext(r)
		if ac == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("X-User", ac.User.Email)
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticator_Handler(t *testing.T) {
	f := newAuthFixture(t, roles.SystemRequester)
	handler := NewAuthenticator(f.tokens, f.audit, nil).Handler(echoUser(t))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid token", header: "Bearer " + f.token, want: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + f.token, want: http.StatusOK},
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", want: http.StatusUnauthorized},
		{name: "no token", header: "Bearer ", want: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer ga4a_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/grants", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, f.user.Email, w.Header().Get("X-User"))
			} else {
				assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestAuthenticator_RecordsDenials(t *testing.T) {
	f := newAuthFixture(t, roles.SystemRequester)
	handler := NewAuthenticator(f.tokens, f.audit, nil).Handler(echoUser(t))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/grants/4", nil)
	req.Header.Set("Authorization", "Bearer nonsense")
	req.RemoteAddr = "10.1.2.3:5555"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	events := f.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeAuthAccessDenied, events[0].EventType)
	assert.Equal(t, audit.EventStatusDenied, events[0].Status)
	assert.Equal(t, "10.1.2.3", events[0].IPAddress)
	assert.Equal(t, "/api/v1/grants/4", events[0].Metadata["path"])
	assert.NotEmpty(t, events[0].ErrorMessage)
}

func TestAuthenticator_InactiveUser(t *testing.T) {
	f := newAuthFixture(t, roles.SystemAdmin)
	require.NoError(t, f.store.SetStatus(context.Background(), f.user.ID, users.StatusInactive))
	handler := NewAuthenticator(f.tokens, f.audit, nil).Handler(echoUser(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+f.token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticator_Optional(t *testing.T) {
	f := newAuthFixture(t, roles.SystemRequester)
	handler := NewAuthenticator(f.tokens, nil, nil).Optional().Handler(echoUser(t))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type failingTokens struct{}

func (failingTokens) Authenticate(ctx context.Context, token string) (*auth.AuthContext, error) {
	return nil, errors.New("connection refused")
}

func TestAuthenticator_StoreFailure(t *testing.T) {
	handler := NewAuthenticator(failingTokens{}, nil, nil).Handler(echoUser(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ga4a_x")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequireSystemRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireSystemRole(roles.SystemAdmin)(ok)

	tests := []struct {
		name string
		ac   *auth.AuthContext
		want int
	}{
		{name: "unauthenticated", ac: nil, want: http.StatusUnauthorized},
		{
			name: "requester",
			ac:   &auth.AuthContext{User: &users.User{ID: 1, SystemRole: roles.SystemRequester, Status: users.StatusActive}},
			want: http.StatusForbidden,
		},
		{
			name: "admin",
			ac:   &auth.AuthContext{User: &users.User{ID: 2, SystemRole: roles.SystemAdmin, Status: users.StatusActive}},
			want: http.StatusOK,
		},
		{
			name: "super admin",
			ac:   &auth.AuthContext{User: &users.User{ID: 3, SystemRole: roles.SystemSuperAdmin, Status: users.StatusActive}},
			want: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.ac != nil {
				req = req.WithContext(auth.WithContext(req.Context(), tt.ac))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
