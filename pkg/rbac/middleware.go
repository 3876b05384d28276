package rbac

import (
	"net/http"

	"github.com/platinummonkey/ga4access/pkg/auth"
	"github.com/platinummonkey/ga4access/pkg/httputil"
)

// RequirePermission creates middleware that requires the caller's system
// role to hold perm
func RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := auth.FromContext(r.Context())
			if authCtx == nil || authCtx.User == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			if !authCtx.User.IsActive() || !HasPermission(authCtx.User.SystemRole, perm) {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission creates middleware that requires any of the specified permissions
func RequireAnyPermission(perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := auth.FromContext(r.Context())
			if authCtx == nil || authCtx.User == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			for _, perm := range perms {
				if authCtx.User.IsActive() && HasPermission(authCtx.User.SystemRole, perm) {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.WriteForbidden(w, "insufficient permissions")
		})
	}
}
