package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ga4access/pkg/audit"
	"github.com/platinummonkey/ga4access/pkg/auth"
	"github.com/platinummonkey/ga4access/pkg/httputil"
	"github.com/platinummonkey/ga4access/pkg/roles"
)

// TokenAuthenticator resolves a bearer token to its owner
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.AuthContext, error)
}

// Authenticator provides bearer-token authentication middleware
type Authenticator struct {
	tokens   TokenAuthenticator
	audit    audit.Logger
	logger   *logrus.Logger
	optional bool
}

// NewAuthenticator creates authentication middleware. A nil auditLogger
// discards denials.
func NewAuthenticator(tokens TokenAuthenticator, auditLogger audit.Logger, logger *logrus.Logger) *Authenticator {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Authenticator{tokens: tokens, audit: auditLogger, logger: logger}
}

// Optional returns a copy that lets requests without an Authorization
// header through unauthenticated. Invalid tokens are still rejected.
func (a *Authenticator) Optional() *Authenticator {
	c := *a
	c.optional = true
	return &c
}

// Handler wraps an HTTP handler with authentication
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if a.optional {
				next.ServeHTTP(w, r)
				return
			}
			a.deny(w, r, "missing authorization header", nil)
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			a.deny(w, r, "invalid authorization header format", nil)
			return
		}

		authCtx, err := a.tokens.Authenticate(r.Context(), strings.TrimSpace(token))
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrInactiveUser) {
				a.logger.WithError(err).Error("token lookup failed")
				httputil.WriteInternalError(w)
				return
			}
			a.deny(w, r, "invalid or expired token", err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), authCtx)))
	})
}

func (a *Authenticator) deny(w http.ResponseWriter, r *http.Request, message string, cause error) {
	event := &audit.AuditEvent{
		EventType:    audit.EventTypeAuthAccessDenied,
		Status:       audit.EventStatusDenied,
		ResourceType: audit.ResourceTypeToken,
		IPAddress:    getClientIP(r),
		Message:      message,
		Metadata:     map[string]interface{}{"method": r.Method, "path": r.URL.Path},
	}
	if cause != nil {
		event.ErrorMessage = cause.Error()
	}
	audit.Stamp(r.Context(), event)
	if err := a.audit.Log(r.Context(), event); err != nil {
		a.logger.WithError(err).Warn("failed to record access denial")
	}
	httputil.WriteUnauthorized(w, message)
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return auth.FromContext(r.Context())
}

// RequireSystemRole creates middleware that checks the caller's system role
func RequireSystemRole(role roles.SystemRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			if !authCtx.HasSystemRole(role) {
				httputil.WriteForbidden(w, "insufficient role permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
