package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/ga4access/pkg/audit"
	"github.com/platinummonkey/ga4access/pkg/auth"
	"github.com/platinummonkey/ga4access/pkg/ga4"
	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/httputil"
	"github.com/platinummonkey/ga4access/pkg/lifecycle"
	"github.com/platinummonkey/ga4access/pkg/middleware"
	"github.com/platinummonkey/ga4access/pkg/observability"
	"github.com/platinummonkey/ga4access/pkg/rbac"
	"github.com/platinummonkey/ga4access/pkg/scheduler"
	"github.com/platinummonkey/ga4access/pkg/users"
)

const maxBodyBytes = 1 << 20

// GrantEngine is the part of the lifecycle engine the API drives
type GrantEngine interface {
	RequestGrant(ctx context.Context, in lifecycle.RequestInput) (*lifecycle.RequestResult, error)
	Approve(ctx context.Context, grantID, approverID int64) (*grants.Grant, error)
	Reject(ctx context.Context, grantID, approverID int64, reason string) (*grants.Grant, error)
	ExtendOrChangeRole(ctx context.Context, in lifecycle.ExtendInput) (*grants.Grant, error)
	Revoke(ctx context.Context, grantID, actorID int64, reason string) (*grants.Grant, error)
	Summary(ctx context.Context) (*grants.Summary, error)
}

// JobRunner exposes manual triggers and job status
type JobRunner interface {
	Trigger(ctx context.Context, name string) (interface{}, error)
	Status() []scheduler.JobStatus
}

// Notifier delivers event notifications
type Notifier interface {
	HandleEvent(ctx context.Context, ev grants.Event) (bool, error)
}

// Deps wires a Server. Notifier, Jobs, AuditStore, Metrics and RateLimit
// are optional; their routes or features are skipped when nil.
type Deps struct {
	Engine   GrantEngine
	Grants   grants.Repository
	Users    users.Store
	Tokens   *auth.TokenManager
	Provider ga4.Provider

	Jobs       JobRunner
	Notifier   Notifier
	Audit      audit.Logger
	AuditStore audit.Store

	RateLimit *middleware.RateLimitMiddleware
	Metrics   *observability.Metrics
	Logger    *logrus.Logger

	// TokenTTL is the lifetime of tokens issued at registration; zero never expires
	TokenTTL time.Duration
	// DefaultClientID is assigned to self-registered users that name no client
	DefaultClientID int64
}

// Server represents our API server
type Server struct {
	deps    Deps
	router  *mux.Router
	handler http.Handler
	logger  *logrus.Logger
}

// NewServer creates a new API server
func NewServer(deps Deps) (*Server, error) {
	if deps.Engine == nil || deps.Grants == nil || deps.Users == nil || deps.Tokens == nil {
		return nil, errors.New("api: engine, grants, users and tokens are required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.NoOpLogger{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}

	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		logger: deps.Logger,
	}
	s.setupRoutes()

	s.handler = otelhttp.NewHandler(
		httputil.Chain(
			httputil.RequestIDMiddleware,
			httputil.LoggingMiddleware(s.logger),
			httputil.RecoveryMiddleware(s.logger),
			httputil.MaxBytesMiddleware(maxBodyBytes),
			httputil.ContentTypeMiddleware,
		)(s.router),
		"ga4access",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}

	// Self-registration is anonymous
	register := http.Handler(http.HandlerFunc(s.registerUser))
	if s.deps.RateLimit != nil {
		register = s.deps.RateLimit.Handler(register)
	}
	s.router.Handle("/api/v1/users/register", register).Methods(http.MethodPost)

	authn := middleware.NewAuthenticator(s.deps.Tokens, s.deps.Audit, s.logger)
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(authn.Handler)
	if s.deps.RateLimit != nil {
		api.Use(s.deps.RateLimit.Handler)
	}

	api.HandleFunc("/users/me", s.getCurrentUser).Methods(http.MethodGet)

	// Grant routes
	s.handle(api, "/grants", rbac.PermGrantCreate, s.requestGrant, http.MethodPost)
	s.handle(api, "/grants", rbac.PermGrantRead, s.listGrants, http.MethodGet)
	s.handle(api, "/grants/summary", rbac.PermSummaryRead, s.grantSummary, http.MethodGet)
	s.handle(api, "/grants/{id:[0-9]+}", rbac.PermGrantRead, s.getGrant, http.MethodGet)
	s.handle(api, "/grants/{id:[0-9]+}/approve", rbac.PermGrantApprove, s.approveGrant, http.MethodPost)
	s.handle(api, "/grants/{id:[0-9]+}/reject", rbac.PermGrantApprove, s.rejectGrant, http.MethodPost)
	s.handle(api, "/grants/{id:[0-9]+}/extend", rbac.PermGrantCreate, s.extendGrant, http.MethodPost)
	s.handle(api, "/grants/{id:[0-9]+}/revoke", rbac.PermGrantCreate, s.revokeGrant, http.MethodPost)

	// Admin routes
	admin := api.PathPrefix("/admin").Subrouter()
	s.handle(admin, "/users/{id:[0-9]+}/role", rbac.PermUserUpdateRole, s.updateUserRole, http.MethodPut)
	if s.deps.Provider != nil {
		s.handle(admin, "/properties/{property}/bindings", rbac.PermBindingRead, s.listBindings, http.MethodGet)
	}
	if s.deps.Jobs != nil {
		s.handle(admin, "/jobs", rbac.PermJobRead, s.listJobs, http.MethodGet)
		s.handle(admin, "/jobs/{name}/trigger", rbac.PermJobTrigger, s.triggerJob, http.MethodPost)
	}

	// Audit routes go last: their subrouter has no path matcher of its own
	if s.deps.AuditStore != nil {
		auditRouter := admin.NewRoute().Subrouter()
		auditRouter.Use(rbac.RequirePermission(rbac.PermAuditRead))
		audit.NewHandlers(s.deps.AuditStore, s.logger).RegisterRoutes(auditRouter)
	}
}

func (s *Server) handle(r *mux.Router, path string, perm rbac.Permission, h http.HandlerFunc, methods ...string) {
	r.Handle(path, rbac.RequirePermission(perm)(h)).Methods(methods...)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the underlying router for additional routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// actor returns the authenticated caller. Routes behind the authenticator
// always have one.
func actor(r *http.Request) *users.User {
	ac := auth.FromContext(r.Context())
	if ac == nil {
		return nil
	}
	return ac.User
}

func (s *Server) recordAudit(r *http.Request, event *audit.AuditEvent) {
	audit.Stamp(r.Context(), event)
	if err := s.deps.Audit.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to write audit event")
	}
}
