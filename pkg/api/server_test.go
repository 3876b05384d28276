package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ga4access/pkg/audit"
	"github.com/platinummonkey/ga4access/pkg/auth"
	"github.com/platinummonkey/ga4access/pkg/ga4"
	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/lifecycle"
	"github.com/platinummonkey/ga4access/pkg/middleware"
	"github.com/platinummonkey/ga4access/pkg/observability"
	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/scheduler"
	"github.com/platinummonkey/ga4access/pkg/users"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []grants.Event
}

func (n *recordingNotifier) HandleEvent(ctx context.Context, ev grants.Event) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return true, nil
}

func (n *recordingNotifier) has(t grants.EventType, recipient string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ev := range n.events {
		if ev.Type == t && ev.Recipient == recipient {
			return true
		}
	}
	return false
}

type apiFixture struct {
	server    *Server
	engine    *lifecycle.Engine
	repo      *grants.MemoryRepository
	provider  *ga4.MemoryProvider
	users     *users.MemoryStore
	tokens    *auth.TokenManager
	audit     *audit.MemoryLogger
	notifier  *recordingNotifier
	scheduler *scheduler.Scheduler
	metrics   *observability.Metrics

	requester, admin, otherAdmin, super                 *users.User
	requesterToken, adminToken, otherAdminToken, superToken string
}

type fixtureOption func(*Deps)

func newAPIFixture(t *testing.T, opts ...fixtureOption) *apiFixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clock := clockwork.NewFakeClockAt(t0)

	f := &apiFixture{
		repo:     grants.NewMemoryRepository(),
		provider: ga4.NewMemoryProvider(),
		users:    users.NewMemoryStore(),
		audit:    audit.NewMemoryLogger(),
		notifier: &recordingNotifier{},
		metrics:  observability.NewMetrics(nil),
	}
	f.tokens = auth.NewTokenManager(f.users, clock)

	engine, err := lifecycle.New(lifecycle.DefaultConfig(), lifecycle.Deps{
		Repo:     f.repo,
		Provider: f.provider,
		Users:    f.users,
		Notifier: f.notifier,
		Audit:    f.audit,
		Clock:    clock,
		Logger:   logger,
	})
	require.NoError(t, err)
	f.engine = engine

	sched, err := scheduler.New(scheduler.Config{}, scheduler.LifecycleJobs(engine), scheduler.Options{Logger: logger, Clock: clock})
	require.NoError(t, err)
	f.scheduler = sched
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })

	f.requester, f.requesterToken = f.addUser(t, "requester@agency.com", roles.SystemRequester, 1)
	f.admin, f.adminToken = f.addUser(t, "admin@agency.com", roles.SystemAdmin, 1)
	f.otherAdmin, f.otherAdminToken = f.addUser(t, "admin@other.com", roles.SystemAdmin, 2)
	f.super, f.superToken = f.addUser(t, "root@agency.com", roles.SystemSuperAdmin, 1)

	deps := Deps{
		Engine:     engine,
		Grants:     f.repo,
		Users:      f.users,
		Tokens:     f.tokens,
		Provider:   f.provider,
		Jobs:       sched,
		Notifier:   f.notifier,
		Audit:      f.audit,
		AuditStore: f.audit,
		Metrics:    f.metrics,
		Logger:     logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	server, err := NewServer(deps)
	require.NoError(t, err)
	f.server = server
	return f
}

func (f *apiFixture) addUser(t *testing.T, email string, role roles.SystemRole, clientID int64) (*users.User, string) {
	t.Helper()
	u := &users.User{Email: email, Name: email, SystemRole: role, ClientID: clientID, Status: users.StatusActive}
	require.NoError(t, f.users.Create(context.Background(), u))
	token, _, err := f.tokens.CreateToken(context.Background(), u.ID, 0)
	require.NoError(t, err)
	return u, token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestNewServerRequiresCoreDeps(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestServer_Authentication(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/grants", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = f.do(t, http.MethodGet, "/api/v1/grants", "ga4a_not-a-real-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	denied := 0
	for _, ev := range f.audit.Events() {
		if ev.EventType == audit.EventTypeAuthAccessDenied {
			denied++
		}
	}
	assert.Equal(t, 2, denied)

	w = f.do(t, http.MethodGet, "/api/v1/users/me", f.requesterToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[users.User](t, w)
	assert.Equal(t, f.requester.Email, me.Email)
}

func TestServer_SuspendedUserRejected(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.users.SetStatus(context.Background(), f.requester.ID, users.StatusSuspended))

	w := f.do(t, http.MethodGet, "/api/v1/users/me", f.requesterToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_NotFoundAndMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = f.do(t, http.MethodDelete, "/api/v1/grants/1", f.adminToken, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_RejectsNonJSONBodies(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/grants", bytes.NewBufferString("role=viewer"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+f.requesterToken)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestServer_RateLimit(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	logger, _ := test.NewNullLogger()
	limit := &middleware.RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour}
	rl := middleware.NewRateLimitMiddleware(
		middleware.NewRateLimiter(limit, clock),
		middleware.NewRateLimiter(limit, clock),
		logger,
	)
	f := newAPIFixture(t, func(d *Deps) { d.RateLimit = rl })

	w := f.do(t, http.MethodGet, "/api/v1/users/me", f.requesterToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = f.do(t, http.MethodGet, "/api/v1/users/me", f.requesterToken, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Other callers have their own bucket
	w = f.do(t, http.MethodGet, "/api/v1/users/me", f.adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RecordsRouteMetrics(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodGet, "/api/v1/users/me", f.requesterToken, nil)

	families, err := f.metrics.Registry().Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() != "ga4access_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "route" && l.GetValue() == "/api/v1/users/me" {
					found = true
				}
			}
		}
	}
	assert.True(t, found, "request counted under its route template")
}
