package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ga4access/pkg/audit"
	"github.com/platinummonkey/ga4access/pkg/ga4"
	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/notify"
	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/users"
)

// Notifier receives lifecycle events. It reports whether a message was sent.
type Notifier interface {
	HandleEvent(ctx context.Context, ev grants.Event) (bool, error)
}

// Metrics receives engine observations
type Metrics interface {
	RecordTransition(from, to string)
	RecordGA4Call(op string, err error, duration time.Duration)
	RecordScan(scan string, succeeded, failed int, duration time.Duration)
}

// Deps are the collaborators of an Engine. Notifier, Audit, Clock, Logger
// and Metrics are optional.
type Deps struct {
	Repo     grants.Repository
	Provider ga4.Provider
	Users    users.Store
	Notifier Notifier
	Audit    audit.Logger
	Clock    clockwork.Clock
	Logger   *logrus.Logger
	Metrics  Metrics
}

// Engine drives the grant state machine
type Engine struct {
	repo     grants.Repository
	provider ga4.Provider
	users    users.Store
	notifier Notifier
	audit    audit.Logger
	clock    clockwork.Clock
	logger   *logrus.Logger
	metrics  Metrics

	mu  sync.RWMutex
	cfg Config
}

// New creates an engine
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Repo == nil || deps.Provider == nil || deps.Users == nil {
		return nil, errors.New("lifecycle: repository, GA4 provider and user store are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("lifecycle: %w", err)
	}
	if deps.Audit == nil {
		deps.Audit = audit.NoOpLogger{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	return &Engine{
		repo:     deps.Repo,
		provider: deps.Provider,
		users:    deps.Users,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		clock:    deps.Clock,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		cfg:      cfg,
	}, nil
}

// Config returns the current policy
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetConfig swaps the policy. In-flight operations keep the policy they
// started with.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.logger.WithFields(logrus.Fields{
		"max_extensions":     cfg.MaxExtensions,
		"warning_thresholds": cfg.WarningThresholds,
		"downgrade_after":    cfg.DowngradeAfter.String(),
	}).Info("Lifecycle policy updated")
	return nil
}

// activeActor loads the acting user and requires an active account
func (e *Engine) activeActor(ctx context.Context, id int64) (*users.User, error) {
	u, err := e.users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, forbidden("unknown user %d", id)
		}
		return nil, err
	}
	if !u.IsActive() {
		return nil, forbidden("user %d is %s", id, u.Status)
	}
	return u, nil
}

// canManage reports whether actor may change g: its requester or an admin
// of its client.
func canManage(actor *users.User, g *grants.Grant) bool {
	return actor.ID == g.RequesterID || actor.CanAdminister(g.ClientID)
}

// ensureFutureExpiry guards every write that leaves a grant active
func ensureFutureExpiry(g *grants.Grant, now time.Time) error {
	if !g.ExpiresInFuture(now) {
		return fmt.Errorf("grant %d: active grants must expire in the future", g.ID)
	}
	return nil
}

func (e *Engine) ga4Context(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.Config().GA4Timeout)
}

// grantBinding creates the GA4 binding for g. An existing binding for the
// same subject is adopted and moved to g's role.
func (e *Engine) grantBinding(ctx context.Context, g *grants.Grant) (string, error) {
	ctx, cancel := e.ga4Context(ctx)
	defer cancel()

	start := e.clock.Now()
	binding, err := e.provider.GrantAccess(ctx, g.PropertyID, g.SubjectEmail, g.Role)
	e.observeGA4("grant", err, start)
	if err == nil {
		return binding, nil
	}
	if !errors.Is(err, ga4.ErrAlreadyGranted) {
		return "", err
	}

	existing, err := ga4.FindBinding(ctx, e.provider, g.PropertyID, g.SubjectEmail)
	if err != nil {
		return "", fmt.Errorf("binding exists but could not be found: %w", err)
	}
	if existing.Role != g.Role {
		start = e.clock.Now()
		err = e.provider.UpdateAccess(ctx, existing.Name, g.Role)
		e.observeGA4("update", err, start)
		if err != nil {
			return "", err
		}
	}
	return existing.Name, nil
}

// updateBinding changes the role of g's binding
func (e *Engine) updateBinding(ctx context.Context, bindingID string, role roles.GA4Role) error {
	ctx, cancel := e.ga4Context(ctx)
	defer cancel()

	start := e.clock.Now()
	err := e.provider.UpdateAccess(ctx, bindingID, role)
	e.observeGA4("update", err, start)
	return err
}

// revokeBinding removes g's access on GA4. A binding that is already gone
// counts as revoked. Grants without a recorded binding are looked up by
// subject.
func (e *Engine) revokeBinding(ctx context.Context, g *grants.Grant) error {
	ctx, cancel := e.ga4Context(ctx)
	defer cancel()

	binding := g.ExternalBindingID
	if binding == "" {
		b, err := ga4.FindBinding(ctx, e.provider, g.PropertyID, g.SubjectEmail)
		if errors.Is(err, ga4.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		binding = b.Name
	}

	start := e.clock.Now()
	err := e.provider.RevokeAccess(ctx, binding)
	e.observeGA4("revoke", err, start)
	if errors.Is(err, ga4.ErrNotFound) {
		return nil
	}
	return err
}

// emit hands ev to the notifier and records the notification on the grant.
// Notification problems never fail the calling operation.
func (e *Engine) emit(ctx context.Context, ev grants.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.clock.Now()
	}
	if e.notifier == nil {
		return
	}

	log := e.logger.WithField("event", ev.Type)
	if ev.Grant != nil {
		log = log.WithField("grant_id", ev.Grant.ID)
	}

	sent, err := e.notifier.HandleEvent(ctx, ev)
	if err != nil {
		log.WithError(err).Warn("Notification failed")
	}
	if !sent || ev.Grant == nil {
		return
	}

	t, ok, _ := notify.TypeForEvent(ev)
	if !ok {
		return
	}
	if err := e.repo.MarkNotified(ctx, ev.Grant.ID, string(t), ev.OccurredAt); err != nil {
		log.WithError(err).Warn("Failed to record notification on grant")
	}
}

// record writes an audit event. Audit failures are logged, not returned.
func (e *Engine) record(ctx context.Context, t audit.EventType, status audit.EventStatus, actorID *int64, g *grants.Grant, changes *audit.ChangeDetails, message string, cause error) {
	event := audit.NewGrantEvent(t, status, actorID, g)
	event.Timestamp = e.clock.Now().UTC()
	event.Changes = changes
	event.Message = message
	if cause != nil {
		event.ErrorMessage = cause.Error()
	}
	if err := e.audit.Log(ctx, event); err != nil {
		e.logger.WithError(err).WithField("audit_event", t).Warn("Failed to write audit event")
	}
}

func (e *Engine) transitioned(from, to grants.Status) {
	if e.metrics != nil {
		e.metrics.RecordTransition(string(from), string(to))
	}
}

func (e *Engine) observeGA4(op string, err error, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordGA4Call(op, err, e.clock.Since(start))
	}
}

func (e *Engine) observeScan(scan string, succeeded, failed int, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordScan(scan, succeeded, failed, e.clock.Since(start))
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}
