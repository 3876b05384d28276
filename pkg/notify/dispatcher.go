package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/users"
)

// Outcomes reported to Metrics
const (
	OutcomeSent         = "sent"
	OutcomeFailed       = "failed"
	OutcomeDeduplicated = "deduplicated"
	OutcomeDisabled     = "disabled"
)

// Metrics receives one observation per notification decision
type Metrics interface {
	RecordNotification(notificationType, outcome string)
}

// DispatcherConfig wires a Dispatcher
type DispatcherConfig struct {
	Logs     LogStore
	Mailer   Mailer
	Users    users.Store
	Renderer *Renderer
	Clock    clockwork.Clock
	// Location defines the calendar day used for dedup. Defaults to UTC.
	Location *time.Location
	Logger   *logrus.Logger
	Metrics  Metrics
	// Enabled disables types mapped to false. Missing types are enabled.
	Enabled map[Type]bool
}

// Dispatcher renders, sends and logs notifications with per-day dedup
type Dispatcher struct {
	logs     LogStore
	mailer   Mailer
	users    users.Store
	renderer *Renderer
	clock    clockwork.Clock
	location *time.Location
	logger   *logrus.Logger
	metrics  Metrics

	mu      sync.RWMutex
	enabled map[Type]bool
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Logs == nil || cfg.Mailer == nil || cfg.Renderer == nil {
		return nil, errors.New("notify: log store, mailer and renderer are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	d := &Dispatcher{
		logs:     cfg.Logs,
		mailer:   cfg.Mailer,
		users:    cfg.Users,
		renderer: cfg.Renderer,
		clock:    cfg.Clock,
		location: cfg.Location,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	d.SetEnabled(cfg.Enabled)
	return d, nil
}

// SetEnabled replaces the per-type switch. It is safe to call while
// notifications are in flight.
func (d *Dispatcher) SetEnabled(enabled map[Type]bool) {
	copied := make(map[Type]bool, len(enabled))
	for t, on := range enabled {
		copied[t] = on
	}
	d.mu.Lock()
	d.enabled = copied
	d.mu.Unlock()
}

// Enabled reports whether t is currently switched on
func (d *Dispatcher) Enabled(t Type) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	on, ok := d.enabled[t]
	return !ok || on
}

// Notify sends t about grant to its subject, or to recipientOverride when
// non-empty. It returns false when the send was skipped.
func (d *Dispatcher) Notify(ctx context.Context, t Type, grant *grants.Grant, recipientOverride string) (bool, error) {
	if grant == nil {
		return false, errors.New("notify: grant is required")
	}
	recipient := recipientOverride
	if recipient == "" {
		recipient = grant.SubjectEmail
	}
	data := TemplateData{Grant: grant}
	if days := grant.DaysUntilExpiry(d.clock.Now()); days >= 0 {
		data.Days = days
	}
	return d.Send(ctx, t, recipient, data)
}

// Send runs the dedup check, renders t, delivers it and records the attempt.
// A failed send is logged and returned but never retried here.
func (d *Dispatcher) Send(ctx context.Context, t Type, recipient string, data TemplateData) (bool, error) {
	if !t.Valid() {
		return false, fmt.Errorf("unknown notification type %q", t)
	}
	recipient = grants.NormalizeEmail(recipient)
	if recipient == "" {
		return false, errors.New("notify: recipient is required")
	}

	log := d.logger.WithFields(logrus.Fields{
		"notification_type": t,
		"recipient":         recipient,
	})
	var grantID *int64
	if data.Grant != nil {
		id := data.Grant.ID
		grantID = &id
		log = log.WithField("grant_id", id)
	}

	if !d.Enabled(t) {
		log.Debug("Notification type disabled, skipping")
		d.observe(t, OutcomeDisabled)
		return false, nil
	}

	now := d.clock.Now()
	sent, err := d.logs.SentSince(ctx, recipient, t, grantID, d.startOfDay(now))
	if err != nil {
		return false, err
	}
	if sent {
		log.Debug("Notification already sent today, skipping")
		d.observe(t, OutcomeDeduplicated)
		return false, nil
	}

	if data.Recipient == "" {
		data.Recipient = recipient
	}
	if data.RecipientName == "" {
		data.RecipientName = d.recipientName(ctx, recipient)
	}

	entry := &LogEntry{
		RecipientEmail: recipient,
		Type:           t,
		GrantID:        grantID,
		SentAt:         now,
		Status:         LogSent,
	}

	rendered, sendErr := d.renderer.Render(t, data)
	if sendErr == nil {
		sendErr = d.mailer.Send(ctx, Message{
			To:      recipient,
			Subject: rendered.Subject,
			Text:    rendered.Text,
			HTML:    rendered.HTML,
		})
	}
	if sendErr != nil {
		entry.Status = LogFailed
		entry.ErrorMessage = sendErr.Error()
	}

	if err := d.logs.Record(ctx, entry); err != nil {
		log.WithError(err).Error("Failed to record notification attempt")
	}

	if sendErr != nil {
		log.WithError(sendErr).Warn("Notification send failed")
		d.observe(t, OutcomeFailed)
		return false, fmt.Errorf("failed to send %s to %s: %w", t, recipient, sendErr)
	}

	log.Info("Notification sent")
	d.observe(t, OutcomeSent)
	return true, nil
}

// HandleEvent maps a lifecycle event onto notifications. It returns true if
// at least one message went out; failures for individual recipients are
// joined.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev grants.Event) (bool, error) {
	t, ok, err := TypeForEvent(ev)
	if err != nil || !ok {
		return false, err
	}

	data := TemplateData{
		Grant:         ev.Grant,
		Days:          ev.WarningDays,
		PreviousRole:  ev.PreviousRole,
		Reason:        ev.Reason,
		Summary:       ev.Summary,
		RecipientName: ev.RecipientName,
	}

	recipients, err := d.recipients(ctx, ev)
	if err != nil {
		return false, err
	}
	if len(recipients) == 0 {
		d.logger.WithField("event", ev.Type).Warn("No recipients for event")
		return false, nil
	}

	var (
		sentAny bool
		errs    []error
	)
	for _, r := range recipients {
		rd := data
		if len(recipients) > 1 {
			rd.RecipientName = ""
		}
		sent, err := d.Send(ctx, t, r, rd)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sentAny = sentAny || sent
	}
	return sentAny, errors.Join(errs...)
}

// TypeForEvent is the static event to notification table. Events without a
// notification return ok=false.
func TypeForEvent(ev grants.Event) (Type, bool, error) {
	switch ev.Type {
	case grants.EventGrantActivated, grants.EventGrantApproved:
		return TypeGrantApproved, true, nil
	case grants.EventGrantPending:
		return TypePendingApproval, true, nil
	case grants.EventGrantRejected:
		return TypeGrantRejected, true, nil
	case grants.EventGrantExtended:
		return TypeExtensionApproved, true, nil
	case grants.EventExpiryWarning:
		t, ok := WarningType(ev.WarningDays)
		if !ok {
			return "", false, fmt.Errorf("no expiry warning template for %d days", ev.WarningDays)
		}
		return t, true, nil
	case grants.EventGrantExpired:
		return TypeExpired, true, nil
	case grants.EventEditorDowngraded:
		return TypeEditorAutoDowngrade, true, nil
	case grants.EventDailySummary:
		return TypeAdminNotification, true, nil
	case grants.EventUserRegistered:
		return TypeWelcome, true, nil
	}
	return "", false, nil
}

func (d *Dispatcher) recipients(ctx context.Context, ev grants.Event) ([]string, error) {
	if ev.Recipient != "" {
		return []string{ev.Recipient}, nil
	}
	switch ev.Type {
	case grants.EventGrantPending, grants.EventDailySummary:
		if d.users == nil {
			return nil, errors.New("notify: user store required for admin notifications")
		}
		var clientID *int64
		if ev.Type == grants.EventGrantPending {
			id := ev.ClientID
			if id == 0 && ev.Grant != nil {
				id = ev.Grant.ClientID
			}
			clientID = &id
		}
		admins, err := d.users.ListAdmins(ctx, clientID)
		if err != nil {
			return nil, fmt.Errorf("failed to list admins: %w", err)
		}
		out := make([]string, 0, len(admins))
		for _, a := range admins {
			out = append(out, a.Email)
		}
		return out, nil
	}
	if ev.Grant == nil {
		return nil, fmt.Errorf("event %s has neither recipient nor grant", ev.Type)
	}
	return []string{ev.Grant.SubjectEmail}, nil
}

func (d *Dispatcher) recipientName(ctx context.Context, email string) string {
	if d.users != nil {
		if u, err := d.users.GetByEmail(ctx, email); err == nil && u.Name != "" {
			return u.Name
		}
	}
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

func (d *Dispatcher) startOfDay(now time.Time) time.Time {
	local := now.In(d.location)
	y, m, day := local.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, d.location)
}

func (d *Dispatcher) observe(t Type, outcome string) {
	if d.metrics != nil {
		d.metrics.RecordNotification(string(t), outcome)
	}
}
