package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/ga4access/pkg/async"
	"github.com/platinummonkey/ga4access/pkg/audit"
	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/notify"
	"github.com/platinummonkey/ga4access/pkg/roles"
)

// Scan names used in logs and metrics
const (
	ScanWarn      = "scan_and_warn"
	ScanExpire    = "scan_and_expire"
	ScanDowngrade = "scan_and_downgrade_editors"
	ScanRetry     = "retry_unsynced"
	ScanSummary   = "run_daily_summary"
)

// DowngradeResult reports a downgrade scan
type DowngradeResult struct {
	Downgraded int `json:"downgraded"`
	Failed     int `json:"failed"`
}

// ExpireResult reports an expiry scan
type ExpireResult struct {
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// WarnResult reports an expiry warning scan. Skipped counts warnings that
// were deduplicated or disabled.
type WarnResult struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// RetryResult reports a GA4 sync retry
type RetryResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// SummaryResult reports a daily summary run
type SummaryResult struct {
	Summary *grants.Summary `json:"summary"`
	Sent    bool            `json:"sent"`
}

// itemTimeout bounds the work on one grant within a scan
func (c Config) itemTimeout() time.Duration {
	return 3 * c.GA4Timeout
}

// ScanAndDowngradeEditors narrows elevated grants approved longer than
// DowngradeAfter ago to viewer. The expiry is left unchanged. A grant that
// is already viewer is skipped, so repeated runs are harmless.
func (e *Engine) ScanAndDowngradeEditors(ctx context.Context) (DowngradeResult, error) {
	cfg := e.Config()
	start := e.clock.Now()
	cutoff := start.Add(-cfg.DowngradeAfter)

	candidates, err := e.repo.List(ctx, grants.ListFilter{
		Statuses:      []grants.Status{grants.StatusActive},
		Roles:         cfg.DowngradeRoles(),
		ApprovedUntil: &cutoff,
	})
	if err != nil {
		return DowngradeResult{}, fmt.Errorf("list downgrade candidates: %w", err)
	}

	var downgraded atomic.Int64
	errs := async.Batch(ctx, candidates, cfg.ScanConcurrency, ScanDowngrade, cfg.itemTimeout(),
		func(ctx context.Context, g *grants.Grant) error {
			err := e.downgrade(ctx, g, start)
			switch {
			case err == nil:
				downgraded.Add(1)
			case errors.Is(err, errSkip):
				return nil
			}
			return err
		})

	result := DowngradeResult{Downgraded: int(downgraded.Load()), Failed: len(errs)}
	e.finishScan(ScanDowngrade, len(candidates), result.Downgraded, result.Failed, errs, start)
	return result, nil
}

func (e *Engine) downgrade(ctx context.Context, g *grants.Grant, now time.Time) error {
	log := e.logger.WithFields(logrus.Fields{"grant_id": g.ID, "ga4_role": g.Role})

	synced := g.GA4Registered && g.ExternalBindingID != ""
	if synced {
		if err := e.updateBinding(ctx, g.ExternalBindingID, roles.GA4Viewer); err != nil {
			e.record(ctx, audit.EventTypeGrantDowngraded, audit.EventStatusFailure, nil, g, nil, "GA4 role update failed", err)
			return fmt.Errorf("downgrade grant %d: %w", g.ID, err)
		}
	}

	updated, err := e.repo.UpdateStatus(ctx, g.ID, grants.StatusActive, func(cur *grants.Grant) error {
		if cur.Status != grants.StatusActive || !cur.Role.Elevated() {
			return errSkip
		}
		cur.Role = roles.GA4Viewer
		if !synced {
			// let the retry scan reconcile GA4 with the narrowed role
			cur.ExternalBindingID = ""
			cur.GA4Registered = false
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, errSkip) {
			log.WithError(err).Error("GA4 narrowed to viewer but grant was not updated")
		}
		return err
	}

	changes := &audit.ChangeDetails{
		Before: map[string]interface{}{"ga4_role": string(g.Role)},
		After:  map[string]interface{}{"ga4_role": string(updated.Role)},
	}
	e.transitioned(grants.StatusActive, grants.StatusActive)
	e.record(ctx, audit.EventTypeGrantDowngraded, audit.EventStatusSuccess, nil, updated, changes, "", nil)
	log.Info("Grant downgraded to viewer")
	e.emit(ctx, grants.Event{Type: grants.EventEditorDowngraded, Grant: updated.Clone(), PreviousRole: g.Role, OccurredAt: now})
	return nil
}

// holdsAccess reports whether g may have a live GA4 binding. A pending
// grant that was active before a role change keeps its old access until
// it is decided or expires.
func holdsAccess(g *grants.Grant) bool {
	return g.Status == grants.StatusActive || (g.Status == grants.StatusPending && g.ApprovedAt != nil)
}

// ScanAndExpire revokes and expires grants whose expiry has passed. This
// covers pending grants that still hold access from before a role change.
// A grant whose GA4 revoke fails keeps its status and is retried next run.
func (e *Engine) ScanAndExpire(ctx context.Context) (ExpireResult, error) {
	cfg := e.Config()
	start := e.clock.Now()

	listed, err := e.repo.List(ctx, grants.ListFilter{
		Statuses:     []grants.Status{grants.StatusActive, grants.StatusPending},
		ExpiresUntil: &start,
	})
	if err != nil {
		return ExpireResult{}, fmt.Errorf("list expired grants: %w", err)
	}
	due := listed[:0]
	for _, g := range listed {
		if holdsAccess(g) {
			due = append(due, g)
		}
	}

	var expired atomic.Int64
	errs := async.Batch(ctx, due, cfg.ScanConcurrency, ScanExpire, cfg.itemTimeout(),
		func(ctx context.Context, g *grants.Grant) error {
			err := e.expire(ctx, g, start)
			switch {
			case err == nil:
				expired.Add(1)
			case errors.Is(err, errSkip):
				return nil
			}
			return err
		})

	result := ExpireResult{Expired: int(expired.Load()), Failed: len(errs)}
	e.finishScan(ScanExpire, len(due), result.Expired, result.Failed, errs, start)
	return result, nil
}

func (e *Engine) expire(ctx context.Context, g *grants.Grant, now time.Time) error {
	if err := e.revokeBinding(ctx, g); err != nil {
		e.record(ctx, audit.EventTypeGrantExpired, audit.EventStatusFailure, nil, g, nil, "GA4 revoke failed", err)
		return fmt.Errorf("expire grant %d: %w", g.ID, err)
	}

	updated, err := e.repo.UpdateStatus(ctx, g.ID, grants.StatusExpired, func(cur *grants.Grant) error {
		if cur.Status != g.Status || !holdsAccess(cur) || cur.ExpiresInFuture(now) {
			return errSkip
		}
		cur.RevokedAt = grants.TimePtr(now)
		cur.ExternalBindingID = ""
		cur.GA4Registered = false
		return nil
	})
	if errors.Is(err, errSkip) {
		// extended while we revoked; the retry scan restores GA4 access
		_, _ = e.repo.UpdateStatus(ctx, g.ID, grants.StatusActive, func(cur *grants.Grant) error {
			if cur.Status != grants.StatusActive {
				return errSkip
			}
			cur.ExternalBindingID = ""
			cur.GA4Registered = false
			return nil
		})
		return err
	}
	if err != nil {
		return err
	}

	e.transitioned(g.Status, grants.StatusExpired)
	e.record(ctx, audit.EventTypeGrantExpired, audit.EventStatusSuccess, nil, updated,
		audit.StatusChange(g.Status, grants.StatusExpired), "", nil)
	e.logger.WithField("grant_id", g.ID).Info("Grant expired")
	e.emit(ctx, grants.Event{Type: grants.EventGrantExpired, Grant: updated.Clone(), OccurredAt: now})
	return nil
}

// warning pairs a grant with the threshold it crossed
type warning struct {
	grant *grants.Grant
	days  int
}

// ScanAndWarn sends expiry warnings for active grants that are exactly one
// of the configured thresholds away from expiry, in whole days. Repeats
// within a day are dropped by the notifier's log.
func (e *Engine) ScanAndWarn(ctx context.Context) (WarnResult, error) {
	cfg := e.Config()
	start := e.clock.Now()

	var (
		pending []warning
		seen    = make(map[int64]bool)
	)
	for _, d := range cfg.WarningThresholds {
		if _, ok := notify.WarningType(d); !ok {
			e.logger.WithField("days", d).Warn("No warning template for threshold; skipping")
			continue
		}
		candidates, err := e.repo.FindExpiringWithin(ctx, start, d+1, grants.StatusActive)
		if err != nil {
			return WarnResult{}, fmt.Errorf("list grants expiring within %d days: %w", d+1, err)
		}
		for _, g := range candidates {
			if g.DaysUntilExpiry(start) != d || seen[g.ID] {
				continue
			}
			seen[g.ID] = true
			pending = append(pending, warning{grant: g, days: d})
		}
	}

	var sent, skipped atomic.Int64
	errs := async.Batch(ctx, pending, cfg.ScanConcurrency, ScanWarn, cfg.itemTimeout(),
		func(ctx context.Context, w warning) error {
			ok, err := e.warn(ctx, w, start)
			if err != nil {
				return err
			}
			if ok {
				sent.Add(1)
			} else {
				skipped.Add(1)
			}
			return nil
		})

	result := WarnResult{Sent: int(sent.Load()), Failed: len(errs), Skipped: int(skipped.Load())}
	e.finishScan(ScanWarn, len(pending), result.Sent, result.Failed, errs, start)
	return result, nil
}

func (e *Engine) warn(ctx context.Context, w warning, now time.Time) (bool, error) {
	t, _ := notify.WarningType(w.days)
	if e.notifier == nil {
		return false, nil
	}

	ev := grants.Event{Type: grants.EventExpiryWarning, Grant: w.grant.Clone(), WarningDays: w.days, OccurredAt: now}
	sent, err := e.notifier.HandleEvent(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("warn grant %d: %w", w.grant.ID, err)
	}
	if sent {
		if err := e.repo.MarkNotified(ctx, w.grant.ID, string(t), now); err != nil {
			e.logger.WithError(err).WithField("grant_id", w.grant.ID).Warn("Failed to record notification on grant")
		}
	}
	return sent, nil
}

// RetryUnsynced pushes active grants that GA4 has not yet accepted
func (e *Engine) RetryUnsynced(ctx context.Context) (RetryResult, error) {
	cfg := e.Config()
	start := e.clock.Now()
	unregistered := false

	pending, err := e.repo.List(ctx, grants.ListFilter{
		Statuses:   []grants.Status{grants.StatusActive},
		Registered: &unregistered,
	})
	if err != nil {
		return RetryResult{}, fmt.Errorf("list unsynced grants: %w", err)
	}

	var synced atomic.Int64
	errs := async.Batch(ctx, pending, cfg.ScanConcurrency, ScanRetry, cfg.itemTimeout(),
		func(ctx context.Context, g *grants.Grant) error {
			_, err := e.syncGrant(ctx, g.ID)
			switch {
			case err == nil:
				synced.Add(1)
			case errors.Is(err, errSkip):
				return nil
			}
			return err
		})

	result := RetryResult{Synced: int(synced.Load()), Failed: len(errs)}
	e.finishScan(ScanRetry, len(pending), result.Synced, result.Failed, errs, start)
	return result, nil
}

// Summary collects the dashboard counts
func (e *Engine) Summary(ctx context.Context) (*grants.Summary, error) {
	now := e.clock.Now()
	in7 := now.Add(7 * day)
	dayAgo := now.Add(-day)
	unregistered := false
	active := []grants.Status{grants.StatusActive}

	summary := &grants.Summary{Date: now, ByStatus: make(map[grants.Status]int)}
	byStatus := make([]int, len(grants.AllStatuses()))

	g, ctx := errgroup.WithContext(ctx)
	count := func(dst *int, f grants.ListFilter) {
		g.Go(func() error {
			n, err := e.repo.CountByFilters(ctx, f)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}
	for i, s := range grants.AllStatuses() {
		count(&byStatus[i], grants.ListFilter{Statuses: []grants.Status{s}})
	}
	count(&summary.ExpiringIn7Days, grants.ListFilter{Statuses: active, ExpiresFrom: &now, ExpiresUntil: &in7})
	count(&summary.Unsynced, grants.ListFilter{Statuses: active, Registered: &unregistered})
	count(&summary.ElevatedActive, grants.ListFilter{Statuses: active, Roles: []roles.GA4Role{roles.GA4Editor, roles.GA4Administrator}})
	count(&summary.PendingOlderThan, grants.ListFilter{Statuses: []grants.Status{grants.StatusPending}, RequestedTo: &dayAgo})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collect grant summary: %w", err)
	}

	for i, s := range grants.AllStatuses() {
		summary.ByStatus[s] = byStatus[i]
	}
	return summary, nil
}

// RunDailySummary sends the grant summary to every administrator
func (e *Engine) RunDailySummary(ctx context.Context) (SummaryResult, error) {
	start := e.clock.Now()
	summary, err := e.Summary(ctx)
	if err != nil {
		return SummaryResult{}, err
	}

	result := SummaryResult{Summary: summary}
	if e.notifier != nil {
		sent, err := e.notifier.HandleEvent(ctx, grants.Event{Type: grants.EventDailySummary, Summary: summary, OccurredAt: start})
		if err != nil {
			e.logger.WithError(err).Warn("Daily summary not delivered to every admin")
		}
		result.Sent = sent
	}

	failed := 0
	if !result.Sent {
		failed = 1
	}
	e.observeScan(ScanSummary, 1-failed, failed, start)
	e.logger.WithFields(logrus.Fields{
		"active":  summary.ByStatus[grants.StatusActive],
		"pending": summary.ByStatus[grants.StatusPending],
		"sent":    result.Sent,
	}).Info("Daily summary complete")
	return result, nil
}

func (e *Engine) finishScan(scan string, candidates, succeeded, failed int, errs []error, start time.Time) {
	e.observeScan(scan, succeeded, failed, start)
	log := e.logger.WithFields(logrus.Fields{
		"scan":       scan,
		"candidates": candidates,
		"succeeded":  succeeded,
		"failed":     failed,
		"duration":   e.clock.Since(start).String(),
	})
	if len(errs) > 0 {
		log.WithError(errors.Join(errs...)).Warn("Scan completed with failures")
		return
	}
	log.Info("Scan completed")
}
