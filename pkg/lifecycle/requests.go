package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ga4access/pkg/approval"
	"github.com/platinummonkey/ga4access/pkg/audit"
	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/users"
)

// RequestInput describes a request for access
type RequestInput struct {
	SubjectEmail string
	PropertyID   string
	Role         roles.GA4Role
	Reason       string
	RequesterID  int64
	// AdditionalDays applies when the request extends an existing grant.
	// Zero uses the role's default duration.
	AdditionalDays int
}

// RequestResult is the outcome of RequestGrant
type RequestResult struct {
	Grant        *grants.Grant `json:"grant"`
	Created      bool          `json:"created"`
	AutoApproved bool          `json:"auto_approved"`
	// SyncPending is set when the grant is active but GA4 has not yet been
	// updated. The retry scan completes the sync.
	SyncPending bool `json:"sync_pending"`
}

// ExtendInput describes a change to an open grant
type ExtendInput struct {
	GrantID int64
	// Role is the requested role; empty keeps the current role
	Role           roles.GA4Role
	AdditionalDays int
	ActorID        int64
}

func normalizeRequest(in *RequestInput) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(in.SubjectEmail))
	if err != nil || addr.Name != "" {
		return invalid("subject email %q is not a valid address", in.SubjectEmail)
	}
	in.SubjectEmail = grants.NormalizeEmail(addr.Address)

	in.PropertyID = strings.TrimPrefix(strings.TrimSpace(in.PropertyID), "properties/")
	if in.PropertyID == "" || strings.ContainsAny(in.PropertyID, "/ \t") {
		return invalid("property ID %q is not valid", in.PropertyID)
	}
	if !in.Role.Valid() {
		return invalid("unknown GA4 role %q", in.Role)
	}
	if in.AdditionalDays < 0 {
		return invalid("additional days must not be negative")
	}
	return nil
}

// RequestGrant opens a grant for the subject on the property, or routes to
// ExtendOrChangeRole when an open grant already exists. Auto-approved grants
// are stored active before GA4 is called; a GA4 failure leaves them active
// and unsynced with SyncPending set rather than returning an error.
func (e *Engine) RequestGrant(ctx context.Context, in RequestInput) (*RequestResult, error) {
	if err := normalizeRequest(&in); err != nil {
		return nil, err
	}
	requester, err := e.activeActor(ctx, in.RequesterID)
	if err != nil {
		return nil, err
	}

	existing, err := e.repo.FindActiveGrant(ctx, in.SubjectEmail, in.PropertyID)
	switch {
	case err == nil:
		g, err := e.ExtendOrChangeRole(ctx, ExtendInput{
			GrantID:        existing.ID,
			Role:           in.Role,
			AdditionalDays: in.AdditionalDays,
			ActorID:        in.RequesterID,
		})
		if err != nil {
			return nil, err
		}
		return &RequestResult{
			Grant:        g,
			AutoApproved: g.Status == grants.StatusActive,
			SyncPending:  g.Status == grants.StatusActive && !g.GA4Registered,
		}, nil
	case !errors.Is(err, grants.ErrNotFound):
		return nil, err
	}

	cfg := e.Config()
	now := e.clock.Now()
	decision := approval.Decide(requester.SystemRole, in.Role)

	g := &grants.Grant{
		SubjectEmail: in.SubjectEmail,
		RequesterID:  requester.ID,
		ClientID:     requester.ClientID,
		PropertyID:   in.PropertyID,
		Role:         in.Role,
		Reason:       in.Reason,
		RequestedAt:  now,
		Status:       grants.StatusPending,
	}
	if decision.AutoApproved {
		g.Status = grants.StatusActive
		g.ApprovedAt = grants.TimePtr(now)
		g.ApprovedBy = int64Ptr(requester.ID)
		g.ExpiresAt = grants.TimePtr(now.Add(cfg.Duration(in.Role)))
	}

	if err := e.repo.Create(ctx, g); err != nil {
		return nil, err
	}

	log := e.logger.WithFields(logrus.Fields{
		"grant_id":    g.ID,
		"subject":     g.SubjectEmail,
		"property_id": g.PropertyID,
		"ga4_role":    g.Role,
	})
	e.record(ctx, audit.EventTypeGrantRequested, audit.EventStatusSuccess, int64Ptr(requester.ID), g, nil, in.Reason, nil)

	result := &RequestResult{Grant: g, Created: true, AutoApproved: decision.AutoApproved}

	if !decision.AutoApproved {
		e.transitioned("", grants.StatusPending)
		log.Info("Grant pending approval")
		e.emit(ctx, grants.Event{Type: grants.EventGrantPending, Grant: g.Clone(), ClientID: g.ClientID, ActorID: requester.ID})
		return result, nil
	}

	e.transitioned("", grants.StatusActive)
	e.record(ctx, audit.EventTypeGrantActivated, audit.EventStatusSuccess, int64Ptr(requester.ID), g, nil, "auto-approved", nil)

	synced, err := e.syncGrant(ctx, g.ID)
	if err != nil {
		log.WithError(err).Warn("Grant active but GA4 sync failed; will retry")
		result.SyncPending = true
	} else {
		result.Grant = synced
		log.Info("Grant activated")
	}
	e.emit(ctx, grants.Event{Type: grants.EventGrantActivated, Grant: result.Grant.Clone(), ActorID: requester.ID})
	return result, nil
}

// syncGrant pushes an active, unsynced grant to GA4 and records the binding
func (e *Engine) syncGrant(ctx context.Context, id int64) (*grants.Grant, error) {
	g, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Status != grants.StatusActive || g.GA4Registered {
		return g, errSkip
	}

	binding, err := e.grantBinding(ctx, g)
	if err != nil {
		e.record(ctx, audit.EventTypeGrantSyncFailed, audit.EventStatusFailure, nil, g, nil, "GA4 grant failed", err)
		return nil, err
	}

	now := e.clock.Now()
	updated, err := e.repo.UpdateStatus(ctx, id, grants.StatusActive, func(cur *grants.Grant) error {
		if cur.Status != grants.StatusActive || cur.GA4Registered {
			return errSkip
		}
		if err := ensureFutureExpiry(cur, now); err != nil {
			return err
		}
		cur.ExternalBindingID = binding
		cur.GA4Registered = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("GA4 binding %s created but grant %d not updated: %w", binding, id, err)
	}
	e.record(ctx, audit.EventTypeGrantSynced, audit.EventStatusSuccess, nil, updated, nil, binding, nil)
	return updated, nil
}

// authorizeApprover checks that approver may decide on g
func (e *Engine) authorizeApprover(ctx context.Context, approverID int64, g *grants.Grant) (*users.User, error) {
	approver, err := e.activeActor(ctx, approverID)
	if err != nil {
		return nil, err
	}
	requester, err := e.users.Get(ctx, g.RequesterID)
	requesterRole := roles.SystemRequester
	if err == nil {
		requesterRole = requester.SystemRole
	}
	decision := approval.Decide(requesterRole, g.Role)
	if !decision.CanApprove(approver.SystemRole) || !approver.CanAdminister(g.ClientID) {
		return nil, forbidden("user %d may not approve grant %d", approverID, g.ID)
	}
	return approver, nil
}

// Approve activates a pending grant. GA4 must accept the binding first; on
// failure the grant stays pending and the error is returned.
func (e *Engine) Approve(ctx context.Context, grantID, approverID int64) (*grants.Grant, error) {
	g, err := e.repo.Get(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if g.Status != grants.StatusPending {
		return nil, &grants.TransitionError{GrantID: g.ID, From: g.Status, To: grants.StatusActive}
	}
	approver, err := e.authorizeApprover(ctx, approverID, g)
	if err != nil {
		e.record(ctx, audit.EventTypeGrantApproved, audit.EventStatusDenied, int64Ptr(approverID), g, nil, "approval denied", err)
		return nil, err
	}

	binding, err := e.grantBinding(ctx, g)
	if err != nil {
		e.record(ctx, audit.EventTypeGrantApproved, audit.EventStatusFailure, int64Ptr(approver.ID), g, nil, "GA4 grant failed", err)
		return nil, fmt.Errorf("approve grant %d: %w", g.ID, err)
	}

	cfg := e.Config()
	now := e.clock.Now()
	updated, err := e.repo.UpdateStatus(ctx, g.ID, grants.StatusActive, func(cur *grants.Grant) error {
		if cur.Status != grants.StatusPending {
			return &grants.TransitionError{GrantID: cur.ID, From: cur.Status, To: grants.StatusActive}
		}
		cur.ApprovedAt = grants.TimePtr(now)
		cur.ApprovedBy = int64Ptr(approver.ID)
		cur.ExpiresAt = grants.TimePtr(now.Add(cfg.Duration(cur.Role)))
		cur.ExternalBindingID = binding
		cur.GA4Registered = true
		cur.RejectionReason = ""
		return ensureFutureExpiry(cur, now)
	})
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"grant_id": g.ID,
			"binding":  binding,
		}).Error("GA4 binding created but approval was not stored")
		return nil, err
	}

	e.transitioned(grants.StatusPending, grants.StatusActive)
	e.record(ctx, audit.EventTypeGrantApproved, audit.EventStatusSuccess, int64Ptr(approver.ID), updated,
		audit.StatusChange(grants.StatusPending, grants.StatusActive), "", nil)
	e.logger.WithFields(logrus.Fields{
		"grant_id": updated.ID,
		"approver": approver.ID,
		"ga4_role": updated.Role,
	}).Info("Grant approved")
	e.emit(ctx, grants.Event{Type: grants.EventGrantApproved, Grant: updated.Clone(), ActorID: approver.ID})
	return updated, nil
}

// Reject closes a pending grant. If the grant was active before a role
// change sent it back for approval, the access it still holds on GA4 is
// removed best effort.
func (e *Engine) Reject(ctx context.Context, grantID, approverID int64, reason string) (*grants.Grant, error) {
	g, err := e.repo.Get(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if g.Status != grants.StatusPending {
		return nil, &grants.TransitionError{GrantID: g.ID, From: g.Status, To: grants.StatusRejected}
	}
	approver, err := e.authorizeApprover(ctx, approverID, g)
	if err != nil {
		e.record(ctx, audit.EventTypeGrantRejected, audit.EventStatusDenied, int64Ptr(approverID), g, nil, "rejection denied", err)
		return nil, err
	}

	now := e.clock.Now()
	updated, err := e.repo.UpdateStatus(ctx, g.ID, grants.StatusRejected, func(cur *grants.Grant) error {
		if cur.Status != grants.StatusPending {
			return &grants.TransitionError{GrantID: cur.ID, From: cur.Status, To: grants.StatusRejected}
		}
		cur.RejectionReason = strings.TrimSpace(reason)
		cur.RevokedAt = grants.TimePtr(now)
		cur.ExternalBindingID = ""
		cur.GA4Registered = false
		return nil
	})
	if err != nil {
		return nil, err
	}

	if g.ApprovedAt != nil {
		// previously active; drop whatever GA4 access remains
		if err := e.revokeBinding(ctx, g); err != nil {
			e.logger.WithError(err).WithField("grant_id", g.ID).Warn("Failed to remove GA4 access of rejected grant")
			e.record(ctx, audit.EventTypeGrantRevoked, audit.EventStatusFailure, int64Ptr(approver.ID), updated, nil, "GA4 revoke after rejection failed", err)
		}
	}

	e.transitioned(grants.StatusPending, grants.StatusRejected)
	e.record(ctx, audit.EventTypeGrantRejected, audit.EventStatusSuccess, int64Ptr(approver.ID), updated,
		audit.StatusChange(grants.StatusPending, grants.StatusRejected), updated.RejectionReason, nil)
	e.emit(ctx, grants.Event{Type: grants.EventGrantRejected, Grant: updated.Clone(), ActorID: approver.ID, Reason: updated.RejectionReason})
	return updated, nil
}

// ExtendOrChangeRole updates an open grant. The same role extends an active
// grant up to MaxExtensions times. A different role re-runs the approval
// policy for the acting user: allowed roles are applied in place, others
// send the grant back to pending approval.
func (e *Engine) ExtendOrChangeRole(ctx context.Context, in ExtendInput) (*grants.Grant, error) {
	if in.AdditionalDays < 0 {
		return nil, invalid("additional days must not be negative")
	}
	if in.Role != "" && !in.Role.Valid() {
		return nil, invalid("unknown GA4 role %q", in.Role)
	}

	g, err := e.repo.Get(ctx, in.GrantID)
	if err != nil {
		return nil, err
	}
	actor, err := e.activeActor(ctx, in.ActorID)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, g) {
		return nil, forbidden("user %d may not change grant %d", actor.ID, g.ID)
	}
	if g.Status.IsTerminal() {
		return nil, &grants.TransitionError{GrantID: g.ID, From: g.Status, To: g.Status}
	}

	role := in.Role
	if role == "" {
		role = g.Role
	}
	if role == g.Role {
		if g.Status == grants.StatusPending {
			return g, nil
		}
		return e.extend(ctx, g, actor, in.AdditionalDays)
	}
	return e.changeRole(ctx, g, actor, role)
}

func (e *Engine) extend(ctx context.Context, g *grants.Grant, actor *users.User, additionalDays int) (*grants.Grant, error) {
	cfg := e.Config()
	if g.ExtensionCount >= cfg.MaxExtensions {
		return nil, &grants.ExtensionLimitError{GrantID: g.ID, Max: cfg.MaxExtensions}
	}

	extra := cfg.Duration(g.Role)
	if additionalDays > 0 {
		extra = time.Duration(additionalDays) * day
	}

	now := e.clock.Now()
	updated, err := e.repo.UpdateStatus(ctx, g.ID, grants.StatusActive, func(cur *grants.Grant) error {
		if cur.Status != grants.StatusActive || cur.Role != g.Role {
			return &grants.TransitionError{GrantID: cur.ID, From: cur.Status, To: grants.StatusActive}
		}
		if cur.ExtensionCount >= cfg.MaxExtensions {
			return &grants.ExtensionLimitError{GrantID: cur.ID, Max: cfg.MaxExtensions}
		}
		base := now
		if cur.ExpiresAt != nil && cur.ExpiresAt.After(now) {
			base = *cur.ExpiresAt
		}
		cur.ExpiresAt = grants.TimePtr(base.Add(extra))
		cur.ExtensionCount++
		return ensureFutureExpiry(cur, now)
	})
	if err != nil {
		return nil, err
	}

	changes := &audit.ChangeDetails{
		Before: map[string]interface{}{"expires_at": g.ExpiresAt, "extension_count": g.ExtensionCount},
		After:  map[string]interface{}{"expires_at": updated.ExpiresAt, "extension_count": updated.ExtensionCount},
	}
	e.transitioned(grants.StatusActive, grants.StatusActive)
	e.record(ctx, audit.EventTypeGrantExtended, audit.EventStatusSuccess, int64Ptr(actor.ID), updated, changes, "", nil)
	e.logger.WithFields(logrus.Fields{
		"grant_id":        updated.ID,
		"expires_at":      updated.ExpiresAt,
		"extension_count": updated.ExtensionCount,
	}).Info("Grant extended")
	e.emit(ctx, grants.Event{Type: grants.EventGrantExtended, Grant: updated.Clone(), ActorID: actor.ID})
	return updated, nil
}

func (e *Engine) changeRole(ctx context.Context, g *grants.Grant, actor *users.User, role roles.GA4Role) (*grants.Grant, error) {
	cfg := e.Config()
	now := e.clock.Now()
	decision := approval.Decide(actor.SystemRole, role)
	previous := g.Role

	changes := &audit.ChangeDetails{
		Before: map[string]interface{}{"ga4_role": string(previous), "status": string(g.Status)},
	}

	if !decision.AutoApproved {
		// back to pending; GA4 keeps the old role until an admin decides
		updated, err := e.repo.UpdateStatus(ctx, g.ID, grants.StatusPending, func(cur *grants.Grant) error {
			if cur.Status.IsTerminal() {
				return &grants.TransitionError{GrantID: cur.ID, From: cur.Status, To: grants.StatusPending}
			}
			cur.Role = role
			cur.RequestedAt = now
			cur.ExternalBindingID = ""
			cur.GA4Registered = false
			return nil
		})
		if err != nil {
			return nil, err
		}
		changes.After = map[string]interface{}{"ga4_role": string(role), "status": string(updated.Status)}
		e.transitioned(g.Status, grants.StatusPending)
		e.record(ctx, audit.EventTypeGrantRoleChanged, audit.EventStatusSuccess, int64Ptr(actor.ID), updated, changes, "approval required", nil)
		e.emit(ctx, grants.Event{Type: grants.EventGrantPending, Grant: updated.Clone(), ClientID: updated.ClientID, ActorID: actor.ID, PreviousRole: previous})
		return updated, nil
	}

	// allowed for this actor: apply in place and restart the clock for the new role
	binding := g.ExternalBindingID
	registered := g.GA4Registered
	if g.Status == grants.StatusActive && registered && binding != "" {
		if err := e.updateBinding(ctx, binding, role); err != nil {
			e.logger.WithError(err).WithField("grant_id", g.ID).Warn("GA4 role change failed; will retry")
			e.record(ctx, audit.EventTypeGrantSyncFailed, audit.EventStatusFailure, int64Ptr(actor.ID), g, nil, "GA4 role change failed", err)
			binding, registered = "", false
		}
	} else {
		binding, registered = "", false
	}

	fromStatus := g.Status
	updated, err := e.repo.UpdateStatus(ctx, g.ID, grants.StatusActive, func(cur *grants.Grant) error {
		if cur.Status.IsTerminal() {
			return &grants.TransitionError{GrantID: cur.ID, From: cur.Status, To: grants.StatusActive}
		}
		cur.Role = role
		cur.ApprovedAt = grants.TimePtr(now)
		cur.ApprovedBy = int64Ptr(actor.ID)
		cur.ExpiresAt = grants.TimePtr(now.Add(cfg.Duration(role)))
		cur.ExternalBindingID = binding
		cur.GA4Registered = registered
		return ensureFutureExpiry(cur, now)
	})
	if err != nil {
		return nil, err
	}

	changes.After = map[string]interface{}{"ga4_role": string(role), "status": string(updated.Status)}
	e.transitioned(fromStatus, grants.StatusActive)
	e.record(ctx, audit.EventTypeGrantRoleChanged, audit.EventStatusSuccess, int64Ptr(actor.ID), updated, changes, "", nil)

	if !updated.GA4Registered {
		if synced, err := e.syncGrant(ctx, updated.ID); err == nil {
			updated = synced
		}
	}

	if fromStatus == grants.StatusPending {
		e.emit(ctx, grants.Event{Type: grants.EventGrantActivated, Grant: updated.Clone(), ActorID: actor.ID})
	} else {
		e.emit(ctx, grants.Event{Type: grants.EventGrantRoleChanged, Grant: updated.Clone(), ActorID: actor.ID, PreviousRole: previous})
	}
	return updated, nil
}

// Revoke ends an open grant at the actor's request. Active grants lose
// their GA4 access first; if GA4 refuses, the grant is left unchanged.
func (e *Engine) Revoke(ctx context.Context, grantID, actorID int64, reason string) (*grants.Grant, error) {
	g, err := e.repo.Get(ctx, grantID)
	if err != nil {
		return nil, err
	}
	actor, err := e.activeActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, g) {
		return nil, forbidden("user %d may not revoke grant %d", actor.ID, g.ID)
	}
	if g.Status.IsTerminal() {
		return nil, &grants.TransitionError{GrantID: g.ID, From: g.Status, To: grants.StatusDeleted}
	}

	if g.Status == grants.StatusActive || g.ApprovedAt != nil {
		if err := e.revokeBinding(ctx, g); err != nil {
			e.record(ctx, audit.EventTypeGrantRevoked, audit.EventStatusFailure, int64Ptr(actor.ID), g, nil, "GA4 revoke failed", err)
			return nil, fmt.Errorf("revoke grant %d: %w", g.ID, err)
		}
	}

	now := e.clock.Now()
	updated, err := e.repo.UpdateStatus(ctx, g.ID, grants.StatusDeleted, func(cur *grants.Grant) error {
		cur.RevokedAt = grants.TimePtr(now)
		cur.ExternalBindingID = ""
		cur.GA4Registered = false
		if reason != "" {
			cur.RejectionReason = strings.TrimSpace(reason)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.transitioned(g.Status, grants.StatusDeleted)
	e.record(ctx, audit.EventTypeGrantRevoked, audit.EventStatusSuccess, int64Ptr(actor.ID), updated,
		audit.StatusChange(g.Status, grants.StatusDeleted), reason, nil)
	e.emit(ctx, grants.Event{Type: grants.EventGrantRevoked, Grant: updated.Clone(), ActorID: actor.ID, Reason: reason})
	return updated, nil
}
