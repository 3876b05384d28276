package grants

import (
	"context"
	"time"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

// ApplyFunc mutates non-status fields of a grant inside UpdateStatus.
// Returning an error aborts the update.
type ApplyFunc func(g *Grant) error

// Repository persists grants. Only the lifecycle engine should call the
// mutating methods.
type Repository interface {
	// Create inserts a new grant and sets its ID. Returns a *ConflictError
	// when an open grant already exists for the subject and property.
	Create(ctx context.Context, g *Grant) error

	// Get returns a grant by ID or ErrNotFound.
	Get(ctx context.Context, id int64) (*Grant, error)

	// FindActiveGrant returns the open (pending or active) grant for the
	// subject and property, or ErrNotFound.
	FindActiveGrant(ctx context.Context, subjectEmail, propertyID string) (*Grant, error)

	// FindExpiringWithin returns grants with the given status whose expiry
	// falls within [now, now+days].
	FindExpiringWithin(ctx context.Context, now time.Time, days int, status Status) ([]*Grant, error)

	// UpdateStatus moves a grant to status after applying fn to the current
	// row. Terminal grants and disallowed transitions yield a *TransitionError.
	UpdateStatus(ctx context.Context, id int64, status Status, fn ApplyFunc) (*Grant, error)

	// MarkNotified records the last notification on an open grant. It is a
	// no-op for terminal grants.
	MarkNotified(ctx context.Context, id int64, notificationType string, at time.Time) error

	// List returns grants matching the filter ordered by ID.
	List(ctx context.Context, filter ListFilter) ([]*Grant, error)

	// CountByFilters counts grants matching the filter, ignoring paging.
	CountByFilters(ctx context.Context, filter ListFilter) (int, error)
}

// ListFilter narrows List and CountByFilters. Zero values are ignored.
type ListFilter struct {
	RequesterID   *int64
	ClientID      *int64
	SubjectEmail  string
	PropertyID    string
	Statuses      []Status
	Roles         []roles.GA4Role
	ExpiresFrom   *time.Time // expires_at >= ExpiresFrom
	ExpiresUntil  *time.Time // expires_at <= ExpiresUntil
	ApprovedUntil *time.Time // approved_at <= ApprovedUntil
	RequestedTo   *time.Time // requested_at <= RequestedTo
	Registered    *bool
	Offset        int
	Limit         int
}

// Matches reports whether g satisfies the filter
func (f ListFilter) Matches(g *Grant) bool {
	if f.RequesterID != nil && g.RequesterID != *f.RequesterID {
		return false
	}
	if f.ClientID != nil && g.ClientID != *f.ClientID {
		return false
	}
	if f.SubjectEmail != "" && g.SubjectEmail != NormalizeEmail(f.SubjectEmail) {
		return false
	}
	if f.PropertyID != "" && g.PropertyID != f.PropertyID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, g.Status) {
		return false
	}
	if len(f.Roles) > 0 && !containsRole(f.Roles, g.Role) {
		return false
	}
	if f.ExpiresFrom != nil && (g.ExpiresAt == nil || g.ExpiresAt.Before(*f.ExpiresFrom)) {
		return false
	}
	if f.ExpiresUntil != nil && (g.ExpiresAt == nil || g.ExpiresAt.After(*f.ExpiresUntil)) {
		return false
	}
	if f.ApprovedUntil != nil && (g.ApprovedAt == nil || g.ApprovedAt.After(*f.ApprovedUntil)) {
		return false
	}
	if f.RequestedTo != nil && g.RequestedAt.After(*f.RequestedTo) {
		return false
	}
	if f.Registered != nil && g.GA4Registered != *f.Registered {
		return false
	}
	return true
}

// ListByUser returns grants requested by the given user
func ListByUser(ctx context.Context, repo Repository, userID int64, filter ListFilter) ([]*Grant, error) {
	filter.RequesterID = &userID
	return repo.List(ctx, filter)
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsRole(list []roles.GA4Role, r roles.GA4Role) bool {
	for _, v := range list {
		if v == r {
			return true
		}
	}
	return false
}

func expiringWindow(now time.Time, days int, status Status) ListFilter {
	until := now.Add(time.Duration(days) * 24 * time.Hour)
	return ListFilter{
		Statuses:     []Status{status},
		ExpiresFrom:  &now,
		ExpiresUntil: &until,
	}
}
