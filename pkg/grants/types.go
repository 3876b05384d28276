package grants

import (
	"strings"
	"time"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

// Status is the lifecycle state of a grant
type Status string

const (
	StatusPending  Status = "PENDING_APPROVAL"
	StatusActive   Status = "ACTIVE"
	StatusExpired  Status = "EXPIRED"
	StatusRejected Status = "REJECTED"
	StatusDeleted  Status = "DELETED"
)

// AllStatuses returns every grant status
func AllStatuses() []Status {
	return []Status{StatusPending, StatusActive, StatusExpired, StatusRejected, StatusDeleted}
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusExpired, StatusRejected, StatusDeleted:
		return true
	}
	return false
}

// IsTerminal reports whether no further status change is allowed
func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusRejected || s == StatusDeleted
}

// IsOpen reports whether the status counts towards the one-open-grant rule
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusActive
}

// ParseStatus parses a status name (case-insensitive)
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.Valid()
}

var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusPending:  true,
		StatusActive:   true,
		StatusRejected: true,
		StatusExpired:  true,
		StatusDeleted:  true,
	},
	StatusActive: {
		StatusActive:  true,
		StatusPending: true,
		StatusExpired: true,
		StatusDeleted: true,
	},
}

// CanTransition reports whether a grant in status from may be written with status to
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// ValidateTransition returns a *TransitionError when from -> to is not allowed
func ValidateTransition(id int64, from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{GrantID: id, From: from, To: to}
	}
	return nil
}

// Grant is a time-bounded GA4 access grant for one subject on one property
type Grant struct {
	ID                     int64         `json:"id"`
	SubjectEmail           string        `json:"subject_email"`
	RequesterID            int64         `json:"requester_id"`
	ClientID               int64         `json:"client_id"`
	PropertyID             string        `json:"property_id"`
	Role                   roles.GA4Role `json:"ga4_role"`
	Status                 Status        `json:"status"`
	Reason                 string        `json:"reason,omitempty"`
	RequestedAt            time.Time     `json:"requested_at"`
	ApprovedAt             *time.Time    `json:"approved_at,omitempty"`
	ApprovedBy             *int64        `json:"approved_by,omitempty"`
	ExpiresAt              *time.Time    `json:"expires_at,omitempty"`
	RevokedAt              *time.Time    `json:"revoked_at,omitempty"`
	RejectionReason        string        `json:"rejection_reason,omitempty"`
	ExtensionCount         int           `json:"extension_count"`
	ExternalBindingID      string        `json:"external_binding_id,omitempty"`
	GA4Registered          bool          `json:"ga4_registered"`
	LastNotificationSentAt *time.Time    `json:"last_notification_sent_at,omitempty"`
	LastNotificationType   string        `json:"last_notification_type,omitempty"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

// Clone returns a deep copy of the grant
func (g *Grant) Clone() *Grant {
	if g == nil {
		return nil
	}
	c := *g
	c.ApprovedAt = cloneTime(g.ApprovedAt)
	c.ExpiresAt = cloneTime(g.ExpiresAt)
	c.RevokedAt = cloneTime(g.RevokedAt)
	c.LastNotificationSentAt = cloneTime(g.LastNotificationSentAt)
	if g.ApprovedBy != nil {
		v := *g.ApprovedBy
		c.ApprovedBy = &v
	}
	return &c
}

// DaysUntilExpiry returns the number of whole days between now and the
// expiry time, or -1 when the grant has no expiry or has already expired.
func (g *Grant) DaysUntilExpiry(now time.Time) int {
	if g.ExpiresAt == nil || g.ExpiresAt.Before(now) {
		return -1
	}
	return int(g.ExpiresAt.Sub(now) / (24 * time.Hour))
}

// ExpiresInFuture reports whether the grant has an expiry strictly after now
func (g *Grant) ExpiresInFuture(now time.Time) bool {
	return g.ExpiresAt != nil && g.ExpiresAt.After(now)
}

// NormalizeEmail lower-cases and trims an email for comparisons and storage
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time {
	return &t
}
