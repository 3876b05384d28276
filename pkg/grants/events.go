package grants

import (
	"time"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

// EventType names a domain event emitted by the lifecycle engine
type EventType string

const (
	EventGrantActivated   EventType = "grant.activated"
	EventGrantPending     EventType = "grant.pending_approval"
	EventGrantApproved    EventType = "grant.approved"
	EventGrantRejected    EventType = "grant.rejected"
	EventGrantExtended    EventType = "grant.extended"
	EventGrantRoleChanged EventType = "grant.role_changed"
	EventGrantRevoked     EventType = "grant.revoked"
	EventGrantExpired     EventType = "grant.expired"
	EventEditorDowngraded EventType = "grant.editor_downgraded"
	EventExpiryWarning    EventType = "grant.expiry_warning"
	EventUserRegistered   EventType = "user.registered"
	EventDailySummary     EventType = "summary.daily"
)

// Event is a lifecycle occurrence handed to notification and audit sinks
type Event struct {
	Type          EventType
	Grant         *Grant
	ClientID      int64
	Recipient     string
	RecipientName string
	ActorID       int64
	PreviousRole  roles.GA4Role
	Reason        string
	WarningDays   int
	Summary       *Summary
	OccurredAt    time.Time
}

// Summary aggregates grant counts for the daily admin report
type Summary struct {
	Date             time.Time      `json:"date"`
	ByStatus         map[Status]int `json:"by_status"`
	ExpiringIn7Days  int            `json:"expiring_in_7_days"`
	Unsynced         int            `json:"unsynced"`
	ElevatedActive   int            `json:"elevated_active"`
	PendingOlderThan int            `json:"pending_older_than_1_day"`
}
