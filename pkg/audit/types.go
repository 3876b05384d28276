package audit

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/platinummonkey/ga4access/pkg/grants"
)

// EventType represents the category of audit event
type EventType string

const (
	// Grant lifecycle events
	EventTypeGrantRequested   EventType = "grant.requested"
	EventTypeGrantActivated   EventType = "grant.activated"
	EventTypeGrantApproved    EventType = "grant.approved"
	EventTypeGrantRejected    EventType = "grant.rejected"
	EventTypeGrantExtended    EventType = "grant.extended"
	EventTypeGrantRoleChanged EventType = "grant.role_changed"
	EventTypeGrantRevoked     EventType = "grant.revoked"
	EventTypeGrantExpired     EventType = "grant.expired"
	EventTypeGrantDowngraded  EventType = "grant.downgraded"
	EventTypeGrantSynced      EventType = "grant.ga4_synced"
	EventTypeGrantSyncFailed  EventType = "grant.ga4_sync_failed"

	// Admin events
	EventTypeAdminRoleChange  EventType = "admin.role_change"
	EventTypeAdminJobTrigger  EventType = "admin.job_trigger"
	EventTypeAdminUserCreate  EventType = "admin.user_create"
	EventTypeAuthTokenCreate  EventType = "auth.token_create"
	EventTypeAuthAccessDenied EventType = "auth.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being acted on
type ResourceType string

const (
	ResourceTypeGrant ResourceType = "grant"
	ResourceTypeUser  ResourceType = "user"
	ResourceTypeToken ResourceType = "token"
	ResourceTypeJob   ResourceType = "job"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor; nil for scheduler-driven changes
	UserID   *int64 `json:"user_id,omitempty"`
	ClientID *int64 `json:"client_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	ResourceName string       `json:"resource_name,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewGrantEvent builds an event for a grant. actorID is nil when the
// scheduler made the change.
func NewGrantEvent(eventType EventType, status EventStatus, actorID *int64, g *grants.Grant) *AuditEvent {
	event := &AuditEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		Status:       status,
		UserID:       actorID,
		ResourceType: ResourceTypeGrant,
		Metadata:     make(map[string]interface{}),
	}
	if g != nil {
		clientID := g.ClientID
		event.ClientID = &clientID
		event.ResourceID = strconv.FormatInt(g.ID, 10)
		event.ResourceName = g.SubjectEmail + "@" + g.PropertyID
		event.Metadata["ga4_role"] = string(g.Role)
		event.Metadata["status"] = string(g.Status)
	}
	return event
}

// StatusChange records a status transition
func StatusChange(from, to grants.Status) *ChangeDetails {
	return &ChangeDetails{
		Before: map[string]interface{}{"status": string(from)},
		After:  map[string]interface{}{"status": string(to)},
	}
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	UserID   *int64
	ClientID *int64

	EventTypes []EventType
	Status     *EventStatus

	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int
}

// Matches reports whether event satisfies the filter, ignoring paging
func (f SearchFilter) Matches(e *AuditEvent) bool {
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.UserID != nil && (e.UserID == nil || *e.UserID != *f.UserID) {
		return false
	}
	if f.ClientID != nil && (e.ClientID == nil || *e.ClientID != *f.ClientID) {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	return true
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)
