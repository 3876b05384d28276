package api

import (
	"time"

	"github.com/platinummonkey/ga4access/pkg/ga4"
	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/users"
)

// CreateGrantRequest is the body of POST /api/v1/grants. An empty subject
// requests access for the caller.
type CreateGrantRequest struct {
	SubjectEmail   string `json:"subject_email"`
	PropertyID     string `json:"property_id"`
	Role           string `json:"role"`
	Reason         string `json:"reason,omitempty"`
	AdditionalDays int    `json:"additional_days,omitempty"`
}

// ExtendGrantRequest is the body of POST /api/v1/grants/{id}/extend. An
// empty role extends the current role.
type ExtendGrantRequest struct {
	Role           string `json:"role,omitempty"`
	AdditionalDays int    `json:"additional_days,omitempty"`
}

// ReasonRequest carries an optional free-text reason
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// GrantListResponse is a page of grants
type GrantListResponse struct {
	Grants []*grants.Grant `json:"grants"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// RegisterRequest is the body of POST /api/v1/users/register
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	ClientID int64  `json:"client_id,omitempty"`
}

// RegisterResponse returns the new user and the only copy of its token
type RegisterResponse struct {
	User      *users.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

// UpdateRoleRequest is the body of PUT /api/v1/admin/users/{id}/role
type UpdateRoleRequest struct {
	SystemRole string `json:"system_role"`
}

// BindingListResponse lists the access bindings on a property
type BindingListResponse struct {
	PropertyID string        `json:"property_id"`
	Bindings   []ga4.Binding `json:"bindings"`
}

// JobTriggerResponse reports a manual job run
type JobTriggerResponse struct {
	Job    string      `json:"job"`
	Result interface{} `json:"result"`
}
