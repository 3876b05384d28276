package api

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/ga4access/pkg/async"
	"github.com/platinummonkey/ga4access/pkg/audit"
	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/httputil"
	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/users"
)

const welcomeTimeout = 30 * time.Second

// registerUser handles POST /api/v1/users/register
func (s *Server) registerUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil || addr.Name != "" {
		httputil.WriteBadRequest(w, "email must be a plain address")
		return
	}
	clientID := req.ClientID
	if clientID == 0 {
		clientID = s.deps.DefaultClientID
	}
	if clientID <= 0 {
		httputil.WriteBadRequest(w, "client_id is required")
		return
	}

	u := &users.User{
		Email:      grants.NormalizeEmail(addr.Address),
		Name:       strings.TrimSpace(req.Name),
		SystemRole: roles.SystemRequester,
		ClientID:   clientID,
		Status:     users.StatusActive,
	}
	if err := s.deps.Users.Create(r.Context(), u); err != nil {
		writeError(w, r, err)
		return
	}

	token, stored, err := s.deps.Tokens.CreateToken(r.Context(), u.ID, s.deps.TokenTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}

	event := &audit.AuditEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    audit.EventTypeAdminUserCreate,
		Status:       audit.EventStatusSuccess,
		UserID:       &u.ID,
		ClientID:     &u.ClientID,
		ResourceType: audit.ResourceTypeUser,
		ResourceID:   strconv.FormatInt(u.ID, 10),
		ResourceName: u.Email,
		Message:      "user registered",
		Metadata:     map[string]interface{}{"token_prefix": stored.Prefix},
	}
	s.recordAudit(r, event)

	if s.deps.Notifier != nil {
		ev := grants.Event{
			Type:          grants.EventUserRegistered,
			ClientID:      u.ClientID,
			Recipient:     u.Email,
			RecipientName: u.Name,
			OccurredAt:    time.Now(),
		}
		async.SafeGo(r.Context(), welcomeTimeout, "welcome notification", func(ctx context.Context) error {
			_, err := s.deps.Notifier.HandleEvent(ctx, ev)
			return err
		})
	}

	_ = httputil.WriteCreated(w, RegisterResponse{User: u, Token: token, ExpiresAt: stored.ExpiresAt})
}

// getCurrentUser handles GET /api/v1/users/me
func (s *Server) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, actor(r))
}

// updateUserRole handles PUT /api/v1/admin/users/{id}/role
func (s *Server) updateUserRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := roles.ParseSystemRole(req.SystemRole)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	caller := actor(r)
	if caller.ID == id {
		httputil.WriteBadRequest(w, "cannot change your own role")
		return
	}

	before, err := s.deps.Users.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.deps.Users.UpdateSystemRole(r.Context(), id, role)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			httputil.WriteNotFound(w, "user not found")
			return
		}
		writeError(w, r, err)
		return
	}

	s.recordAudit(r, &audit.AuditEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    audit.EventTypeAdminRoleChange,
		Status:       audit.EventStatusSuccess,
		UserID:       &caller.ID,
		ClientID:     &updated.ClientID,
		ResourceType: audit.ResourceTypeUser,
		ResourceID:   strconv.FormatInt(updated.ID, 10),
		ResourceName: updated.Email,
		Changes: &audit.ChangeDetails{
			Before: map[string]interface{}{"system_role": string(before.SystemRole)},
			After:  map[string]interface{}{"system_role": string(updated.SystemRole)},
		},
	})

	_ = httputil.WriteSuccess(w, updated)
}
