package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/httputil"
	"github.com/platinummonkey/ga4access/pkg/lifecycle"
	"github.com/platinummonkey/ga4access/pkg/rbac"
	"github.com/platinummonkey/ga4access/pkg/roles"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// requestGrant handles POST /api/v1/grants
func (s *Server) requestGrant(w http.ResponseWriter, r *http.Request) {
	var req CreateGrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	caller := actor(r)

	subject := req.SubjectEmail
	if strings.TrimSpace(subject) == "" {
		subject = caller.Email
	}
	role, err := roles.ParseGA4Role(req.Role)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result, err := s.deps.Engine.RequestGrant(r.Context(), lifecycle.RequestInput{
		SubjectEmail:   subject,
		PropertyID:     req.PropertyID,
		Role:           role,
		Reason:         req.Reason,
		RequesterID:    caller.ID,
		AdditionalDays: req.AdditionalDays,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	_ = httputil.WriteJSON(w, status, result)
}

// listGrants handles GET /api/v1/grants
func (s *Server) listGrants(w http.ResponseWriter, r *http.Request) {
	filter, err := parseGrantFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	rbac.ScopeGrantFilter(actor(r), &filter)

	list, err := s.deps.Grants.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := s.deps.Grants.CountByFilters(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*grants.Grant{}
	}

	_ = httputil.WriteSuccess(w, GrantListResponse{
		Grants: list,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func parseGrantFilter(r *http.Request) (grants.ListFilter, error) {
	q := r.URL.Query()
	filter := grants.ListFilter{
		SubjectEmail: q.Get("subject_email"),
		PropertyID:   strings.TrimPrefix(strings.TrimSpace(q.Get("property_id")), "properties/"),
	}

	for _, raw := range splitList(q["status"]) {
		st, ok := grants.ParseStatus(raw)
		if !ok {
			return filter, fmt.Errorf("unknown status %q", raw)
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	for _, raw := range splitList(q["role"]) {
		role, err := roles.ParseGA4Role(raw)
		if err != nil {
			return filter, err
		}
		filter.Roles = append(filter.Roles, role)
	}

	var err error
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", defaultPageSize); err != nil {
		return filter, err
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	if filter.Limit < 1 || filter.Limit > maxPageSize {
		return filter, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
	}
	if filter.Offset < 0 {
		return filter, fmt.Errorf("offset must not be negative")
	}
	return filter, nil
}

// splitList accepts both repeated and comma separated query values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// grantSummary handles GET /api/v1/grants/summary
func (s *Server) grantSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Engine.Summary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, summary)
}

// getGrant handles GET /api/v1/grants/{id}
func (s *Server) getGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	g, err := s.deps.Grants.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Hide grants the caller cannot see rather than confirming they exist
	if !rbac.CanViewGrant(actor(r), g) {
		writeError(w, r, grants.ErrNotFound)
		return
	}
	_ = httputil.WriteSuccess(w, g)
}

// approveGrant handles POST /api/v1/grants/{id}/approve
func (s *Server) approveGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	g, err := s.deps.Engine.Approve(r.Context(), id, actor(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, g)
}

// rejectGrant handles POST /api/v1/grants/{id}/reject
func (s *Server) rejectGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	g, err := s.deps.Engine.Reject(r.Context(), id, actor(r).ID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, g)
}

// extendGrant handles POST /api/v1/grants/{id}/extend
func (s *Server) extendGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req ExtendGrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	in := lifecycle.ExtendInput{GrantID: id, AdditionalDays: req.AdditionalDays, ActorID: actor(r).ID}
	if req.Role != "" {
		role, err := roles.ParseGA4Role(req.Role)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		in.Role = role
	}

	g, err := s.deps.Engine.ExtendOrChangeRole(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, g)
}

// revokeGrant handles POST /api/v1/grants/{id}/revoke
func (s *Server) revokeGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	g, err := s.deps.Engine.Revoke(r.Context(), id, actor(r).ID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, g)
}
