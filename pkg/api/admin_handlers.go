package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ga4access/pkg/audit"
	"github.com/platinummonkey/ga4access/pkg/ga4"
	"github.com/platinummonkey/ga4access/pkg/httputil"
)

// listBindings handles GET /api/v1/admin/properties/{property}/bindings
func (s *Server) listBindings(w http.ResponseWriter, r *http.Request) {
	property := strings.TrimPrefix(mux.Vars(r)["property"], "properties/")
	if property == "" {
		httputil.WriteBadRequest(w, "property is required")
		return
	}

	bindings, err := s.deps.Provider.ListBindings(r.Context(), property)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if bindings == nil {
		bindings = []ga4.Binding{}
	}
	_ = httputil.WriteSuccess(w, BindingListResponse{PropertyID: property, Bindings: bindings})
}

// listJobs handles GET /api/v1/admin/jobs
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, map[string]interface{}{"jobs": s.deps.Jobs.Status()})
}

// triggerJob handles POST /api/v1/admin/jobs/{name}/trigger. The run is
// bound to the request, so a client disconnect cancels it.
func (s *Server) triggerJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	caller := actor(r)

	result, err := s.deps.Jobs.Trigger(r.Context(), name)

	event := &audit.AuditEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    audit.EventTypeAdminJobTrigger,
		Status:       audit.EventStatusSuccess,
		UserID:       &caller.ID,
		ResourceType: audit.ResourceTypeJob,
		ResourceID:   name,
		ResourceName: name,
	}
	if err != nil {
		event.Status = audit.EventStatusFailure
		event.ErrorMessage = err.Error()
	}
	s.recordAudit(r, event)

	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, JobTriggerResponse{Job: name, Result: result})
}
