package audit

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ga4access/pkg/httputil"
)

// Handlers provides HTTP handlers for audit log API
type Handlers struct {
	store  Store
	logger *logrus.Logger
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store, logger *logrus.Logger) *Handlers {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handlers{
		store:  store,
		logger: logger,
	}
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WithError(err).WithField("request_id", httputil.RequestID(r)).Error("Audit query failed")
	httputil.WriteInternalError(w)
}

// RegisterRoutes registers audit log routes. Callers are expected to mount
// them behind an admin-only subrouter.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods("GET")
	router.HandleFunc("/audit/events/{id}", h.getEvent).Methods("GET")
	router.HandleFunc("/audit/export", h.exportEvents).Methods("GET")
}

// listEvents handles GET /audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter := ParseFilter(r)

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getEvent handles GET /audit/events/{id}
func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	event, err := h.store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "event not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	_ = httputil.WriteSuccess(w, event)
}

// exportEvents handles GET /audit/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	filter := ParseFilter(r)

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}

	switch format {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
	default:
		httputil.WriteBadRequest(w, "format must be json, csv or ndjson")
		return
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.json")
	}

	_, _ = w.Write(data)
}

// ParseFilter parses a search filter from query parameters. Malformed
// values are ignored.
func ParseFilter(r *http.Request) SearchFilter {
	query := r.URL.Query()
	filter := SearchFilter{}

	if startStr := query.Get("start_time"); startStr != "" {
		if t, err := time.Parse(time.RFC3339, startStr); err == nil {
			filter.StartTime = &t
		}
	}

	if endStr := query.Get("end_time"); endStr != "" {
		if t, err := time.Parse(time.RFC3339, endStr); err == nil {
			filter.EndTime = &t
		}
	}

	if userIDStr := query.Get("user_id"); userIDStr != "" {
		if userID, err := strconv.ParseInt(userIDStr, 10, 64); err == nil {
			filter.UserID = &userID
		}
	}

	if clientIDStr := query.Get("client_id"); clientIDStr != "" {
		if clientID, err := strconv.ParseInt(clientIDStr, 10, 64); err == nil {
			filter.ClientID = &clientID
		}
	}

	if eventTypesStr := query.Get("event_types"); eventTypesStr != "" {
		for _, et := range strings.Split(eventTypesStr, ",") {
			if et = strings.TrimSpace(et); et != "" {
				filter.EventTypes = append(filter.EventTypes, EventType(et))
			}
		}
	}

	if statusStr := query.Get("status"); statusStr != "" {
		status := EventStatus(statusStr)
		filter.Status = &status
	}

	filter.ResourceType = ResourceType(query.Get("resource_type"))
	filter.ResourceID = query.Get("resource_id")
	if grantID := query.Get("grant_id"); grantID != "" {
		filter.ResourceType = ResourceTypeGrant
		filter.ResourceID = grantID
	}

	filter.Limit = 100
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	return filter
}
