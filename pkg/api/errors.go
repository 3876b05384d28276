package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/ga4access/pkg/ga4"
	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/httputil"
	"github.com/platinummonkey/ga4access/pkg/lifecycle"
	"github.com/platinummonkey/ga4access/pkg/observability"
	"github.com/platinummonkey/ga4access/pkg/scheduler"
	"github.com/platinummonkey/ga4access/pkg/users"
)

// statusFor maps a domain error onto an HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, grants.ErrNotFound), errors.Is(err, users.ErrNotFound), errors.Is(err, scheduler.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, grants.ErrConflict), errors.Is(err, grants.ErrInvalidTransition),
		errors.Is(err, users.ErrEmailTaken), errors.Is(err, scheduler.ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, grants.ErrExtensionLimit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable
	case ga4.IsTransient(err), errors.Is(err, ga4.ErrNotFound), errors.Is(err, ga4.ErrRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError writes err as a JSON error. Server errors are logged and their
// detail withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("Request failed")
		if status == http.StatusInternalServerError {
			httputil.WriteInternalError(w)
			return
		}
		httputil.WriteErrorMessage(w, status, http.StatusText(status))
		return
	}
	httputil.WriteErrorMessage(w, status, err.Error())
}
