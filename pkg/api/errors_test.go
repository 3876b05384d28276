package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/ga4access/pkg/ga4"
	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/lifecycle"
	"github.com/platinummonkey/ga4access/pkg/scheduler"
	"github.com/platinummonkey/ga4access/pkg/users"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid request", fmt.Errorf("%w: bad role", lifecycle.ErrInvalidRequest), http.StatusBadRequest},
		{"forbidden", fmt.Errorf("%w: not yours", lifecycle.ErrForbidden), http.StatusForbidden},
		{"grant not found", grants.ErrNotFound, http.StatusNotFound},
		{"user not found", users.ErrNotFound, http.StatusNotFound},
		{"unknown job", fmt.Errorf("%w: x", scheduler.ErrUnknownJob), http.StatusNotFound},
		{"conflict", &grants.ConflictError{SubjectEmail: "a@b.com", PropertyID: "1"}, http.StatusConflict},
		{"transition", &grants.TransitionError{GrantID: 1, From: grants.StatusRejected, To: grants.StatusActive}, http.StatusConflict},
		{"email taken", users.ErrEmailTaken, http.StatusConflict},
		{"job running", scheduler.ErrJobRunning, http.StatusConflict},
		{"extension limit", &grants.ExtensionLimitError{GrantID: 1, Max: 3}, http.StatusUnprocessableEntity},
		{"scheduler stopped", scheduler.ErrStopped, http.StatusServiceUnavailable},
		{"ga4 transient", &ga4.Error{Op: "grant", Kind: ga4.ErrTransient}, http.StatusBadGateway},
		{"ga4 rejected", fmt.Errorf("approve: %w", &ga4.Error{Op: "grant", Kind: ga4.ErrRejected}), http.StatusBadGateway},
		{"anything else", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: connection refused to 10.0.0.3"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.3")

	w = httptest.NewRecorder()
	writeError(w, httptest.NewRequest(http.MethodGet, "/", nil), grants.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), grants.ErrNotFound.Error())
}
