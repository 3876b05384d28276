package observability

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ga4access/pkg/ga4"
)

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTransition("PENDING_APPROVAL", "ACTIVE")
	m.RecordTransition("PENDING_APPROVAL", "ACTIVE")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GrantTransitionsTotal.WithLabelValues("PENDING_APPROVAL", "ACTIVE")))

	m.RecordGA4Call("grant", nil, 100*time.Millisecond)
	m.RecordGA4Call("grant", fmt.Errorf("wrapped: %w", ga4.ErrTransient), time.Second)
	m.RecordGA4Call("revoke", ga4.ErrNotFound, time.Millisecond)
	m.RecordGA4Call("update", errors.New("boom"), time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GA4CallsTotal.WithLabelValues("grant", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GA4CallsTotal.WithLabelValues("grant", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GA4CallsTotal.WithLabelValues("revoke", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GA4CallsTotal.WithLabelValues("update", "error")))

	m.RecordScan("scan_and_expire", 4, 1, time.Second)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ScanItemsTotal.WithLabelValues("scan_and_expire", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScanItemsTotal.WithLabelValues("scan_and_expire", "failed")))

	m.RecordJobRun("scan_and_warn", "success", time.Second)
	m.RecordJobRun("scan_and_warn", "skipped", 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("scan_and_warn", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("scan_and_warn", "skipped")))
	assert.Greater(t, testutil.ToFloat64(m.JobLastSuccessTime.WithLabelValues("scan_and_warn")), 0.0)

	m.RecordNotification("expiry_warning_7", "sent")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("expiry_warning_7", "sent")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordTransition("ACTIVE", "EXPIRED")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.Contains(t, string(body), `ga4access_grant_transitions_total{from="ACTIVE",to="EXPIRED"} 1`)
}

func TestHTTPMetricsMiddleware_RouteLabel(t *testing.T) {
	m := NewMetrics(nil)
	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/v1/grants/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"1", "2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/grants/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/grants/{id}", "404")))
}
