package observability

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/ga4access/pkg/ga4"
)

const namespace = "ga4access"

// Metrics holds all Prometheus metrics. It satisfies the metrics interfaces
// of the lifecycle, scheduler and notify packages.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Grant metrics
	GrantTransitionsTotal *prometheus.CounterVec
	GA4CallsTotal         *prometheus.CounterVec
	GA4CallDuration       *prometheus.HistogramVec

	// Scan and scheduler metrics
	ScanItemsTotal     *prometheus.CounterVec
	ScanDuration       *prometheus.HistogramVec
	JobRunsTotal       *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	JobLastSuccessTime *prometheus.GaugeVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on registry. A nil registry
// gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		GrantTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "grant_transitions_total",
				Help:      "Grant status transitions",
			},
			[]string{"from", "to"},
		),
		GA4CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ga4_calls_total",
				Help:      "GA4 Admin API calls by operation and result",
			},
			[]string{"operation", "result"},
		),
		GA4CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ga4_call_duration_seconds",
				Help:      "GA4 Admin API call duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),

		ScanItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scan_items_total",
				Help:      "Grants processed by lifecycle scans",
			},
			[]string{"scan", "result"},
		),
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Lifecycle scan duration in seconds",
				Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"scan"},
		),
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_job_runs_total",
				Help:      "Scheduler job runs by outcome",
			},
			[]string{"job", "outcome"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scheduler_job_duration_seconds",
				Help:      "Scheduler job duration in seconds",
				Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 900, 1800},
			},
			[]string{"job"},
		),
		JobLastSuccessTime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_job_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run of each job",
			},
			[]string{"job"},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification attempts by type and outcome",
			},
			[]string{"type", "outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GrantTransitionsTotal,
		m.GA4CallsTotal,
		m.GA4CallDuration,
		m.ScanItemsTotal,
		m.ScanDuration,
		m.JobRunsTotal,
		m.JobDuration,
		m.JobLastSuccessTime,
		m.NotificationsTotal,
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBStats exports connection pool statistics of db
func (m *Metrics) RegisterDBStats(db *sql.DB, name string) {
	m.registry.MustRegister(collectors.NewDBStatsCollector(db, name))
}

// RecordTransition counts a grant status change
func (m *Metrics) RecordTransition(from, to string) {
	m.GrantTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordGA4Call records one provider call
func (m *Metrics) RecordGA4Call(op string, err error, duration time.Duration) {
	m.GA4CallsTotal.WithLabelValues(op, ga4Result(err)).Inc()
	m.GA4CallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func ga4Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ga4.ErrNotFound):
		return "not_found"
	case errors.Is(err, ga4.ErrAlreadyGranted):
		return "already_granted"
	case ga4.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

// RecordScan records one lifecycle scan run
func (m *Metrics) RecordScan(scan string, succeeded, failed int, duration time.Duration) {
	m.ScanItemsTotal.WithLabelValues(scan, "succeeded").Add(float64(succeeded))
	m.ScanItemsTotal.WithLabelValues(scan, "failed").Add(float64(failed))
	m.ScanDuration.WithLabelValues(scan).Observe(duration.Seconds())
}

// RecordJobRun records one scheduler job run
func (m *Metrics) RecordJobRun(job, outcome string, duration time.Duration) {
	m.JobRunsTotal.WithLabelValues(job, outcome).Inc()
	if outcome == "skipped" {
		return
	}
	m.JobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if outcome == "success" {
		m.JobLastSuccessTime.WithLabelValues(job).SetToCurrentTime()
	}
}

// RecordNotification counts one notification attempt
func (m *Metrics) RecordNotification(notificationType, outcome string) {
	m.NotificationsTotal.WithLabelValues(notificationType, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests, labelled by route template
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
