// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Logging
//
//	logger, err := observability.NewLogger(cfg.LogLevel, os.Stdout)
//
// Inside a request, FromContext returns the entry created by
// httputil.LoggingMiddleware with user and trace IDs added:
//
//	observability.FromContext(r.Context()).WithField("grant_id", id).Info("grant approved")
//
// # Metrics
//
// Metrics implements lifecycle.Metrics, scheduler.Metrics and
// notify.Metrics, so one value is passed to every component:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RegisterDBStats(db, "ga4access")
//	mux.Handle("/metrics", metrics.Handler())
//
// # Health
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(mux, checker) // /healthz, /readyz
//
// A database failure fails readiness; a Redis failure reports degraded.
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second, apiServer, healthServer)
//	sm.RegisterShutdownFunc("scheduler", sched.Stop)
//	sm.RegisterShutdownFunc("postgres", func(context.Context) error { return db.Close() })
//	err := sm.WaitForShutdown(ctx)
//
// Servers drain first, then functions run in registration order.
package observability
