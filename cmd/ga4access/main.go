package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/ga4access/pkg/api"
	"github.com/platinummonkey/ga4access/pkg/app"
	"github.com/platinummonkey/ga4access/pkg/async"
	"github.com/platinummonkey/ga4access/pkg/config"
	"github.com/platinummonkey/ga4access/pkg/observability"
)

var checkConfig = flag.Bool("check-config", false, "Validate configuration and the policy file, then exit")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		logrus.WithError(err).Fatal("ga4access exited with error")
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if *checkConfig {
		fmt.Println("configuration OK")
		return nil
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err != nil {
		return err
	}
	async.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitOTel(ctx, cfg.OTelConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialise tracing: %w", err)
	}

	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		_ = observability.ShutdownOTel(context.Background(), tp)
		return err
	}

	handler, err := api.NewServer(application.APIDeps())
	if err != nil {
		_ = application.Close(context.Background())
		_ = observability.ShutdownOTel(context.Background(), tp)
		return err
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, application.HealthChecker())
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", application.Metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthMux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc("app", application.Close)
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, tp)
	})

	if cfg.Scheduler.Enabled {
		application.Scheduler.Start()
	} else {
		logger.Info("Scheduler disabled; jobs only run when triggered")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		g.Go(func() error {
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	if cfg.PolicyFile != "" {
		watcher := config.NewPolicyWatcher(cfg.PolicyFile, cfg.EnvPolicy, application.ApplyPolicy, logger)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown()
	})

	return g.Wait()
}
