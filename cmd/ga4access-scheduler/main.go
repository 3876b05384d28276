package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ga4access/pkg/app"
	"github.com/platinummonkey/ga4access/pkg/async"
	"github.com/platinummonkey/ga4access/pkg/config"
	"github.com/platinummonkey/ga4access/pkg/observability"
	"github.com/platinummonkey/ga4access/pkg/scheduler"
)

var (
	runOnce = flag.Bool("run-once", false, "Run jobs once and exit instead of scheduling them")
	jobName = flag.String("job", "", "Job to run with --run-once ("+strings.Join(scheduler.JobNames(), ", ")+"). If empty, every job runs in order.")
)

// runOrder mirrors a day of scheduled runs: warnings before expiry so a
// grant expiring today still gets its last warning.
var runOrder = []string{
	scheduler.JobRetryUnsynced,
	scheduler.JobScanAndWarn,
	scheduler.JobScanAndExpire,
	scheduler.JobScanAndDowngradeEditors,
	scheduler.JobRunDailySummary,
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		logrus.WithError(err).Fatal("ga4access-scheduler exited with error")
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err != nil {
		return err
	}
	async.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(context.Background()); err != nil {
			logger.WithError(err).Warn("Shutdown incomplete")
		}
	}()

	if *runOnce {
		jobs := runOrder
		if *jobName != "" {
			jobs = []string{*jobName}
		}
		for _, name := range jobs {
			log := logger.WithField("job", name)
			log.Info("Running job")
			res, err := application.Scheduler.Trigger(ctx, name)
			if err != nil {
				return fmt.Errorf("job %s: %w", name, err)
			}
			out, _ := json.Marshal(res)
			log.WithField("result", string(out)).Info("Job completed")
		}
		return nil
	}

	application.Scheduler.Start()
	for _, st := range application.Scheduler.Status() {
		logger.WithFields(logrus.Fields{"job": st.Name, "schedule": st.Schedule}).Info("Job scheduled")
	}

	if cfg.PolicyFile != "" {
		watcher := config.NewPolicyWatcher(cfg.PolicyFile, cfg.EnvPolicy, application.ApplyPolicy, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.WithError(err).Error("Policy watcher stopped")
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return application.Scheduler.Stop(stopCtx)
}
