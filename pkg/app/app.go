package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ga4access/pkg/api"
	"github.com/platinummonkey/ga4access/pkg/audit"
	"github.com/platinummonkey/ga4access/pkg/auth"
	"github.com/platinummonkey/ga4access/pkg/config"
	"github.com/platinummonkey/ga4access/pkg/ga4"
	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/lifecycle"
	"github.com/platinummonkey/ga4access/pkg/middleware"
	"github.com/platinummonkey/ga4access/pkg/notify"
	"github.com/platinummonkey/ga4access/pkg/observability"
	"github.com/platinummonkey/ga4access/pkg/rbac"
	"github.com/platinummonkey/ga4access/pkg/scheduler"
	"github.com/platinummonkey/ga4access/pkg/storage/postgres"
	"github.com/platinummonkey/ga4access/pkg/users"
)

// App holds every long-lived component of the service
type App struct {
	Config  *config.Config
	Logger  *logrus.Logger
	Metrics *observability.Metrics
	Clock   clockwork.Clock

	// DB and Redis are nil when the matching backend is not configured
	DB    *sql.DB
	Redis *redis.Client

	Users      *rbac.Checker
	Grants     grants.Repository
	Provider   ga4.Provider
	Audit      audit.Logger
	AuditStore audit.Store
	Dispatcher *notify.Dispatcher
	Engine     *lifecycle.Engine
	Scheduler  *scheduler.Scheduler
	Tokens     *auth.TokenManager

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Options override collaborators, mostly for tests
type Options struct {
	Clock    clockwork.Clock
	Provider ga4.Provider
	Mailer   notify.Mailer
	Metrics  *observability.Metrics
}

// New builds the service from cfg. On error, anything already opened is
// closed again.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: opts.Metrics,
		Clock:   opts.Clock,
	}
	if a.Metrics == nil {
		a.Metrics = observability.NewMetrics(nil)
	}
	if a.Clock == nil {
		a.Clock = clockwork.NewRealClock()
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.openProvider(ctx, opts.Provider); err != nil {
		return nil, err
	}
	if err := a.openNotifier(opts.Mailer); err != nil {
		return nil, err
	}

	lcfg, err := cfg.Lifecycle()
	if err != nil {
		return nil, err
	}
	a.Engine, err = lifecycle.New(lcfg, lifecycle.Deps{
		Repo:     a.Grants,
		Provider: a.Provider,
		Users:    a.Users,
		Notifier: a.Dispatcher,
		Audit:    a.Audit,
		Clock:    a.Clock,
		Logger:   logger,
		Metrics:  a.Metrics,
	})
	if err != nil {
		return nil, err
	}

	a.Scheduler, err = scheduler.New(cfg.SchedulerConfig(), scheduler.LifecycleJobs(a.Engine), scheduler.Options{
		Logger:  logger,
		Clock:   a.Clock,
		Metrics: a.Metrics,
	})
	if err != nil {
		return nil, err
	}
	a.addCloser("scheduler", a.Scheduler.Stop)

	a.Tokens = auth.NewTokenManager(a.Users, a.Clock)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	var store users.Store

	switch a.Config.Storage.Type {
	case config.StorageMemory:
		memAudit := audit.NewMemoryLogger()
		store = users.NewMemoryStore()
		a.Grants = grants.NewMemoryRepository()
		a.Audit = audit.NewMultiLogger(memAudit, audit.NewLogrusLogger(a.Logger))
		a.AuditStore = memAudit

	case config.StoragePostgres:
		db, err := postgres.Open(a.Config.PostgresConfig())
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.DB = db
		a.addCloser("postgres", func(context.Context) error { return db.Close() })
		a.Metrics.RegisterDBStats(db, "ga4access")

		for _, m := range []struct {
			component  string
			migrations []postgres.Migration
		}{
			{"users", users.Migrations()},
			{"grants", grants.Migrations()},
			{"audit", audit.Migrations()},
			{"notify", notify.Migrations()},
		} {
			if err := postgres.Migrate(ctx, db, m.component, m.migrations); err != nil {
				return err
			}
		}

		dbAudit, err := audit.NewDBLogger(db)
		if err != nil {
			return err
		}
		store = users.NewPostgresStore(db)
		a.Grants = grants.NewPostgresRepository(db)
		a.Audit = audit.NewMultiLogger(dbAudit, audit.NewLogrusLogger(a.Logger))
		a.AuditStore = dbAudit

	default:
		return fmt.Errorf("unknown storage type %q", a.Config.Storage.Type)
	}

	if a.Config.Storage.RedisURL != "" {
		client, err := postgres.NewRedisClient(ctx, a.Config.RedisConfig())
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Redis = client
		a.addCloser("redis", func(context.Context) error { return client.Close() })
	}

	a.Users = rbac.NewChecker(store, rbac.CheckerConfig{
		TTL:   a.Config.Storage.RoleCacheTTL,
		Size:  a.Config.Storage.RoleCacheSize,
		Redis: a.Redis,
	}, a.Logger)
	return nil
}

func (a *App) openProvider(ctx context.Context, override ga4.Provider) error {
	if override != nil {
		a.Provider = override
		return nil
	}
	switch a.Config.GA4.Provider {
	case config.GA4ProviderMemory:
		a.Logger.Warn("Using the in-memory GA4 provider; no real access will be granted")
		a.Provider = ga4.NewMemoryProvider()
	case config.GA4ProviderAdmin:
		p, err := ga4.NewAdminProvider(ctx, a.Config.GA4AdminConfig(), a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create GA4 admin client: %w", err)
		}
		a.Provider = p
	default:
		return fmt.Errorf("unknown GA4 provider %q", a.Config.GA4.Provider)
	}
	return nil
}

func (a *App) openNotifier(mailer notify.Mailer) error {
	if mailer == nil {
		if a.Config.Notify.SMTPHost != "" {
			m, err := notify.NewSMTPMailer(a.Config.SMTPConfig())
			if err != nil {
				return err
			}
			mailer = m
		} else {
			a.Logger.Warn("No SMTP host configured; notifications are only logged")
			mailer = notify.NewLogMailer(a.Logger)
		}
	}

	renderer, err := notify.NewRenderer(a.Config.Notify.AppName, a.Config.Notify.AppURL)
	if err != nil {
		return err
	}

	var logs notify.LogStore = notify.NewMemoryLogStore()
	if a.DB != nil {
		logs = notify.NewPostgresLogStore(a.DB)
	}

	a.Dispatcher, err = notify.NewDispatcher(notify.DispatcherConfig{
		Logs:     logs,
		Mailer:   mailer,
		Users:    a.Users,
		Renderer: renderer,
		Clock:    a.Clock,
		Location: a.Config.Location(),
		Logger:   a.Logger,
		Metrics:  a.Metrics,
		Enabled:  a.Config.Policy.NotificationToggles(),
	})
	return err
}

// ApplyPolicy swaps the grant policy and notification switches at runtime
func (a *App) ApplyPolicy(p config.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := a.Engine.SetConfig(p.Apply(a.Engine.Config())); err != nil {
		return err
	}
	a.Dispatcher.SetEnabled(p.NotificationToggles())
	return nil
}

// RateLimiter returns the request limiter, shared through Redis when it is
// configured. It returns nil when both limits are disabled.
func (a *App) RateLimiter() *middleware.RateLimitMiddleware {
	userCfg, anonCfg := a.Config.RateLimits()
	if userCfg == nil && anonCfg == nil {
		return nil
	}
	build := func(cfg *middleware.RateLimitConfig, prefix string) middleware.Limiter {
		if cfg == nil {
			return nil
		}
		if a.Redis != nil {
			return middleware.NewDistributedRateLimiter(a.Redis, cfg, prefix)
		}
		return middleware.NewRateLimiter(cfg, a.Clock)
	}
	return middleware.NewRateLimitMiddleware(build(userCfg, "ratelimit:user"), build(anonCfg, "ratelimit:anon"), a.Logger)
}

// APIDeps returns the collaborators of the HTTP API
func (a *App) APIDeps() api.Deps {
	return api.Deps{
		Engine:          a.Engine,
		Grants:          a.Grants,
		Users:           a.Users,
		Tokens:          a.Tokens,
		Provider:        a.Provider,
		Jobs:            a.Scheduler,
		Notifier:        a.Dispatcher,
		Audit:           a.Audit,
		AuditStore:      a.AuditStore,
		RateLimit:       a.RateLimiter(),
		Metrics:         a.Metrics,
		Logger:          a.Logger,
		TokenTTL:        a.Config.Server.TokenTTL,
		DefaultClientID: a.Config.Server.DefaultClientID,
	}
}

// HealthChecker reports on the configured backends
func (a *App) HealthChecker() *observability.HealthChecker {
	return observability.NewHealthChecker(a.DB, a.Redis)
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases resources in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
