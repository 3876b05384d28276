// Package config provides application configuration management from environment variables.
//
// # Overview
//
// Every setting is read from a GA4ACCESS_ prefixed environment variable with a
// sensible default. The grant policy may additionally come from a YAML file
// that is watched and reloaded at runtime.
//
// # Configuration Structure
//
// Server settings:
//
//	GA4ACCESS_HOST="0.0.0.0"
//	GA4ACCESS_PORT="8080"
//	GA4ACCESS_HEALTH_PORT="9090"
//	GA4ACCESS_READ_TIMEOUT="15s"
//	GA4ACCESS_WRITE_TIMEOUT="30s"
//
// Storage settings:
//
//	GA4ACCESS_STORAGE_TYPE="postgres"  # postgres, memory
//	GA4ACCESS_POSTGRES_URL="postgres://localhost/ga4access"
//	GA4ACCESS_POSTGRES_MAX_CONNS="20"
//	GA4ACCESS_REDIS_URL="redis://localhost:6379"
//	GA4ACCESS_ROLE_CACHE_TTL="1m"
//
// GA4 and notifications:
//
//	GA4ACCESS_GA4_PROVIDER="admin"  # admin, memory
//	GA4ACCESS_GA4_CREDENTIALS_FILE="/etc/ga4access/sa.json"
//	GA4ACCESS_GA4_SUBJECT="automation@example.com"
//	GA4ACCESS_SMTP_HOST="smtp.example.com"
//	GA4ACCESS_NOTIFY_TIMEZONE="Europe/Berlin"
//
// Scheduler:
//
//	GA4ACCESS_SCHEDULER_ENABLED="true"
//	GA4ACCESS_SCHEDULE_WARN="0 * * * *"
//	GA4ACCESS_SCHEDULE_DOWNGRADE="0 2 * * *"
//
// Observability settings:
//
//	GA4ACCESS_LOG_LEVEL="info"  # debug, info, warn, error
//	GA4ACCESS_METRICS_ENABLED="true"
//	GA4ACCESS_OTEL_ENABLED="true"
//	GA4ACCESS_OTEL_ENDPOINT="otel-collector:4317"
//
// # Policy
//
// The policy can be set with GA4ACCESS_MAX_EXTENSIONS,
// GA4ACCESS_WARNING_THRESHOLD_DAYS="30,7,1,0",
// GA4ACCESS_DEFAULT_DURATION_DAYS="viewer=14,editor=7" and friends, or with a
// file named by GA4ACCESS_POLICY_FILE:
//
//	default_duration_days:
//	  viewer: 14
//	  analyst: 30
//	max_extensions: 3
//	warning_threshold_days: [30, 7, 1, 0]
//	editor_downgrade_after_days: 7
//	downgrade_administrators: true
//	notification_types_enabled:
//	  welcome: false
//
// Keys present in the file win over the environment.
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	lc, _ := cfg.Lifecycle()
//	engine, err := lifecycle.New(lc, deps)
//
// # Related Packages
//
//   - pkg/lifecycle: Consumes the grant policy
//   - pkg/notify: Consumes notification toggles and SMTP settings
//   - pkg/scheduler: Consumes cron schedules
package config
