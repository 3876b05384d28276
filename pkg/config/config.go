package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ga4access/pkg/ga4"
	"github.com/platinummonkey/ga4access/pkg/lifecycle"
	"github.com/platinummonkey/ga4access/pkg/middleware"
	"github.com/platinummonkey/ga4access/pkg/notify"
	"github.com/platinummonkey/ga4access/pkg/observability"
	"github.com/platinummonkey/ga4access/pkg/scheduler"
	"github.com/platinummonkey/ga4access/pkg/storage/postgres"
)

const envPrefix = "GA4ACCESS_"

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// GA4 providers
const (
	GA4ProviderAdmin  = "admin"
	GA4ProviderMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage StorageConfig

	// Observability configuration
	Observability ObservabilityConfig

	GA4       GA4Config
	Notify    NotifyConfig
	Scheduler SchedulerConfig

	// Policy is the grant policy after environment overrides and the policy file
	Policy Policy
	// EnvPolicy is the policy before the file was applied; file reloads
	// start from it
	EnvPolicy Policy
	// PolicyFile is an optional YAML policy watched for changes
	PolicyFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// TokenTTL is the lifetime of tokens issued at registration; zero never expires
	TokenTTL time.Duration
	// DefaultClientID is assigned to self-registered users that name no client
	DefaultClientID int64

	// Per-minute request limits; zero disables rate limiting
	UserRateLimit      int
	AnonymousRateLimit int
}

// StorageConfig selects and configures persistence
type StorageConfig struct {
	Type             string
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// RoleCacheTTL bounds how long a cached user role is trusted
	RoleCacheTTL  time.Duration
	RoleCacheSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// GA4Config configures the access binding provider
type GA4Config struct {
	Provider        string
	CredentialsFile string
	Subject         string
	Timeout         time.Duration
	ScanConcurrency int
}

// NotifyConfig configures outgoing mail
type NotifyConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTimeout  time.Duration

	Timezone string
	AppName  string
	AppURL   string
}

// SchedulerConfig holds cron schedules for the background scans
type SchedulerConfig struct {
	Enabled    bool
	Schedules  map[string]string
	JobTimeout time.Duration
}

// LoadConfig loads configuration from environment variables and the
// policy file, if one is named.
func LoadConfig() (*Config, error) {
	policy, err := loadPolicyFromEnv(DefaultPolicy())
	if err != nil {
		return nil, fmt.Errorf("invalid policy environment: %w", err)
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		GA4:           loadGA4Config(),
		Notify:        loadNotifyConfig(),
		Scheduler:     loadSchedulerConfig(),
		Policy:        policy,
		EnvPolicy:     policy.clone(),
		PolicyFile:    getEnv(envPrefix+"POLICY_FILE", ""),
	}

	if cfg.PolicyFile != "" {
		p, err := LoadPolicyFile(cfg.PolicyFile, policy)
		if err != nil {
			return nil, err
		}
		cfg.Policy = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv(envPrefix+"HOST", "0.0.0.0"),
		Port:            getEnv(envPrefix+"PORT", "8080"),
		ReadTimeout:     getEnvDuration(envPrefix+"READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration(envPrefix+"WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration(envPrefix+"IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration(envPrefix+"SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv(envPrefix+"HEALTH_PORT", "9090"),

		TokenTTL:           getEnvDuration(envPrefix+"TOKEN_TTL", 90*24*time.Hour),
		DefaultClientID:    int64(getEnvInt(envPrefix+"DEFAULT_CLIENT_ID", 0)),
		UserRateLimit:      getEnvInt(envPrefix+"USER_RATE_LIMIT", 600),
		AnonymousRateLimit: getEnvInt(envPrefix+"ANONYMOUS_RATE_LIMIT", 60),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	pg := postgres.DefaultConfig("")
	return StorageConfig{
		Type:             strings.ToLower(getEnv(envPrefix+"STORAGE_TYPE", StoragePostgres)),
		PostgresURL:      getEnv(envPrefix+"POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt(envPrefix+"POSTGRES_MAX_CONNS", pg.MaxConns),
		PostgresMinConns: getEnvInt(envPrefix+"POSTGRES_MIN_CONNS", pg.MinConns),
		PostgresTimeout:  getEnvDuration(envPrefix+"POSTGRES_TIMEOUT", pg.Timeout),
		RedisURL:         getEnv(envPrefix+"REDIS_URL", ""),
		RedisPassword:    getEnv(envPrefix+"REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt(envPrefix+"REDIS_DB", 0),
		RedisMaxRetries:  getEnvInt(envPrefix+"REDIS_MAX_RETRIES", 3),
		RedisPoolSize:    getEnvInt(envPrefix+"REDIS_POOL_SIZE", 10),
		RoleCacheTTL:     getEnvDuration(envPrefix+"ROLE_CACHE_TTL", time.Minute),
		RoleCacheSize:    getEnvInt(envPrefix+"ROLE_CACHE_SIZE", 1024),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           strings.ToLower(getEnv(envPrefix+"LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool(envPrefix+"METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool(envPrefix+"OTEL_ENABLED", false),
		OTelEndpoint:       getEnv(envPrefix+"OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv(envPrefix+"OTEL_SERVICE_NAME", "ga4access"),
		OTelServiceVersion: getEnv(envPrefix+"OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool(envPrefix+"OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat(envPrefix+"OTEL_SAMPLE_RATIO", 1),
	}
}

func loadGA4Config() GA4Config {
	return GA4Config{
		Provider:        strings.ToLower(getEnv(envPrefix+"GA4_PROVIDER", GA4ProviderAdmin)),
		CredentialsFile: getEnv(envPrefix+"GA4_CREDENTIALS_FILE", ""),
		Subject:         getEnv(envPrefix+"GA4_SUBJECT", ""),
		Timeout:         getEnvDuration(envPrefix+"GA4_TIMEOUT", 20*time.Second),
		ScanConcurrency: getEnvInt(envPrefix+"SCAN_CONCURRENCY", 4),
	}
}

func loadNotifyConfig() NotifyConfig {
	return NotifyConfig{
		SMTPHost:     getEnv(envPrefix+"SMTP_HOST", ""),
		SMTPPort:     getEnvInt(envPrefix+"SMTP_PORT", 587),
		SMTPUsername: getEnv(envPrefix+"SMTP_USERNAME", ""),
		SMTPPassword: getEnv(envPrefix+"SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv(envPrefix+"SMTP_FROM", ""),
		SMTPTimeout:  getEnvDuration(envPrefix+"SMTP_TIMEOUT", 30*time.Second),
		Timezone:     getEnv(envPrefix+"NOTIFY_TIMEZONE", "UTC"),
		AppName:      getEnv(envPrefix+"APP_NAME", "GA4 Access"),
		AppURL:       getEnv(envPrefix+"APP_URL", "http://localhost:8080"),
	}
}

var scheduleEnv = map[string]string{
	"WARN":      scheduler.JobScanAndWarn,
	"EXPIRE":    scheduler.JobScanAndExpire,
	"DOWNGRADE": scheduler.JobScanAndDowngradeEditors,
	"SUMMARY":   scheduler.JobRunDailySummary,
	"SYNC":      scheduler.JobRetryUnsynced,
}

func loadSchedulerConfig() SchedulerConfig {
	defaults := scheduler.DefaultConfig()
	cfg := SchedulerConfig{
		Enabled:    getEnvBool(envPrefix+"SCHEDULER_ENABLED", true),
		Schedules:  make(map[string]string, len(defaults.Schedules)),
		JobTimeout: getEnvDuration(envPrefix+"SCHEDULER_JOB_TIMEOUT", defaults.JobTimeout),
	}
	for job, spec := range defaults.Schedules {
		cfg.Schedules[job] = spec
	}
	for suffix, job := range scheduleEnv {
		if spec := getEnv(envPrefix+"SCHEDULE_"+suffix, ""); spec != "" {
			cfg.Schedules[job] = spec
		}
	}
	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.TokenTTL < 0 {
		return fmt.Errorf("token TTL must not be negative")
	}
	if c.Server.UserRateLimit < 0 || c.Server.AnonymousRateLimit < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be postgres or memory)", c.Storage.Type)
	}
	if c.Storage.RoleCacheTTL <= 0 {
		return fmt.Errorf("role cache TTL must be positive")
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	switch c.GA4.Provider {
	case GA4ProviderAdmin, GA4ProviderMemory:
	default:
		return fmt.Errorf("invalid GA4 provider: %s (must be admin or memory)", c.GA4.Provider)
	}
	if c.GA4.Timeout <= 0 {
		return fmt.Errorf("GA4 timeout must be positive")
	}
	if c.GA4.ScanConcurrency < 1 {
		return fmt.Errorf("scan concurrency must be at least 1")
	}

	if _, err := time.LoadLocation(c.Notify.Timezone); err != nil {
		return fmt.Errorf("invalid notification timezone %q: %w", c.Notify.Timezone, err)
	}
	if c.Notify.SMTPHost != "" && c.Notify.SMTPFrom == "" {
		return fmt.Errorf("SMTP from address is required when SMTP host is set")
	}

	if _, err := c.Lifecycle(); err != nil {
		return err
	}
	return c.Policy.Validate()
}

// Location returns the notification time zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Notify.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Lifecycle returns the engine configuration
func (c *Config) Lifecycle() (lifecycle.Config, error) {
	base := lifecycle.DefaultConfig()
	base.GA4Timeout = c.GA4.Timeout
	base.ScanConcurrency = c.GA4.ScanConcurrency
	cfg := c.Policy.Apply(base)
	if err := cfg.Validate(); err != nil {
		return lifecycle.Config{}, fmt.Errorf("invalid lifecycle policy: %w", err)
	}
	return cfg, nil
}

// SchedulerConfig returns the cron configuration evaluated in the
// notification time zone.
func (c *Config) SchedulerConfig() scheduler.Config {
	schedules := make(map[string]string, len(c.Scheduler.Schedules))
	for job, spec := range c.Scheduler.Schedules {
		schedules[job] = spec
	}
	return scheduler.Config{
		Schedules:  schedules,
		Location:   c.Location(),
		JobTimeout: c.Scheduler.JobTimeout,
	}
}

// RateLimits returns the per-minute limits for authenticated and anonymous
// callers. A nil config disables that limiter.
func (c *Config) RateLimits() (user, anonymous *middleware.RateLimitConfig) {
	perMinute := func(n int) *middleware.RateLimitConfig {
		if n <= 0 {
			return nil
		}
		return &middleware.RateLimitConfig{
			RequestsPerWindow: n,
			WindowDuration:    time.Minute,
			BurstSize:         n / 10,
		}
	}
	return perMinute(c.Server.UserRateLimit), perMinute(c.Server.AnonymousRateLimit)
}

// PostgresConfig returns the connection pool configuration
func (c *Config) PostgresConfig() postgres.Config {
	cfg := postgres.DefaultConfig(c.Storage.PostgresURL)
	if c.Storage.PostgresMaxConns > 0 {
		cfg.MaxConns = c.Storage.PostgresMaxConns
	}
	if c.Storage.PostgresMinConns > 0 {
		cfg.MinConns = c.Storage.PostgresMinConns
	}
	if c.Storage.PostgresTimeout > 0 {
		cfg.Timeout = c.Storage.PostgresTimeout
	}
	return cfg
}

// RedisConfig returns the shared Redis client configuration. Redis is
// optional; callers check RedisURL first.
func (c *Config) RedisConfig() postgres.RedisConfig {
	return postgres.RedisConfig{
		URL:        c.Storage.RedisURL,
		Password:   c.Storage.RedisPassword,
		DB:         c.Storage.RedisDB,
		MaxRetries: c.Storage.RedisMaxRetries,
		PoolSize:   c.Storage.RedisPoolSize,
	}
}

// SMTPConfig returns the mailer configuration
func (c *Config) SMTPConfig() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     c.Notify.SMTPHost,
		Port:     c.Notify.SMTPPort,
		Username: c.Notify.SMTPUsername,
		Password: c.Notify.SMTPPassword,
		From:     c.Notify.SMTPFrom,
		Timeout:  c.Notify.SMTPTimeout,
	}
}

// GA4AdminConfig returns the Admin API client configuration
func (c *Config) GA4AdminConfig() ga4.AdminConfig {
	return ga4.AdminConfig{
		CredentialsFile: c.GA4.CredentialsFile,
		Subject:         c.GA4.Subject,
		Timeout:         c.GA4.Timeout,
	}
}

// OTelConfig returns the tracing configuration
func (c *Config) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
