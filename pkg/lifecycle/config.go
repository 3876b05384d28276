package lifecycle

import (
	"fmt"
	"time"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

const day = 24 * time.Hour

// Config holds the deployment policy applied by the engine
type Config struct {
	// DefaultDurations is the lifetime of a newly activated grant per role
	DefaultDurations map[roles.GA4Role]time.Duration
	// MaxExtensions caps same-role extensions per grant
	MaxExtensions int
	// WarningThresholds are the day counts before expiry that trigger a warning
	WarningThresholds []int
	// DowngradeAfter is how long elevated access lasts before it is narrowed to viewer
	DowngradeAfter time.Duration
	// DowngradeAdministrators includes administrator grants in the downgrade scan
	DowngradeAdministrators bool
	// GA4Timeout bounds each GA4 call
	GA4Timeout time.Duration
	// ScanConcurrency is the number of grants processed in parallel by a scan
	ScanConcurrency int
}

// DefaultConfig returns the stock policy
func DefaultConfig() Config {
	return Config{
		DefaultDurations: map[roles.GA4Role]time.Duration{
			roles.GA4Viewer:        14 * day,
			roles.GA4Analyst:       30 * day,
			roles.GA4Editor:        7 * day,
			roles.GA4Administrator: 7 * day,
		},
		MaxExtensions:           3,
		WarningThresholds:       []int{30, 7, 1, 0},
		DowngradeAfter:          7 * day,
		DowngradeAdministrators: true,
		GA4Timeout:              20 * time.Second,
		ScanConcurrency:         4,
	}
}

// Duration returns the default lifetime for role
func (c Config) Duration(role roles.GA4Role) time.Duration {
	if d, ok := c.DefaultDurations[role]; ok && d > 0 {
		return d
	}
	return DefaultConfig().DefaultDurations[role]
}

// DowngradeRoles returns the roles eligible for the downgrade scan
func (c Config) DowngradeRoles() []roles.GA4Role {
	if c.DowngradeAdministrators {
		return []roles.GA4Role{roles.GA4Editor, roles.GA4Administrator}
	}
	return []roles.GA4Role{roles.GA4Editor}
}

// Validate checks the policy for values the engine cannot honour
func (c Config) Validate() error {
	for role, d := range c.DefaultDurations {
		if !role.Valid() {
			return fmt.Errorf("unknown GA4 role %q in default durations", role)
		}
		if d <= 0 {
			return fmt.Errorf("default duration for %s must be positive", role)
		}
	}
	if c.MaxExtensions < 0 {
		return fmt.Errorf("max extensions must not be negative")
	}
	for _, t := range c.WarningThresholds {
		if t < 0 {
			return fmt.Errorf("warning threshold %d must not be negative", t)
		}
	}
	if c.DowngradeAfter <= 0 {
		return fmt.Errorf("downgrade delay must be positive")
	}
	if c.GA4Timeout <= 0 {
		return fmt.Errorf("GA4 timeout must be positive")
	}
	if c.ScanConcurrency < 1 {
		return fmt.Errorf("scan concurrency must be at least 1")
	}
	return nil
}
