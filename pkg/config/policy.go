package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/ga4access/pkg/lifecycle"
	"github.com/platinummonkey/ga4access/pkg/notify"
	"github.com/platinummonkey/ga4access/pkg/roles"
)

const day = 24 * time.Hour

// Policy is the operator-tunable grant policy. It can be set through the
// environment and overridden by a YAML policy file.
type Policy struct {
	DefaultDurationDays      map[string]int  `yaml:"default_duration_days"`
	MaxExtensions            int             `yaml:"max_extensions"`
	WarningThresholdDays     []int           `yaml:"warning_threshold_days"`
	EditorDowngradeAfterDays int             `yaml:"editor_downgrade_after_days"`
	DowngradeAdministrators  bool            `yaml:"downgrade_administrators"`
	NotificationTypesEnabled map[string]bool `yaml:"notification_types_enabled"`
}

// DefaultPolicy mirrors lifecycle.DefaultConfig with every notification on
func DefaultPolicy() Policy {
	lc := lifecycle.DefaultConfig()
	p := Policy{
		DefaultDurationDays:      make(map[string]int, len(lc.DefaultDurations)),
		MaxExtensions:            lc.MaxExtensions,
		WarningThresholdDays:     append([]int(nil), lc.WarningThresholds...),
		EditorDowngradeAfterDays: int(lc.DowngradeAfter / day),
		DowngradeAdministrators:  lc.DowngradeAdministrators,
		NotificationTypesEnabled: make(map[string]bool),
	}
	for role, d := range lc.DefaultDurations {
		p.DefaultDurationDays[string(role)] = int(d / day)
	}
	for _, t := range notify.AllTypes() {
		p.NotificationTypesEnabled[string(t)] = true
	}
	return p
}

func (p Policy) clone() Policy {
	out := p
	out.DefaultDurationDays = make(map[string]int, len(p.DefaultDurationDays))
	for k, v := range p.DefaultDurationDays {
		out.DefaultDurationDays[k] = v
	}
	out.WarningThresholdDays = append([]int(nil), p.WarningThresholdDays...)
	out.NotificationTypesEnabled = make(map[string]bool, len(p.NotificationTypesEnabled))
	for k, v := range p.NotificationTypesEnabled {
		out.NotificationTypesEnabled[k] = v
	}
	return out
}

// Validate checks the policy against the known roles, thresholds and
// notification types.
func (p Policy) Validate() error {
	for name, days := range p.DefaultDurationDays {
		if _, err := roles.ParseGA4Role(name); err != nil {
			return fmt.Errorf("default_duration_days: %w", err)
		}
		if days <= 0 {
			return fmt.Errorf("default_duration_days: %s must be positive", name)
		}
	}
	if p.MaxExtensions < 0 {
		return errors.New("max_extensions must not be negative")
	}
	for _, d := range p.WarningThresholdDays {
		if _, ok := notify.WarningType(d); !ok {
			return fmt.Errorf("warning_threshold_days: %d is not one of %v", d, notify.WarningDays)
		}
	}
	if p.EditorDowngradeAfterDays <= 0 {
		return errors.New("editor_downgrade_after_days must be positive")
	}
	for name := range p.NotificationTypesEnabled {
		if _, err := notify.ParseType(name); err != nil {
			return fmt.Errorf("notification_types_enabled: %w", err)
		}
	}
	return nil
}

// Apply overlays the policy onto base
func (p Policy) Apply(base lifecycle.Config) lifecycle.Config {
	cfg := base
	cfg.DefaultDurations = make(map[roles.GA4Role]time.Duration, len(base.DefaultDurations))
	for role, d := range base.DefaultDurations {
		cfg.DefaultDurations[role] = d
	}
	for name, days := range p.DefaultDurationDays {
		if role, err := roles.ParseGA4Role(name); err == nil {
			cfg.DefaultDurations[role] = time.Duration(days) * day
		}
	}
	cfg.MaxExtensions = p.MaxExtensions
	cfg.WarningThresholds = append([]int(nil), p.WarningThresholdDays...)
	cfg.DowngradeAfter = time.Duration(p.EditorDowngradeAfterDays) * day
	cfg.DowngradeAdministrators = p.DowngradeAdministrators
	return cfg
}

// NotificationToggles returns the dispatcher switch map. Types the policy
// does not name stay enabled.
func (p Policy) NotificationToggles() map[notify.Type]bool {
	out := make(map[notify.Type]bool, len(p.NotificationTypesEnabled))
	for name, on := range p.NotificationTypesEnabled {
		if t, err := notify.ParseType(name); err == nil {
			out[t] = on
		}
	}
	return out
}

// LoadPolicyFile reads a YAML policy and overlays it onto base. Keys absent
// from the file keep base's values. Unknown keys are rejected.
func LoadPolicyFile(path string, base Policy) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data, base)
}

// ParsePolicy decodes YAML policy data onto base
func ParsePolicy(data []byte, base Policy) (Policy, error) {
	p := base.clone()
	if len(bytes.TrimSpace(data)) == 0 {
		return p, p.Validate()
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// loadPolicyFromEnv applies GA4ACCESS_ policy variables onto base. List
// values are comma separated; maps use name=value pairs.
func loadPolicyFromEnv(base Policy) (Policy, error) {
	p := base.clone()

	if v := getEnv(envPrefix+"DEFAULT_DURATION_DAYS", ""); v != "" {
		pairs, err := parsePairs(v)
		if err != nil {
			return Policy{}, fmt.Errorf("DEFAULT_DURATION_DAYS: %w", err)
		}
		for name, raw := range pairs {
			days, err := strconv.Atoi(raw)
			if err != nil {
				return Policy{}, fmt.Errorf("DEFAULT_DURATION_DAYS: %s: %w", name, err)
			}
			p.DefaultDurationDays[name] = days
		}
	}
	p.MaxExtensions = getEnvInt(envPrefix+"MAX_EXTENSIONS", p.MaxExtensions)
	if v := getEnv(envPrefix+"WARNING_THRESHOLD_DAYS", ""); v != "" {
		days, err := parseInts(v)
		if err != nil {
			return Policy{}, fmt.Errorf("WARNING_THRESHOLD_DAYS: %w", err)
		}
		p.WarningThresholdDays = days
	}
	p.EditorDowngradeAfterDays = getEnvInt(envPrefix+"EDITOR_DOWNGRADE_AFTER_DAYS", p.EditorDowngradeAfterDays)
	p.DowngradeAdministrators = getEnvBool(envPrefix+"DOWNGRADE_ADMINISTRATORS", p.DowngradeAdministrators)
	if v := getEnv(envPrefix+"NOTIFICATION_TYPES_ENABLED", ""); v != "" {
		pairs, err := parsePairs(v)
		if err != nil {
			return Policy{}, fmt.Errorf("NOTIFICATION_TYPES_ENABLED: %w", err)
		}
		for name, raw := range pairs {
			on, err := strconv.ParseBool(raw)
			if err != nil {
				return Policy{}, fmt.Errorf("NOTIFICATION_TYPES_ENABLED: %s: %w", name, err)
			}
			p.NotificationTypesEnabled[name] = on
		}
	}
	return p, nil
}

func parsePairs(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("expected name=value, got %q", part)
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out, nil
}
