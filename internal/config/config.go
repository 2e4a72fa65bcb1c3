// Package config provides YAML-based configuration loading for Mission Control.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so budgets can be written as "30m" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string like "30m" or "1h30m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level Mission Control configuration, loaded from
// missionctl.yaml.
type Config struct {
	Owner    string         `yaml:"owner"`
	Database DatabaseConfig `yaml:"database"`
	SLA      SLAConfig      `yaml:"sla"`
	Report   ReportConfig   `yaml:"report"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Notify   NotifyConfig   `yaml:"notify"`
	GitHub   GitHubConfig   `yaml:"github"`
}

// DatabaseConfig selects the storage backend: a MySQL-compatible server or
// an embedded SQLite file.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "mysql" or "sqlite"
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Name   string `yaml:"name"`
	Path   string `yaml:"path"` // sqlite only
}

// BudgetConfig holds the three stage budgets for one priority.
type BudgetConfig struct {
	Reply  Duration `yaml:"reply"`
	Action Duration `yaml:"action"`
	Report Duration `yaml:"report"`
}

// SLAConfig holds per-priority stage budgets and escalation rules.
type SLAConfig struct {
	Budgets                 map[string]BudgetConfig `yaml:"budgets"`
	EscalationThreshold     Duration                `yaml:"escalation_threshold"`
	EscalationTargets       map[string]string       `yaml:"escalation_targets"` // accountable agent -> target
	DefaultEscalationTarget string                  `yaml:"default_escalation_target"`
}

// ReportConfig controls aggregation queries.
type ReportConfig struct {
	Timezone string `yaml:"timezone"` // IANA name; daily windows are computed here
}

// SweepConfig controls the timeout sweeper daemon.
type SweepConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	DigestCron   string   `yaml:"digest_cron"` // 5-field cron; empty disables the digest
}

// NotifyConfig holds settings for the alert notifiers.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack API settings. Empty token disables the notifier.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// DiscordConfig holds Discord bot settings. Empty token disables the notifier.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// GitHubConfig holds settings for the commit activity feed. Empty repo
// disables the feed.
type GitHubConfig struct {
	Token        string            `yaml:"token"`
	Owner        string            `yaml:"owner"`
	Repo         string            `yaml:"repo"`
	PollInterval Duration          `yaml:"poll_interval"`
	AgentMap     map[string]string `yaml:"agent_map"` // commit author login -> agent name
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values. SLA budgets get no
// defaults on purpose: a zero budget would mark every loop instantly broken,
// so missing budgets fail validation instead.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		if c.Database.Path != "" {
			c.Database.Driver = "sqlite"
		} else {
			c.Database.Driver = "mysql"
		}
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" && c.Owner != "" {
		c.Database.Name = "missionctl_" + c.Owner
	}
	if c.SLA.DefaultEscalationTarget == "" {
		c.SLA.DefaultEscalationTarget = "human"
	}
	if c.Report.Timezone == "" {
		c.Report.Timezone = "UTC"
	}
	if c.Sweep.PollInterval <= 0 {
		c.Sweep.PollInterval = Duration(30 * time.Second)
	}
	if c.GitHub.PollInterval <= 0 {
		c.GitHub.PollInterval = Duration(2 * time.Minute)
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Owner == "" {
		errs = append(errs, "owner is required")
	}
	switch c.Database.Driver {
	case "mysql":
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (mysql or sqlite)", c.Database.Driver))
	}

	normal, ok := c.SLA.Budgets["normal"]
	if !ok {
		errs = append(errs, "sla.budgets.normal is required")
	} else {
		errs = append(errs, validateBudgets("normal", normal)...)
	}
	for name, b := range c.SLA.Budgets {
		if name == "normal" {
			continue
		}
		if name != "high" && name != "urgent" {
			errs = append(errs, fmt.Sprintf("sla.budgets.%s: unknown priority", name))
			continue
		}
		errs = append(errs, validateBudgets(name, b)...)
	}
	if c.SLA.EscalationThreshold < 0 {
		errs = append(errs, "sla.escalation_threshold must not be negative")
	}

	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("report.timezone %q is not a valid IANA timezone", c.Report.Timezone))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateBudgets rejects non-positive budgets; a zero budget would mark
// every loop instantly broken.
func validateBudgets(priority string, b BudgetConfig) []string {
	var errs []string
	if b.Reply <= 0 {
		errs = append(errs, fmt.Sprintf("sla.budgets.%s.reply must be positive", priority))
	}
	if b.Action <= 0 {
		errs = append(errs, fmt.Sprintf("sla.budgets.%s.action must be positive", priority))
	}
	if b.Report <= 0 {
		errs = append(errs, fmt.Sprintf("sla.budgets.%s.report must be positive", priority))
	}
	return errs
}

// Location returns the report timezone as a *time.Location. Validation
// guarantees the name parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
