// Package config handles PingFlux configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Environment variables (PINGFLUX_*)
// 2. Config file (YAML)
// 3. Defaults
//
// # Example Config File
//
//	database:
//	  url: postgres://localhost:5432/pingflux?sslmode=disable
//
//	redis:
//	  url: redis://localhost:6379/0
//
//	probing:
//	  targets:
//	    - address: 8.8.8.8
//	    - address: one.one.one.one
//	      preference: tcp
//	  interval: 5s
//	  timeout: 2s
//	  jitter: 500ms
//	  tcp_port: 443
//
//	fallback:
//	  fallback_after_fails: 3
//	  recovery_after_oks: 2
//
//	persistence:
//	  flush_interval: 5s
//	  max_pending: 5000
//
//	aggregation:
//	  catchup_minutes: 10
//	  tick_interval: 60s
//	  max_batch_minutes: 5000
//
//	alerts:
//	  latency_ms:
//	    crit: 200
//	  loss_pct:
//	    warn: 5
//	    crit: 10
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rafrcruz/pingflux/pkg/types"
)

// Config is the complete process configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Probing     ProbingConfig     `yaml:"probing"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Live        LiveConfig        `yaml:"live"`
	Alerts      AlertConfig       `yaml:"alerts"`
}

// DatabaseConfig defines how to reach the persistent store.
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
}

// RedisConfig defines the optional live-snapshot publisher backend.
// Publishing is disabled when URL is empty.
type RedisConfig struct {
	URL string `yaml:"url,omitempty"`
}

// TargetConfig is one target under periodic measurement.
type TargetConfig struct {
	Address    string           `yaml:"address"`
	Preference types.Preference `yaml:"preference,omitempty"` // auto when empty
}

// ProbingConfig defines probe cadence and executor behavior.
type ProbingConfig struct {
	Targets  []TargetConfig `yaml:"targets"`
	Interval time.Duration  `yaml:"interval"`
	Timeout  time.Duration  `yaml:"timeout"`
	Jitter   time.Duration  `yaml:"jitter"`
	TCPPort  int            `yaml:"tcp_port"`
	PingPath string         `yaml:"ping_path,omitempty"`
}

// FallbackConfig tunes the ICMP->TCP hysteresis state machine.
type FallbackConfig struct {
	FallbackAfterFails int `yaml:"fallback_after_fails"`
	RecoveryAfterOks   int `yaml:"recovery_after_oks"`
}

// PersistenceConfig tunes the batched persister.
type PersistenceConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxPending    int           `yaml:"max_pending"`
}

// AggregationConfig tunes the catch-up scheduler.
type AggregationConfig struct {
	CatchupMinutes  int           `yaml:"catchup_minutes"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	MaxBatchMinutes int           `yaml:"max_batch_minutes"`
}

// LiveConfig tunes the in-memory sliding-window cache.
type LiveConfig struct {
	Enabled   bool `yaml:"enabled"`
	MaxPoints int  `yaml:"max_points"`
	Margin    int  `yaml:"margin"`
}

// AlertConfig holds the severity thresholds. Pairs are filled during
// normalization: an omitted pair falls back to the default critical value,
// and a pair with only crit set gets warn derived as 75% of crit.
type AlertConfig struct {
	LatencyMs types.ThresholdPair `yaml:"latency_ms"`
	LossPct   types.ThresholdPair `yaml:"loss_pct"`
}

// Default alert criticals used when the config supplies none.
const (
	defaultLatencyCritMs = 200
	defaultLossCritPct   = 10
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			ConnectTimeout: 10 * time.Second,
		},
		Probing: ProbingConfig{
			Interval: 5 * time.Second,
			Timeout:  2 * time.Second,
			Jitter:   500 * time.Millisecond,
			TCPPort:  443,
		},
		Fallback: FallbackConfig{
			FallbackAfterFails: 3,
			RecoveryAfterOks:   2,
		},
		Persistence: PersistenceConfig{
			FlushInterval: 5 * time.Second,
			MaxPending:    5000,
		},
		Aggregation: AggregationConfig{
			CatchupMinutes:  10,
			TickInterval:    time.Minute,
			MaxBatchMinutes: 5000,
		},
		Live: LiveConfig{
			Enabled:   true,
			MaxPoints: 900,
			Margin:    16,
		},
		// Alerts stay zero-valued here so normalize can tell an omitted
		// pair from a crit-only one after the YAML merge.
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize fills derived values after loading.
func (c *Config) normalize() {
	for i := range c.Probing.Targets {
		if c.Probing.Targets[i].Preference == "" {
			c.Probing.Targets[i].Preference = types.PreferenceAuto
		}
	}
	c.Alerts.LatencyMs = normalizePair(c.Alerts.LatencyMs, defaultLatencyCritMs)
	c.Alerts.LossPct = normalizePair(c.Alerts.LossPct, defaultLossCritPct)
}

// normalizePair fills an alert pair: an omitted pair gets the default
// critical value, a crit-only pair gets warn derived as 75% of crit, and an
// explicit pair is kept as-is.
func normalizePair(p types.ThresholdPair, defaultCrit float64) types.ThresholdPair {
	switch {
	case p.Crit == 0 && p.Warn == 0:
		return types.DeriveThresholds(defaultCrit)
	case p.Crit > 0 && p.Warn == 0:
		return types.DeriveThresholds(p.Crit)
	default:
		return p
	}
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use the PINGFLUX_ prefix:
// - PINGFLUX_DATABASE_URL
// - PINGFLUX_REDIS_URL
// - PINGFLUX_TARGETS (comma-separated addresses, preference auto)
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PINGFLUX_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("PINGFLUX_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("PINGFLUX_TARGETS"); v != "" {
		var targets []TargetConfig
		for _, addr := range strings.Split(v, ",") {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			targets = append(targets, TargetConfig{Address: addr, Preference: types.PreferenceAuto})
		}
		if len(targets) > 0 {
			c.Probing.Targets = targets
		}
	}
}

// Validate checks that required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if len(c.Probing.Targets) == 0 {
		return fmt.Errorf("probing.targets must list at least one target")
	}
	seen := make(map[string]bool, len(c.Probing.Targets))
	for _, t := range c.Probing.Targets {
		if t.Address == "" {
			return fmt.Errorf("probing.targets entries need an address")
		}
		if seen[t.Address] {
			return fmt.Errorf("duplicate target: %s", t.Address)
		}
		seen[t.Address] = true
		if !t.Preference.Valid() {
			return fmt.Errorf("target %s: invalid preference %q", t.Address, t.Preference)
		}
	}
	if c.Probing.Interval <= 0 {
		return fmt.Errorf("probing.interval must be positive")
	}
	if c.Probing.Timeout <= 0 {
		return fmt.Errorf("probing.timeout must be positive")
	}
	if c.Probing.Jitter < 0 || c.Probing.Jitter >= c.Probing.Interval {
		return fmt.Errorf("probing.jitter must be in [0, interval)")
	}
	if c.Probing.TCPPort < 1 || c.Probing.TCPPort > 65535 {
		return fmt.Errorf("probing.tcp_port must be in [1, 65535]")
	}
	if c.Fallback.FallbackAfterFails < 1 {
		return fmt.Errorf("fallback.fallback_after_fails must be at least 1")
	}
	if c.Fallback.RecoveryAfterOks < 1 {
		return fmt.Errorf("fallback.recovery_after_oks must be at least 1")
	}
	if c.Persistence.FlushInterval <= 0 {
		return fmt.Errorf("persistence.flush_interval must be positive")
	}
	if c.Persistence.MaxPending < 1 {
		return fmt.Errorf("persistence.max_pending must be at least 1")
	}
	if c.Aggregation.CatchupMinutes < 0 {
		return fmt.Errorf("aggregation.catchup_minutes must not be negative")
	}
	if c.Aggregation.TickInterval <= 0 {
		return fmt.Errorf("aggregation.tick_interval must be positive")
	}
	if c.Aggregation.MaxBatchMinutes < 1 {
		return fmt.Errorf("aggregation.max_batch_minutes must be at least 1")
	}
	for name, pair := range map[string]types.ThresholdPair{
		"alerts.latency_ms": c.Alerts.LatencyMs,
		"alerts.loss_pct":   c.Alerts.LossPct,
	} {
		if pair.Warn < 0 || pair.Crit < 0 {
			return fmt.Errorf("%s thresholds must not be negative", name)
		}
		if pair.Crit > 0 && pair.Warn > pair.Crit {
			return fmt.Errorf("%s: warn must not exceed crit", name)
		}
	}
	return nil
}

// FlushThreshold derives the persister's count-based flush trigger from the
// target list: one full probe cycle's worth of samples, never below 10.
func (c *Config) FlushThreshold() int {
	n := len(c.Probing.Targets)
	if n < 10 {
		return 10
	}
	return n
}
