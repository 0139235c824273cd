// Package config carries the small set of operational knobs this
// module's reference engine and janitor need: segment size, batch
// size cap, retry count, janitor cron schedule, and log level. It is
// deliberately thin (spec.md §2): the schema-construction DSL and CLI
// surface the source language exposes around its store are external
// collaborators, not part of this core.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const (
	defaultSegmentLimit = 64 * 1024
	defaultMaxBatchOps  = 256
	defaultRetry        = 2
	defaultJanitorCron  = "*/5 * * * *"
	defaultJanitorGrace = 5 * time.Minute
	defaultJanitorRate  = 50.0
	defaultJanitorBurst = 100
)

// Config holds the operational settings for a running kvdex instance.
type Config struct {
	Store struct {
		Path         string `yaml:"path"`
		DisableWAL   bool   `yaml:"disable_wal"`
		SegmentLimit int    `yaml:"segment_limit"`
		MaxBatchOps  int    `yaml:"max_batch_ops"`
		Retry        int    `yaml:"retry"`
	} `yaml:"store"`

	Janitor struct {
		Cron      string  `yaml:"cron"`
		Grace     string  `yaml:"grace"`
		RateLimit float64 `yaml:"rate_limit"`
		Burst     int     `yaml:"burst"`
	} `yaml:"janitor"`

	LogLevel string `yaml:"log_level"`
}

// Load reads YAML config from path, falling back to defaults for any
// unset field. A missing file is not an error: an all-defaults Config
// is returned instead, the same "config is optional" posture as the
// teacher's LoadConfigFile callers.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotenv loads a .env file (if present) into the process
// environment before Load reads KVDEX_* overrides, matching the
// teacher's `_ = godotenv.Load(".env")` dev/test convenience.
func LoadDotenv() {
	_ = godotenv.Load(".env")
}

func (c *Config) applyEnv() {
	if v := os.Getenv("KVDEX_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("KVDEX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("KVDEX_JANITOR_CRON"); v != "" {
		c.Janitor.Cron = v
	}
	// SegmentLimit accepts a human size string ("64KB", "1MiB") the same
	// way the teacher's config layer parses size knobs, so an operator
	// doesn't have to work out a raw byte count.
	if v := os.Getenv("KVDEX_STORE_SEGMENT_LIMIT"); v != "" {
		if n, err := humanize.ParseBytes(v); err == nil {
			c.Store.SegmentLimit = int(n)
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Store.SegmentLimit <= 0 {
		c.Store.SegmentLimit = defaultSegmentLimit
	}
	if c.Store.MaxBatchOps <= 0 {
		c.Store.MaxBatchOps = defaultMaxBatchOps
	}
	if c.Store.Retry <= 0 {
		c.Store.Retry = defaultRetry
	}
	if c.Janitor.Cron == "" {
		c.Janitor.Cron = defaultJanitorCron
	}
	if c.Janitor.Grace == "" {
		c.Janitor.Grace = defaultJanitorGrace.String()
	}
	if c.Janitor.RateLimit <= 0 {
		c.Janitor.RateLimit = defaultJanitorRate
	}
	if c.Janitor.Burst <= 0 {
		c.Janitor.Burst = defaultJanitorBurst
	}
}

func (c *Config) validate() error {
	if !gronx.IsValid(c.Janitor.Cron) {
		return fmt.Errorf("config: invalid janitor cron expression %q", c.Janitor.Cron)
	}
	if _, err := c.GraceDuration(); err != nil {
		return fmt.Errorf("config: invalid janitor grace %q: %w", c.Janitor.Grace, err)
	}
	return nil
}

// GraceDuration parses Janitor.Grace as a time.Duration.
func (c *Config) GraceDuration() (time.Duration, error) {
	return time.ParseDuration(c.Janitor.Grace)
}
