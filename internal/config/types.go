package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

// DatabaseConfig locates the job datastore. The datastore is the single
// source of truth for job definitions; the daemon and the control CLI both
// point at the same file.
type DatabaseConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Database LoggingDatabase `json:"database"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingDatabase mirrors log records into the datastore's log table so
// operators can inspect daemon activity with plain SQL.
type LoggingDatabase struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the firing loop and the reload poll cadence.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// PollInterval is how often pending reload markers are checked.
	PollInterval string `json:"poll_interval,omitempty"`

	HistorySize int `json:"history_size,omitempty"`

	// Trigger timezone, IANA name. Empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`
}

var logLevels = map[string]bool{
	"": true, "trace": true, "debug": true, "info": true,
	"warn": true, "error": true,
}

// Validate rejects configs that would misbehave at runtime. It is also the
// gate for hot reloads: a config that fails here is never published.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path: required")
	}
	if _, err := ParseDurationField("database.busy_timeout", c.Database.BusyTimeout); err != nil {
		return err
	}
	if !logLevels[strings.ToLower(strings.TrimSpace(c.Logging.Level))] {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if lvl := c.Logging.Database.MinLevel; !logLevels[strings.ToLower(strings.TrimSpace(lvl))] {
		return fmt.Errorf("logging.database.min_level: unknown level %q", lvl)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path: required when file logging is enabled")
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers: must be >= 0")
	}
	if c.Scheduler.QueueSize < 0 {
		return fmt.Errorf("scheduler.queue_size: must be >= 0")
	}
	if _, err := ParseDurationField("scheduler.poll_interval", c.Scheduler.PollInterval); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	return nil
}

// PollInterval returns the parsed poll cadence, or def when unset.
func (s SchedulerConfig) PollIntervalOrDefault(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("scheduler.poll_interval", s.PollInterval, def)
	if err != nil {
		return def
	}
	return d
}

// BusyTimeoutOrDefault returns the parsed busy timeout, or def when unset.
func (d DatabaseConfig) BusyTimeoutOrDefault(def time.Duration) time.Duration {
	t, err := ParseDurationOrDefault("database.busy_timeout", d.BusyTimeout, def)
	if err != nil {
		return def
	}
	return t
}
