package config

import (
	"fmt"
	"strings"
	"time"
)

// SchedulerMode selects how this process participates in job scheduling.
type SchedulerMode string

const (
	// SchedulerEmbedded runs the scheduler loops inside the API process.
	SchedulerEmbedded SchedulerMode = "embedded"
	// SchedulerStandalone runs the scheduler as its own process.
	SchedulerStandalone SchedulerMode = "standalone"
	// SchedulerDisabled runs no scheduler loops in this process.
	SchedulerDisabled SchedulerMode = "disabled"
)

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (m *SchedulerMode) UnmarshalText(text []byte) error {
	switch v := SchedulerMode(strings.ToLower(string(text))); v {
	case SchedulerEmbedded, SchedulerStandalone, SchedulerDisabled:
		*m = v
		return nil
	default:
		return fmt.Errorf("invalid scheduler mode %q (embedded, standalone, disabled)", text)
	}
}

// SchedulerConfig holds cadences and safety margins for the job scheduler.
type SchedulerConfig struct {
	Mode         SchedulerMode `env:"MODE"          envDefault:"embedded"`
	InstanceName string        `env:"INSTANCE_NAME" envDefault:""`

	TickInterval      time.Duration `env:"TICK_INTERVAL"      envDefault:"15s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`

	// LockTTL bounds how long a crashed instance can hold a job lease.
	LockTTL time.Duration `env:"LOCK_TTL" envDefault:"5m"`

	// JobTimeout bounds in-process periodic firings; zero leaves long jobs
	// unbounded. TriggerTimeout bounds manual triggers.
	JobTimeout     time.Duration `env:"JOB_TIMEOUT"     envDefault:"0"`
	TriggerTimeout time.Duration `env:"TRIGGER_TIMEOUT" envDefault:"15s"`

	// StaleAfter is how long a silent instance is trusted before being
	// marked stale by the maintenance job.
	StaleAfter time.Duration `env:"STALE_AFTER" envDefault:"2m"`

	// HistoryRetention bounds how far back execution history is kept.
	HistoryRetention time.Duration `env:"HISTORY_RETENTION" envDefault:"720h"`
}

// Sanitize applies guardrails to scheduler settings.
func (c *SchedulerConfig) Sanitize() {
	if c.TickInterval <= 0 {
		c.TickInterval = 15 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	// The lease must outlive the heartbeat cadence or healthy instances
	// lose their own locks.
	if c.LockTTL < 2*c.HeartbeatInterval {
		c.LockTTL = 2 * c.HeartbeatInterval
	}
	if c.TriggerTimeout <= 0 {
		c.TriggerTimeout = 15 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 2 * time.Minute
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 720 * time.Hour
	}
}

// QueueConfig selects between in-process job execution and handing work to
// external workers over a Redis list.
type QueueConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Key     string `env:"KEY"     envDefault:"scheduler:tasks"`
}

// AttendanceConfig bounds the attendance backfill window.
type AttendanceConfig struct {
	WindowMonths int `env:"WINDOW_MONTHS" envDefault:"2"`
}

// Sanitize applies guardrails to attendance settings.
func (c *AttendanceConfig) Sanitize() {
	if c.WindowMonths <= 0 {
		c.WindowMonths = 2
	}
}

// ReplicationConfig holds settings for the HR replication job.
type ReplicationConfig struct {
	// SourceTimeout bounds each read against the HR store.
	SourceTimeout time.Duration `env:"SOURCE_TIMEOUT" envDefault:"30s"`
}
