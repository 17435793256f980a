package config

import (
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: Token and session configuration
//   - database.go: Database and cache configuration
//   - scheduler.go: Scheduler, dispatch, and sync-job configuration
type AppConfig struct {
	// IsDev controls development mode behavior (dev signing keys, verbose
	// logging). Set DEV=true or APP_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Auth configuration
	Token   TokenConfig   `envPrefix:"JWT_"`
	Session SessionConfig `envPrefix:"SESSION_"`

	// Database configuration
	Postgres DBConfig     `envPrefix:"DB_"`
	HRStore  HRStoreConfig `envPrefix:"HR_DB_"`
	Redis    RedisConfig  `envPrefix:"REDIS_"`
	Cache    CacheConfig

	// Scheduler and job configuration
	Scheduler   SchedulerConfig   `envPrefix:"SCHEDULER_"`
	Queue       QueueConfig       `envPrefix:"QUEUE_"`
	Attendance  AttendanceConfig  `envPrefix:"ATTENDANCE_"`
	Replication ReplicationConfig `envPrefix:"REPLICATION_"`
}

// Load parses the environment into an AppConfig and applies guardrails.
func Load() (*AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	cfg.Sanitize()
	return &cfg, nil
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Token.Sanitize(c.IsDev)
	c.Session.Sanitize()
	c.Scheduler.Sanitize()
	c.Attendance.Sanitize()
	c.detectDevMode()
}

// detectDevMode checks both DEV and APP_ENV environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}
