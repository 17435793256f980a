package config

import (
	"time"
)

// DBConfig holds connection settings for the application Postgres store.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"mealdesk"`
	Password string `env:"PASSWORD" envDefault:""`
	Name     string `env:"NAME"     envDefault:"mealdesk"`
	SSLMode  string `env:"SSLMODE"  envDefault:"disable"`

	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
}

// HRStoreConfig holds connection settings for the read-only HR/TMS store.
// This is a separate pool from the application store; the HR system of
// record is never written to.
type HRStoreConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"hr_reader"`
	Password string `env:"PASSWORD" envDefault:""`
	Name     string `env:"NAME"     envDefault:"hr"`
	SSLMode  string `env:"SSLMODE"  envDefault:"disable"`

	MaxOpenConns int           `env:"MAX_OPEN_CONNS" envDefault:"5"`
	QueryTimeout time.Duration `env:"QUERY_TIMEOUT"  envDefault:"30s"`
}

// RedisConfig holds settings for the Redis cache and task queue. Redis is an
// accelerator here, not a dependency: when it is unreachable the cache layer
// degrades to pass-through and the queue dispatcher falls back to in-process
// execution.
type RedisConfig struct {
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`

	DialTimeout  time.Duration `env:"DIAL_TIMEOUT"  envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT"  envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

// CacheConfig holds TTLs for cached auth artifacts.
type CacheConfig struct {
	// SnapshotTTL bounds how long a cached token-validation snapshot may be
	// served before falling back to the database.
	SnapshotTTL time.Duration `env:"CACHE_SNAPSHOT_TTL" envDefault:"5m"`

	// ProbeInterval is how often the degraded cache retries Redis.
	ProbeInterval time.Duration `env:"CACHE_PROBE_INTERVAL" envDefault:"30s"`
}
