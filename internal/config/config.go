// Package config provides centralized configuration management for the extractor.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Database   DatabaseConfig
	Extraction ExtractionConfig
	Cache      CacheConfig
	Scheduler  SchedulerConfig
	Logging    LoggingConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver selects the SQL engine: postgres or sqlite (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is the connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ExtractionConfig holds execution, export and cleanup settings.
type ExtractionConfig struct {
	// OutputDir receives dumped CSV and ZIP files (default: ./output)
	OutputDir string `env:"EXTRACTION_OUTPUT_DIR" default:"output"`

	// TempDir holds per-dump working directories (default: OS temp dir)
	TempDir string `env:"EXTRACTION_TEMP_DIR"`

	// CSVSeparator is the field separator of exported files (default: ,)
	CSVSeparator string `env:"EXTRACTION_CSV_SEPARATOR" default:","`

	// ExecutionTimeout bounds a single execution (default: 24h)
	ExecutionTimeout time.Duration `env:"EXTRACTION_TIMEOUT" default:"24h"`

	// MaxConcurrent is the maximum number of parallel executions (default: 4)
	MaxConcurrent int `env:"EXTRACTION_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for an execution slot (default: 1m)
	MaxWaitTime time.Duration `env:"EXTRACTION_MAX_WAIT_TIME" default:"1m"`

	// CleanupWorkers is the number of parallel table cleanups (default: 2)
	CleanupWorkers int `env:"EXTRACTION_CLEANUP_WORKERS" default:"2"`

	// CleanupRetries is how often a transient drop failure is retried (default: 3)
	CleanupRetries int `env:"EXTRACTION_CLEANUP_RETRIES" default:"3"`

	// CleanupBackoff is the delay between two drop attempts (default: 500ms)
	CleanupBackoff time.Duration `env:"EXTRACTION_CLEANUP_BACKOFF" default:"500ms"`

	// AwaitCleanup makes request-scoped operations block until cleanup completes (default: false)
	AwaitCleanup bool `env:"EXTRACTION_AWAIT_CLEANUP" default:"false"`

	// PreviewLimit caps rows materialized per sheet in preview executions (default: 1000)
	PreviewLimit int `env:"EXTRACTION_PREVIEW_LIMIT" default:"1000"`

	// DefaultPageSize applies when a read does not give a page size (default: 100)
	DefaultPageSize int `env:"EXTRACTION_PAGE_SIZE" default:"100"`
}

// CacheConfig holds result and type cache settings.
type CacheConfig struct {
	// Size is the maximum number of entries per cache partition (default: 500)
	Size int `env:"CACHE_SIZE" default:"500"`

	// ShortTTL is the lifetime of the "short" result partition (default: 1m)
	ShortTTL time.Duration `env:"CACHE_SHORT_TTL" default:"1m"`

	// DefaultTTL is the lifetime of the "default" result partition (default: 10m)
	DefaultTTL time.Duration `env:"CACHE_DEFAULT_TTL" default:"10m"`

	// LongTTL is the lifetime of the "long" result partition (default: 1h)
	LongTTL time.Duration `env:"CACHE_LONG_TTL" default:"1h"`

	// TypeTTL is the lifetime of resolved types and type lists (default: 1h)
	TypeTTL time.Duration `env:"CACHE_TYPE_TTL" default:"1h"`
}

// SchedulerConfig holds product refresh schedules (cron expressions).
type SchedulerConfig struct {
	// Enabled starts the refresh scheduler with the serve command (default: true)
	Enabled bool `env:"SCHEDULER_ENABLED" default:"true"`

	// Daily is the schedule of DAILY products (default: @daily)
	Daily string `env:"SCHEDULER_DAILY" default:"@daily"`

	// Weekly is the schedule of WEEKLY products (default: @weekly)
	Weekly string `env:"SCHEDULER_WEEKLY" default:"@weekly"`

	// Monthly is the schedule of MONTHLY products (default: @monthly)
	Monthly string `env:"SCHEDULER_MONTHLY" default:"@monthly"`

	// Parallelism bounds products refreshed at once (default: 2)
	Parallelism int `env:"SCHEDULER_PARALLELISM" default:"2"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Separator returns the CSV separator as a rune, falling back to a comma.
func (c *ExtractionConfig) Separator() rune {
	if c.CSVSeparator == "" {
		return ','
	}
	if c.CSVSeparator == `\t` {
		return '\t'
	}
	return []rune(c.CSVSeparator)[0]
}

// Schedules returns the cron expression of each processing frequency label.
func (c *SchedulerConfig) Schedules() map[string]string {
	return map[string]string{
		"DAILY":   c.Daily,
		"WEEKLY":  c.Weekly,
		"MONTHLY": c.Monthly,
	}
}

// PoolSummary returns a short description of pool sizing for startup logs.
func (c *DatabaseConfig) PoolSummary() string {
	return c.Driver + " max=" + strconv.Itoa(c.MaxConns) + " min=" + strconv.Itoa(c.MinConns)
}
