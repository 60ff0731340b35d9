// Package config provides centralized configuration for the import commands.
// It loads configuration from environment variables with sensible defaults and
// validates the settings a command needs before any I/O happens.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Remote   RemoteConfig
	Database DatabaseConfig
	SQLite   SQLiteConfig
	Import   ImportConfig
	Metrics  MetricsConfig
	Archive  ArchiveConfig
	Logging  LoggingConfig
}

// Backend names accepted by IMPORT_BACKEND.
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Mode selects which settings Validate insists on.
type Mode int

const (
	// ModeLive writes through a store backend.
	ModeLive Mode = iota
	// ModeOffline only renders a SQL script.
	ModeOffline
	// ModeMaintenance runs cleanup against the doctors table.
	ModeMaintenance
)

// RemoteConfig holds the Supabase (PostgREST) endpoint settings.
type RemoteConfig struct {
	// URL is the project URL, e.g. https://xyz.supabase.co
	URL string `envconfig:"SUPABASE_URL"`

	// ServiceKey is the privileged key; preferred over AnonKey when set
	ServiceKey string `envconfig:"SUPABASE_SERVICE_KEY"`

	// AnonKey is the general key used when no service key is configured
	AnonKey string `envconfig:"SUPABASE_KEY"`

	// Timeout bounds a single HTTP round-trip (default: 60s)
	Timeout time.Duration `envconfig:"SUPABASE_TIMEOUT" default:"60s"`

	// PageSize is the row count per page when listing a table (default: 1000)
	PageSize int `envconfig:"SUPABASE_PAGE_SIZE" default:"1000"`
}

// Key returns the credential to send, preferring the service key.
func (c RemoteConfig) Key() string {
	if c.ServiceKey != "" {
		return c.ServiceKey
	}
	return c.AnonKey
}

// DatabaseConfig holds direct PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required for the postgres backend)
	URL string `envconfig:"DATABASE_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `envconfig:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `envconfig:"DB_MIN_CONNS" default:"0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"1h"`
}

// SQLiteConfig holds the local SQLite backend settings.
type SQLiteConfig struct {
	// Path is the database file (default: import.db)
	Path string `envconfig:"SQLITE_PATH" default:"import.db"`
}

// ImportConfig holds pipeline settings shared by the commands.
type ImportConfig struct {
	// Backend is the store to write to: rest, postgres, sqlite (default: rest)
	Backend string `envconfig:"IMPORT_BACKEND" default:"rest"`

	// Input is the CSV extract to read (default: flume_expanded.csv)
	Input string `envconfig:"IMPORT_INPUT" default:"flume_expanded.csv"`

	// Output is where the offline script is written (default: scripts/import-data.sql)
	Output string `envconfig:"IMPORT_OUTPUT" default:"scripts/import-data.sql"`

	// Schedule is an optional cron expression; when set the live import repeats
	Schedule string `envconfig:"IMPORT_SCHEDULE"`
}

// MetricsConfig holds Prometheus Pushgateway settings.
type MetricsConfig struct {
	// PushgatewayURL enables pushing run metrics when set
	PushgatewayURL string `envconfig:"METRICS_PUSHGATEWAY_URL"`

	// Job is the Pushgateway job label (default: lenmed_import)
	Job string `envconfig:"METRICS_JOB" default:"lenmed_import"`
}

// Enabled reports whether metrics should be pushed.
func (c MetricsConfig) Enabled() bool {
	return c.PushgatewayURL != ""
}

// ArchiveConfig holds S3 settings for archiving generated scripts.
type ArchiveConfig struct {
	// Bucket enables archiving when set
	Bucket string `envconfig:"ARCHIVE_S3_BUCKET"`

	// Endpoint overrides the S3 endpoint for S3-compatible stores
	Endpoint string `envconfig:"ARCHIVE_S3_ENDPOINT"`

	// Region is the signing region (default: us-east-1)
	Region string `envconfig:"ARCHIVE_S3_REGION" default:"us-east-1"`

	// AccessKey and SecretKey are static credentials; both or neither
	AccessKey string `envconfig:"ARCHIVE_S3_ACCESS_KEY"`
	SecretKey string `envconfig:"ARCHIVE_S3_SECRET_KEY"`

	// Prefix is prepended to object keys (default: imports/)
	Prefix string `envconfig:"ARCHIVE_S3_PREFIX" default:"imports/"`
}

// Enabled reports whether scripts should be archived.
func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `envconfig:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `envconfig:"LOG_FORMAT" default:"text"`
}
