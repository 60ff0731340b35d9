package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// MissingRemoteMessage is the operator message for absent Supabase settings.
const MissingRemoteMessage = "Missing SUPABASE_URL or SUPABASE_KEY in .env file"

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result for mode.
func Load(mode Mode) (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(mode); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Read loads every section without validating.
func Read() (*Config, error) {
	cfg := &Config{}

	sections := []any{
		&cfg.Remote,
		&cfg.Database,
		&cfg.SQLite,
		&cfg.Import,
		&cfg.Metrics,
		&cfg.Archive,
		&cfg.Logging,
	}
	for _, s := range sections {
		if err := envconfig.Process("", s); err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that the configuration is usable for mode.
// Returns an error describing all validation failures.
func (c *Config) Validate(mode Mode) error {
	var errs []string

	backend := strings.ToLower(c.Import.Backend)

	switch mode {
	case ModeLive, ModeMaintenance:
		switch backend {
		case BackendREST:
			errs = append(errs, c.validateRemote(mode)...)
		case BackendPostgres:
			errs = append(errs, c.validateDatabase()...)
		case BackendSQLite:
			if c.SQLite.Path == "" {
				errs = append(errs, "SQLITE_PATH is required for the sqlite backend")
			}
		default:
			errs = append(errs, fmt.Sprintf("IMPORT_BACKEND (%q) must be one of: rest, postgres, sqlite", c.Import.Backend))
		}
		if c.Import.Input == "" && mode == ModeLive {
			errs = append(errs, "IMPORT_INPUT must not be empty")
		}
	case ModeOffline:
		if c.Import.Input == "" {
			errs = append(errs, "IMPORT_INPUT must not be empty")
		}
		if c.Import.Output == "" {
			errs = append(errs, "IMPORT_OUTPUT must not be empty")
		}
	}

	if c.Import.Schedule != "" {
		if _, err := cron.ParseStandard(c.Import.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("IMPORT_SCHEDULE (%q) is not a valid cron expression: %v", c.Import.Schedule, err))
		}
	}

	// Metrics validation
	if c.Metrics.Enabled() && c.Metrics.Job == "" {
		errs = append(errs, "METRICS_JOB must not be empty when METRICS_PUSHGATEWAY_URL is set")
	}

	// Archive validation
	if c.Archive.Enabled() {
		if c.Archive.Region == "" {
			errs = append(errs, "ARCHIVE_S3_REGION is required when ARCHIVE_S3_BUCKET is set")
		}
		if (c.Archive.AccessKey == "") != (c.Archive.SecretKey == "") {
			errs = append(errs, "ARCHIVE_S3_ACCESS_KEY and ARCHIVE_S3_SECRET_KEY must be set together")
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func (c *Config) validateRemote(mode Mode) []string {
	var errs []string

	var missing []string
	if c.Remote.URL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	switch {
	case mode == ModeMaintenance && c.Remote.ServiceKey == "":
		missing = append(missing, "SUPABASE_SERVICE_KEY")
	case c.Remote.Key() == "":
		missing = append(missing, "SUPABASE_SERVICE_KEY or SUPABASE_KEY")
	}
	if len(missing) > 0 {
		errs = append(errs, fmt.Sprintf("%s (not set: %s)", MissingRemoteMessage, strings.Join(missing, ", ")))
	}

	if c.Remote.Timeout <= 0 {
		errs = append(errs, "SUPABASE_TIMEOUT must be positive")
	}
	if c.Remote.PageSize <= 0 {
		errs = append(errs, "SUPABASE_PAGE_SIZE must be positive")
	}
	return errs
}

func (c *Config) validateDatabase() []string {
	var errs []string
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required for the postgres backend")
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	return errs
}

// String returns a safe string representation of the config for logging.
// Keys, secrets and the database URL are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Remote: {URL: %q, Key: %s, Timeout: %s}, ",
		c.Remote.URL, mask(c.Remote.Key()), c.Remote.Timeout))
	b.WriteString(fmt.Sprintf("Database: {URL: %s, MaxConns: %d}, ",
		mask(c.Database.URL), c.Database.MaxConns))
	b.WriteString(fmt.Sprintf("Import: {Backend: %q, Input: %q, Output: %q, Schedule: %q}, ",
		c.Import.Backend, c.Import.Input, c.Import.Output, c.Import.Schedule))
	b.WriteString(fmt.Sprintf("Archive: {Bucket: %q, SecretKey: %s}, ",
		c.Archive.Bucket, mask(c.Archive.SecretKey)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}
