// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

const defaultServerSecret = "defaultencryptionstring"

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`

	// ServerSecret is the immutable server-side encryption string mixed into
	// every key derivation and IP hash. Tenants never see it.
	ServerSecret string `mapstructure:"serversecret"`

	// File paths
	StoragePath     string `mapstructure:"storagepath"`
	DatabaseName    string `mapstructure:"-"` // Derived from other settings
	GeoDBPath       string `mapstructure:"geodbpath"`
	PublicDirectory string `mapstructure:"publicdir"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Job scheduling settings
	SnapshotIntervalSeconds  int `mapstructure:"snapshotintervalseconds"`
	SummarizeIntervalSeconds int `mapstructure:"summarizeintervalseconds"`

	// Data retention: visits older than this many days are deleted by the
	// rotation job. Zero disables retention cleanup entirely.
	VisitRetentionDays int `mapstructure:"visitretentiondays"`
}

// Load reads configuration from the environment. The returned value is meant
// to be constructed once in main and injected into every component that needs
// it; there is no package-level singleton.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("appname", "pixelry")
	v.SetDefault("appport", "5001")
	v.SetDefault("environment", Development)
	v.SetDefault("loglevel", string(LogLevelInfo))
	v.SetDefault("serversecret", defaultServerSecret)
	v.SetDefault("storagepath", "storage")
	v.SetDefault("geodbpath", "storage/GeoLite2-Country.mmdb")
	v.SetDefault("publicdir", "public")
	v.SetDefault("logsdir", "logs")
	v.SetDefault("logsmaxsizeinmb", 20)
	v.SetDefault("logsmaxbackups", 10)
	v.SetDefault("logsmaxageindays", 30)
	v.SetDefault("dbmaxopenconns", 0)
	v.SetDefault("dbmaxidleconns", 0)
	v.SetDefault("snapshotintervalseconds", 300)
	v.SetDefault("summarizeintervalseconds", 3600)
	v.SetDefault("visitretentiondays", 0)

	v.BindEnv("appname", "PIXELRY_APP_NAME")
	v.BindEnv("appport", "PIXELRY_APP_PORT")
	v.BindEnv("environment", "PIXELRY_ENV")
	v.BindEnv("loglevel", "PIXELRY_LOG_LEVEL")
	v.BindEnv("serversecret", "PIXELRY_SERVER_SECRET", "ENCSTR")
	v.BindEnv("storagepath", "PIXELRY_STORAGE_PATH")
	v.BindEnv("geodbpath", "PIXELRY_GEO_DB_PATH")
	v.BindEnv("publicdir", "PIXELRY_PUBLIC_DIR")
	v.BindEnv("logsdir", "PIXELRY_LOGS_DIR")
	v.BindEnv("logsmaxsizeinmb", "PIXELRY_LOGS_MAX_SIZE_IN_MB")
	v.BindEnv("logsmaxbackups", "PIXELRY_LOGS_MAX_BACKUPS")
	v.BindEnv("logsmaxageindays", "PIXELRY_LOGS_MAX_AGE_IN_DAYS")
	v.BindEnv("dbmaxopenconns", "PIXELRY_DB_MAX_OPEN_CONNS")
	v.BindEnv("dbmaxidleconns", "PIXELRY_DB_MAX_IDLE_CONNS")
	v.BindEnv("snapshotintervalseconds", "PIXELRY_SNAPSHOT_INTERVAL_SECONDS")
	v.BindEnv("summarizeintervalseconds", "PIXELRY_SUMMARIZE_INTERVAL_SECONDS")
	v.BindEnv("visitretentiondays", "PIXELRY_VISIT_RETENTION_DAYS")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	cfg.DatabaseName = cfg.GetDatabasePath()

	if cfg.IsProduction() && cfg.ServerSecret == defaultServerSecret {
		return nil, fmt.Errorf("config: production requires a unique PIXELRY_SERVER_SECRET (cannot use default)")
	}

	return cfg, nil
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if c.ServerSecret == "" {
		return fmt.Errorf("server secret is required")
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.StoragePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment.
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (required for in-memory sqlite stability)
// - Development/Production: 10 (concurrent summary reads while ingesting)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment.
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// SnapshotArtifactPath is where the rotation job writes the distributable copy
// of the store. The .png extension is deliberate: it keeps range requests and
// caching working on hosts that special-case image content types.
func (c *Config) SnapshotArtifactPath() string {
	return filepath.Join(c.PublicDirectory, "analytics.sqlite3.png")
}
