// Package config loads runtime settings for the data layer from a
// yaml file and LATTICE_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config keys and defaults.
const (
	EnvPrefix = "LATTICE"

	defaultDialect         = "sqlite"
	defaultDSN             = "file:lattice.db?_pragma=journal_mode(WAL)"
	defaultMaxTotalResults = 10000
	defaultSlowThreshold   = 200 * time.Millisecond
	defaultLogLevel        = "info"
)

// Config is the full runtime configuration.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Limits LimitsConfig `mapstructure:"limits"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Log    LogConfig    `mapstructure:"log"`
}

// StoreConfig selects and tunes the storage adapter.
type StoreConfig struct {
	// Dialect is one of sqlite, mysql, postgres, or memory.
	Dialect string `mapstructure:"dialect"`
	// DSN is the driver connection string. Unused for memory.
	DSN string `mapstructure:"dsn"`
	// WriteLimit bounds concurrent mutations. Zero means unbounded.
	WriteLimit int64 `mapstructure:"write_limit"`
	// SlowThreshold is the duration above which a storage operation is
	// logged as slow. Zero disables detection.
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// LimitsConfig tunes the per-request result ceilings.
type LimitsConfig struct {
	// MaxTotalResults bounds the cumulative records returned across all
	// reads in one request. Zero means unbounded.
	MaxTotalResults int `mapstructure:"max_total_results"`
}

// CacheConfig controls the in-process result cache.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// Load reads configuration from the given yaml file (optional; empty
// path skips the file) and from LATTICE_-prefixed environment
// variables, e.g. LATTICE_STORE_DIALECT=postgres.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("store.dialect", defaultDialect)
	v.SetDefault("store.dsn", defaultDSN)
	v.SetDefault("store.write_limit", 0)
	v.SetDefault("store.slow_threshold", defaultSlowThreshold)
	v.SetDefault("limits.max_total_results", defaultMaxTotalResults)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("log.level", defaultLogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that cannot be defaulted away.
func (c *Config) Validate() error {
	switch c.Store.Dialect {
	case "sqlite", "mysql", "postgres", "memory":
	default:
		return fmt.Errorf("config: unsupported store dialect %q", c.Store.Dialect)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unsupported log level %q", c.Log.Level)
	}
	if c.Limits.MaxTotalResults < 0 {
		return fmt.Errorf("config: limits.max_total_results must not be negative")
	}
	return nil
}

// SlogLevel maps the configured level to a slog level string
// understood by slog.Level.UnmarshalText.
func (c *Config) SlogLevel() string {
	return strings.ToUpper(c.Log.Level)
}
