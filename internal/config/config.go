// Package config provides configuration management for flowmux using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultQueueCapacity     = 32
	defaultLookaheadWindow   = 64
	defaultMaxBufferSize     = 8 * 1024 * 1024 // 8MB
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultHistoryRetention  = 30 * 24 * time.Hour
	defaultShutdownGracetime = 10 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	History  HistoryConfig  `mapstructure:"history"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// EngineConfig holds pipeline engine configuration.
type EngineConfig struct {
	// QueueCapacity is the number of units buffered per inter-stage queue.
	QueueCapacity int `mapstructure:"queue_capacity"`
	// ExecutionContexts is the number of goroutines driving stages.
	// Zero or negative means one per stage.
	ExecutionContexts int `mapstructure:"execution_contexts"`
	// LookaheadWindow is the per-stream pending limit in the output merge
	// queue.
	LookaheadWindow int `mapstructure:"lookahead_window"`
	// MaxBufferSize caps individual payload buffers. Supports
	// human-readable values like "8MB".
	MaxBufferSize ByteSize `mapstructure:"max_buffer_size"`
	// ShutdownGracetime bounds how long a stop request waits for stages
	// to settle.
	ShutdownGracetime time.Duration `mapstructure:"shutdown_gracetime"`
}

// StorageConfig holds output file configuration.
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	TempDir   string `mapstructure:"temp_dir"`
}

// DatabaseConfig holds run-history database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// HistoryConfig holds run-history recording configuration.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Retention is how long finished run records are kept. Supports
	// human-readable values like "30d" or "4w".
	Retention Duration `mapstructure:"retention"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with FLOWMUX_ and use underscores for
// nesting. Example: FLOWMUX_ENGINE_QUEUE_CAPACITY=64.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/flowmux")
		v.AddConfigPath("$HOME/.flowmux")
	}

	// Environment variable settings
	v.SetEnvPrefix("FLOWMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	// ByteSize and Duration fields accept humanized strings ("8MB", "4w")
	// from files and env vars via their TextUnmarshaler implementations.
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Engine defaults
	v.SetDefault("engine.queue_capacity", defaultQueueCapacity)
	v.SetDefault("engine.execution_contexts", 0)
	v.SetDefault("engine.lookahead_window", defaultLookaheadWindow)
	v.SetDefault("engine.max_buffer_size", defaultMaxBufferSize)
	v.SetDefault("engine.shutdown_gracetime", defaultShutdownGracetime)

	// Storage defaults
	v.SetDefault("storage.output_dir", "./out")
	v.SetDefault("storage.temp_dir", "")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "flowmux.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.retention", defaultHistoryRetention)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Engine validation
	if c.Engine.QueueCapacity < 1 {
		return fmt.Errorf("engine.queue_capacity must be at least 1")
	}
	if c.Engine.LookaheadWindow < 1 {
		return fmt.Errorf("engine.lookahead_window must be at least 1")
	}
	if c.Engine.MaxBufferSize < 1 {
		return fmt.Errorf("engine.max_buffer_size must be positive")
	}

	// Storage validation
	if c.Storage.OutputDir == "" {
		return fmt.Errorf("storage.output_dir is required")
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.History.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when history is enabled")
	}

	return nil
}
