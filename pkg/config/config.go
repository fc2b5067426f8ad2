package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete DittoVFS configuration.
//
// This structure captures all configurable aspects of the filesystem manager:
//   - Logging configuration
//   - Local provider settings (temp:/// directory)
//   - Remote filesystems (pool timeouts, S3 protocol settings)
//   - Archive filesystems (read-only mode, shadow store selection)
//   - Metrics exposure
//   - Views published under their own scheme
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOVFS_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Store Configuration Pattern:
// Store-specific sections are kept as maps and decoded by the factory of the
// selected type, so only the section matching Type is interpreted.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Local configures the file:// and temp:// provider
	Local LocalConfig `mapstructure:"local" yaml:"local"`

	// Remote configures remote filesystems
	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`

	// Archive configures layered archive filesystems
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Views are bounded filesystems published under their own scheme
	Views []ViewConfig `mapstructure:"views" yaml:"views" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// LocalConfig configures the local provider.
type LocalConfig struct {
	// TempDir backs temp:/// addresses
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir" validate:"required"`
}

// RemoteConfig configures remote filesystems.
type RemoteConfig struct {
	// IdleTimeout is how long a pooled client may stay idle before it is
	// disconnected
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"required,gt=0"`

	// JanitorInterval is how often idle clients are swept in the background.
	// Expired clients are also discarded on lease.
	JanitorInterval time.Duration `mapstructure:"janitor_interval" yaml:"janitor_interval" validate:"gte=0"`

	// DialRate caps new connections per second across all remote
	// filesystems. Zero means unlimited.
	DialRate float64 `mapstructure:"dial_rate" yaml:"dial_rate" validate:"gte=0"`

	// DialBurst is how many connections may be opened at once before
	// DialRate applies
	DialBurst int `mapstructure:"dial_burst" yaml:"dial_burst" validate:"gte=0"`

	// DefaultPort replaces a missing port in remote addresses
	DefaultPort int `mapstructure:"default_port" yaml:"default_port" validate:"required,gt=0,lte=65535"`

	// Schemes served by the S3 protocol client
	Schemes []string `mapstructure:"schemes" yaml:"schemes" validate:"dive,required"`

	// S3 contains S3-specific configuration
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// ArchiveConfig configures archive filesystems.
type ArchiveConfig struct {
	// ReadOnly opens every archive read-only
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`

	// Schemes served by the zip codec
	Schemes []string `mapstructure:"schemes" yaml:"schemes" validate:"dive,required"`

	// SpoolDir keeps the working copy of each container on disk instead of
	// in memory
	SpoolDir string `mapstructure:"spool_dir" yaml:"spool_dir"`

	// Shadow selects where pending writes are kept until commit
	Shadow ShadowConfig `mapstructure:"shadow" yaml:"shadow"`
}

// ShadowConfig specifies shadow store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type ShadowConfig struct {
	// Type specifies which shadow store implementation to use
	// Valid values: filesystem, memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory badger"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// GC sweeps shadows left behind by archives that were never committed
	GC GCConfig `mapstructure:"gc" yaml:"gc"`
}

// GCConfig controls the orphaned shadow collector.
type GCConfig struct {
	// Enabled runs a sweep at startup and then every Interval
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gte=0"`

	// MinAge is how long an unreferenced shadow is kept before collection
	MinAge time.Duration `mapstructure:"min_age" yaml:"min_age" validate:"gte=0"`

	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"gte=0"`

	// DryRun logs candidates without deleting them
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port the /metrics endpoint listens on
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
}

// ViewConfig publishes a directory under its own scheme.
type ViewConfig struct {
	// Scheme of the view (e.g. "docs" for docs:///)
	Scheme string `mapstructure:"scheme" yaml:"scheme" validate:"required"`

	// URI of the target directory
	URI string `mapstructure:"uri" yaml:"uri" validate:"required"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOVFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOVFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOVFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"local.temp_dir",
		"remote.idle_timeout", "remote.default_port", "remote.dial_rate",
		"archive.read_only", "archive.spool_dir", "archive.shadow.type", "archive.shadow.gc.enabled",
		"metrics.enabled", "metrics.port",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittovfs/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittovfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittovfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
