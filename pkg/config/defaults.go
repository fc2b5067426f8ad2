package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittovfs/pkg/archive"
	"github.com/marmos91/dittovfs/pkg/pool"
	"github.com/marmos91/dittovfs/pkg/remote"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyLocalDefaults(&cfg.Local)
	applyRemoteDefaults(&cfg.Remote)
	applyArchiveDefaults(&cfg.Archive)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyLocalDefaults(cfg *LocalConfig) {
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "dittovfs")
	}
}

func applyRemoteDefaults(cfg *RemoteConfig) {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = pool.DefaultIdleTimeout
	}
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = time.Minute
	}
	if cfg.DefaultPort == 0 {
		cfg.DefaultPort = remote.DefaultPort
	}
	if cfg.DialRate > 0 && cfg.DialBurst == 0 {
		cfg.DialBurst = int(math.Ceil(cfg.DialRate))
	}
	if len(cfg.Schemes) == 0 {
		cfg.Schemes = []string{"s3"}
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
	if _, ok := cfg.S3["region"]; !ok {
		cfg.S3["region"] = "us-east-1"
	}
	if _, ok := cfg.S3["max_retries"]; !ok {
		cfg.S3["max_retries"] = 10
	}
}

func applyArchiveDefaults(cfg *ArchiveConfig) {
	if len(cfg.Schemes) == 0 {
		cfg.Schemes = []string{archive.DefaultScheme}
	}
	applyShadowDefaults(&cfg.Shadow)
}

// applyShadowDefaults sets shadow store defaults.
func applyShadowDefaults(cfg *ShadowConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Defaults for every type, so generated config files show them.
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = filepath.Join(os.TempDir(), "dittovfs-shadows")
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(os.TempDir(), "dittovfs-shadows.db")
	}

	if cfg.GC.Interval == 0 {
		cfg.GC.Interval = time.Hour
	}
	if cfg.GC.MinAge == 0 {
		cfg.GC.MinAge = 24 * time.Hour
	}
	if cfg.GC.BatchSize == 0 {
		cfg.GC.BatchSize = 1000
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
