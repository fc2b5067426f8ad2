package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "invalid log level",
			mutate: func(c *Config) { c.Logging.Level = "INVALID" },
			want:   "oneof",
		},
		{
			name:   "invalid log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			want:   "oneof",
		},
		{
			name:   "invalid shadow type",
			mutate: func(c *Config) { c.Archive.Shadow.Type = "tape" },
			want:   "oneof",
		},
		{
			name:   "port out of range",
			mutate: func(c *Config) { c.Remote.DefaultPort = 70000 },
			want:   "lte",
		},
		{
			name:   "negative idle timeout",
			mutate: func(c *Config) { c.Remote.IdleTimeout = -1 },
			want:   "gt",
		},
		{
			name:   "empty view scheme",
			mutate: func(c *Config) { c.Views = []ViewConfig{{URI: "file:///srv"}} },
			want:   "required",
		},
		{
			name:   "archive scheme shadows remote",
			mutate: func(c *Config) { c.Archive.Schemes = []string{"s3"} },
			want:   "already used by remote",
		},
		{
			name:   "view reuses local scheme",
			mutate: func(c *Config) { c.Views = []ViewConfig{{Scheme: "file", URI: "temp:///"}} },
			want:   "already used by local",
		},
		{
			name: "duplicate views",
			mutate: func(c *Config) {
				c.Views = []ViewConfig{{Scheme: "docs", URI: "temp:///a"}, {Scheme: "docs", URI: "temp:///b"}}
			},
			want: "views[0]",
		},
		{
			name:   "malformed view uri",
			mutate: func(c *Config) { c.Views = []ViewConfig{{Scheme: "docs", URI: "no-scheme"}} },
			want:   "invalid uri",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"debug", "Info", "WARN", "error"} {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level
		ApplyDefaults(cfg)

		if err := Validate(cfg); err != nil {
			t.Errorf("Level %q should be accepted, got: %v", level, err)
		}
		if cfg.Logging.Level != strings.ToUpper(level) {
			t.Errorf("Expected %q, got %q", strings.ToUpper(level), cfg.Logging.Level)
		}
	}
}

func TestValidate_MultipleViews(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Views = []ViewConfig{
		{Scheme: "docs", URI: "file:///srv/docs"},
		{Scheme: "backup", URI: "zip://[temp:///backup.zip]/"},
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid views, got: %v", err)
	}
}
