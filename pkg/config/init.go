package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// sectionComments are written above each top-level section of a generated
// configuration file.
var sectionComments = map[string]string{
	"logging": "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, file path)",
	"local":   "Local provider: temp_dir backs temp:/// addresses",
	"remote": "Remote filesystems: pooled clients are disconnected after idle_timeout.\n" +
		"dial_rate limits new connections per second (0 = unlimited).\n" +
		"Addresses look like s3://key:secret@bucket/path?region=eu-west-1",
	"archive": "Archive filesystems (zip://[inner-uri]/path). Pending writes live in the\n" +
		"shadow store (filesystem, memory, badger) until the archive is closed.\n" +
		"shadow.gc removes shadows no open archive references once older than min_age.",
	"metrics": "Prometheus endpoint served at :port/metrics when enabled",
	"views":   "Views publish a directory under its own scheme, e.g.\n- scheme: docs\n  uri: file:///srv/docs",
}

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and a comment
// above every top-level section.
func generateYAMLWithComments(cfg *Config) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	// doc is a mapping of alternating key and value nodes.
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if c, ok := sectionComments[key.Value]; ok {
			key.HeadComment = c
		}
	}

	var buf bytes.Buffer
	buf.WriteString("# DittoVFS Configuration File\n")
	buf.WriteString("# Values can be overridden with DITTOVFS_* environment variables\n")
	buf.WriteString("# (e.g. DITTOVFS_LOGGING_LEVEL=DEBUG).\n\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
