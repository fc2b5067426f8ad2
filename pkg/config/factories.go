package config

import (
	"fmt"

	"github.com/marmos91/dittovfs/pkg/remote"
	"github.com/marmos91/dittovfs/pkg/remote/s3client"
	"github.com/mitchellh/mapstructure"
)

// s3YAMLConfig represents S3 configuration loaded from YAML files.
//
// Bucket and credentials are not part of it: they come from each remote
// address (s3://key:secret@bucket/path).
type s3YAMLConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	KeyPrefix      string `mapstructure:"key_prefix"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// CreateS3Dialer builds the remote.Dialer used by S3-backed remote
// filesystems.
func CreateS3Dialer(options map[string]any, metrics s3client.Metrics) (remote.Dialer, error) {
	var yamlCfg s3YAMLConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &yamlCfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("invalid S3 config: %w", err)
	}

	if yamlCfg.MaxRetries < 0 {
		return nil, fmt.Errorf("S3 max_retries must not be negative")
	}

	return s3client.NewDialer(s3client.Config{
		Region:         yamlCfg.Region,
		Endpoint:       yamlCfg.Endpoint,
		ForcePathStyle: yamlCfg.ForcePathStyle,
		MaxRetries:     yamlCfg.MaxRetries,
		KeyPrefix:      yamlCfg.KeyPrefix,
		Metrics:        metrics,
	}), nil
}
