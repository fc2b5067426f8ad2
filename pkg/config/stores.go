package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittovfs/pkg/shadow"
	shadowbadger "github.com/marmos91/dittovfs/pkg/shadow/badger"
	shadowfs "github.com/marmos91/dittovfs/pkg/shadow/fs"
	shadowmemory "github.com/marmos91/dittovfs/pkg/shadow/memory"
	"github.com/mitchellh/mapstructure"
)

// CreateShadowStore creates the shadow store selected by cfg.Type.
func CreateShadowStore(ctx context.Context, cfg *ShadowConfig) (shadow.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "filesystem":
		return createFilesystemShadowStore(ctx, cfg.Filesystem)
	case "memory":
		return createMemoryShadowStore(cfg.Memory)
	case "badger":
		return createBadgerShadowStore(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown shadow store type: %q", cfg.Type)
	}
}

// createFilesystemShadowStore creates a directory-backed shadow store.
func createFilesystemShadowStore(ctx context.Context, options map[string]any) (shadow.Store, error) {
	var fsCfg struct {
		Path string `mapstructure:"path"`
	}
	if err := mapstructure.Decode(options, &fsCfg); err != nil {
		return nil, fmt.Errorf("invalid filesystem config: %w", err)
	}

	if fsCfg.Path == "" {
		return nil, fmt.Errorf("filesystem path is required")
	}

	store, err := shadowfs.New(ctx, fsCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize filesystem shadow store: %w", err)
	}
	return store, nil
}

// createMemoryShadowStore creates an in-memory shadow store. It takes no
// options; unknown keys are rejected so typos do not go unnoticed.
func createMemoryShadowStore(options map[string]any) (shadow.Store, error) {
	var memCfg struct{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &memCfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("invalid memory config: %w", err)
	}
	return shadowmemory.New(), nil
}

// createBadgerShadowStore creates a BadgerDB shadow store.
func createBadgerShadowStore(ctx context.Context, options map[string]any) (shadow.Store, error) {
	var badgerCfg struct {
		DBPath   string `mapstructure:"db_path"`
		InMemory bool   `mapstructure:"in_memory"`
	}
	if err := mapstructure.Decode(options, &badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	store, err := shadowbadger.New(ctx, shadowbadger.Config{
		DBPath:   badgerCfg.DBPath,
		InMemory: badgerCfg.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return store, nil
}
