package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/internal/ratelimiter"
	"github.com/marmos91/dittovfs/pkg/archive"
	"github.com/marmos91/dittovfs/pkg/archive/zipcodec"
	"github.com/marmos91/dittovfs/pkg/gc"
	"github.com/marmos91/dittovfs/pkg/local"
	"github.com/marmos91/dittovfs/pkg/registry"
	"github.com/marmos91/dittovfs/pkg/remote"
	"github.com/marmos91/dittovfs/pkg/shadow"
)

// BuildManager creates a filesystem registry with every provider described
// by cfg and publishes the configured views.
//
// The returned cleanup function stops the shadow collector, closes every
// open filesystem (archives commit their pending changes at this point) and
// then the shared shadow store. It must be called exactly once.
//
// Steps:
//  1. Create the shadow store used by archive filesystems
//  2. Register the local, remote and archive providers
//  3. Publish views
//  4. Sweep orphaned shadows and start the collector, when enabled
//
// Example:
//
//	cfg, _ := config.Load("")
//	reg, cleanup, err := config.BuildManager(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatalf("Failed to build manager: %v", err)
//	}
//	defer cleanup(ctx)
func BuildManager(ctx context.Context, cfg *Config, m *MetricsResult) (*registry.Registry, func(context.Context) error, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("configuration is nil")
	}
	if m == nil {
		m = &MetricsResult{}
	}
	logger.Debug("Building filesystem manager from configuration")

	// ========================================================================
	// Step 1: Shadow store
	// ========================================================================

	shadows, err := CreateShadowStore(ctx, &cfg.Archive.Shadow)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create shadow store: %w", err)
	}
	logger.Debug("Shadow store: %s", cfg.Archive.Shadow.Type)

	reg := registry.NewRegistry()
	var collector *gc.Collector
	cleanup := func(ctx context.Context) error {
		var stopErr error
		if collector != nil {
			stopErr = collector.Stop(ctx)
		}
		return errors.Join(stopErr, reg.CloseAll(ctx), shadows.Close())
	}
	fail := func(err error) (*registry.Registry, func(context.Context) error, error) {
		_ = cleanup(context.WithoutCancel(ctx))
		return nil, nil, err
	}

	// ========================================================================
	// Step 2: Providers
	// ========================================================================

	if err := reg.RegisterProvider(local.NewProvider(local.Options{TempDir: cfg.Local.TempDir})); err != nil {
		return fail(err)
	}

	dialer, err := CreateS3Dialer(cfg.Remote.S3, m.S3)
	if err != nil {
		return fail(err)
	}
	remoteOpts := remote.Options{
		Dialer:          dialer,
		IdleTimeout:     cfg.Remote.IdleTimeout,
		JanitorInterval: cfg.Remote.JanitorInterval,
		DialLimiter:     ratelimiter.New(cfg.Remote.DialRate, cfg.Remote.DialBurst),
		DefaultPort:     cfg.Remote.DefaultPort,
		Registry:        remote.NewRegistry(),
		PoolMetrics:     m.Pool,
		Metrics:         m.Remote,
	}
	if err := reg.RegisterProvider(remote.NewProvider(remoteOpts, cfg.Remote.Schemes...)); err != nil {
		return fail(err)
	}

	archiveOpts := archive.Options{
		Codec:    zipcodec.New(),
		Shadows:  shadows,
		ReadOnly: cfg.Archive.ReadOnly,
		Metrics:  m.Archive,
		SpoolDir: cfg.Archive.SpoolDir,
	}
	if err := reg.RegisterProvider(archive.NewProvider(archiveOpts, cfg.Archive.Schemes...)); err != nil {
		return fail(err)
	}
	logger.Debug("Registered schemes: %v", reg.ListSchemes())

	// ========================================================================
	// Step 3: Views
	// ========================================================================

	for _, v := range cfg.Views {
		if _, err := reg.AddView(ctx, registry.ViewConfig{Scheme: v.Scheme, URI: v.URI}); err != nil {
			return fail(fmt.Errorf("failed to add view %s: %w", v.Scheme, err))
		}
	}

	// ========================================================================
	// Step 4: Shadow collector
	// ========================================================================

	if gcCfg := cfg.Archive.Shadow.GC; gcCfg.Enabled {
		collector, err = gc.NewCollector(shadows, archiveShadows(reg), gc.Config{
			Enabled:   true,
			Interval:  gcCfg.Interval,
			MinAge:    gcCfg.MinAge,
			BatchSize: gcCfg.BatchSize,
			DryRun:    gcCfg.DryRun,
		})
		if err != nil {
			return fail(err)
		}
		stats, err := collector.RunNow(ctx)
		if err != nil {
			return fail(fmt.Errorf("initial shadow collection failed: %w", err))
		}
		if stats.OrphanedCount > 0 {
			logger.Info("Shadow collection at startup: %s", stats.Summary())
		}
		collector.Start()
	}

	return reg, cleanup, nil
}

// archiveShadows reports the shadows held by every archive open in reg.
func archiveShadows(reg *registry.Registry) gc.InUseFunc {
	return func() []shadow.ID {
		var ids []shadow.ID
		for _, fs := range reg.ListFileSystems() {
			if afs, ok := fs.(*archive.FileSystem); ok {
				ids = append(ids, afs.ShadowIDs()...)
			}
		}
		return ids
	}
}
