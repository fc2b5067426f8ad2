// Package gc removes orphaned shadows from a shadow store.
//
// A shadow is orphaned when no open archive filesystem references it. This
// happens when:
//   - The process exits before an archive is closed
//   - A commit fails and the archive is closed anyway
//   - Deleting a shadow after a successful commit fails
//
// Persistent stores (filesystem, badger) keep orphans across restarts, so
// they grow without bound unless something sweeps them.
package gc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/shadow"
)

// InUseFunc returns the shadows currently referenced by open archives.
type InUseFunc func() []shadow.ID

// Collector periodically deletes orphaned shadows.
//
// The store is listed before the in-use set is taken, so a shadow created
// during a run is never mistaken for an orphan. MinAge protects shadows
// owned by archives the collector cannot see, such as those of another
// process sharing a filesystem store.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	store  shadow.Store
	inUse  InUseFunc
	config Config

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config contains configuration for the collector.
type Config struct {
	// Enabled controls whether the background worker runs
	Enabled bool

	// Interval between runs (default: 1h)
	Interval time.Duration

	// MinAge is how long a shadow must be untouched before it may be
	// collected (default: 24h)
	MinAge time.Duration

	// BatchSize caps deletions per run (default: 1000)
	BatchSize int

	// DryRun logs what would be deleted without deleting
	DryRun bool
}

// NewCollector creates a collector over store. inUse may be nil when no
// archive can be open, for example in maintenance tools.
func NewCollector(store shadow.Store, inUse InUseFunc, config Config) (*Collector, error) {
	if store == nil {
		return nil, errors.New("gc: shadow store is required")
	}
	if inUse == nil {
		inUse = func() []shadow.ID { return nil }
	}
	if config.Interval == 0 {
		config.Interval = time.Hour
	}
	if config.MinAge == 0 {
		config.MinAge = 24 * time.Hour
	}
	if config.BatchSize == 0 {
		config.BatchSize = 1000
	}

	return &Collector{
		store:  store,
		inUse:  inUse,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the background worker. Subsequent calls are no-ops.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Debug("Shadow collection disabled")
		return
	}
	c.startOnce.Do(func() {
		c.started.Store(true)
		logger.Info("Starting shadow collector: interval=%s min_age=%s batch_size=%d dry_run=%v",
			c.config.Interval, c.config.MinAge, c.config.BatchSize, c.config.DryRun)
		go c.worker()
	})
}

// Stop signals the worker and waits for the current run to finish or ctx
// to expire. Safe to call multiple times and without Start.
func (c *Collector) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if !c.started.Load() {
		return nil
	}

	select {
	case <-c.doneCh:
		logger.Debug("Shadow collector stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Shadow collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow performs one collection and blocks until it completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ticker.C:
			stats, err := c.collect(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("Shadow collection failed: %v", err)
				}
				continue
			}
			if stats.OrphanedCount > 0 {
				logger.Info("Shadow collection completed: %s", stats.Summary())
			}
		case <-c.stopCh:
			return
		}
	}
}

// collect runs one pass:
//  1. List every shadow in the store
//  2. Take the set referenced by open archives
//  3. Delete unreferenced shadows older than MinAge, up to BatchSize
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	ids, err := c.store.IDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list shadows: %w", err)
	}
	stats.ExistingCount = uint64(len(ids))

	referenced := make(map[shadow.ID]struct{})
	for _, id := range c.inUse() {
		referenced[id] = struct{}{}
	}
	stats.ReferencedCount = uint64(len(referenced))

	cutoff := stats.StartTime.Add(-c.config.MinAge)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if _, ok := referenced[id]; ok {
			continue
		}

		info, err := c.store.Stat(ctx, id)
		if errors.Is(err, shadow.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.Debug("gc: stat %s: %v", id, err)
			stats.FailedCount++
			continue
		}
		if info.ModTime.After(cutoff) {
			stats.YoungCount++
			continue
		}

		stats.OrphanedCount++
		if stats.OrphanedCount > uint64(c.config.BatchSize) {
			continue
		}
		if c.config.DryRun {
			logger.Info("gc: would delete shadow %s (%d bytes, modified %s)", id, info.Size, info.ModTime.Format(time.RFC3339))
			continue
		}
		if err := c.store.Delete(ctx, id); err != nil {
			logger.Warn("gc: failed to delete shadow %s: %v", id, err)
			stats.FailedCount++
			continue
		}
		stats.DeletedCount++
		stats.ReclaimedBytes += uint64(info.Size)
	}

	return stats, nil
}

// Stats describes one collection run.
type Stats struct {
	StartTime       time.Time
	EndTime         time.Time
	ExistingCount   uint64 // shadows in the store
	ReferencedCount uint64 // shadows held by open archives
	YoungCount      uint64 // unreferenced but newer than MinAge
	OrphanedCount   uint64 // eligible for deletion
	DeletedCount    uint64
	FailedCount     uint64
	ReclaimedBytes  uint64
}

// Duration returns the run duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary.
func (s *Stats) Summary() string {
	return fmt.Sprintf("existing=%d referenced=%d young=%d orphaned=%d deleted=%d failed=%d reclaimed=%s duration=%s",
		s.ExistingCount, s.ReferencedCount, s.YoungCount, s.OrphanedCount,
		s.DeletedCount, s.FailedCount, humanize.IBytes(s.ReclaimedBytes), s.Duration())
}
