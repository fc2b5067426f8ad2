package config

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittovfs/pkg/fserr"
	shadowfs "github.com/marmos91/dittovfs/pkg/shadow/fs"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateShadowStore_Filesystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shadows")
	store, err := CreateShadowStore(context.Background(), &ShadowConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": dir},
	})
	require.NoError(t, err)
	defer store.Close()

	fsStore, ok := store.(*shadowfs.Store)
	require.True(t, ok)
	assert.Equal(t, dir, fsStore.BasePath())
}

func TestCreateShadowStore_FilesystemMissingPath(t *testing.T) {
	_, err := CreateShadowStore(context.Background(), &ShadowConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{},
	})
	assert.ErrorContains(t, err, "path is required")
}

func TestCreateShadowStore_Memory(t *testing.T) {
	store, err := CreateShadowStore(context.Background(), &ShadowConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = CreateShadowStore(context.Background(), &ShadowConfig{
		Type:   "memory",
		Memory: map[string]any{"max_size_bytes": 10},
	})
	assert.ErrorContains(t, err, "invalid memory config")
}

func TestCreateShadowStore_Badger(t *testing.T) {
	store, err := CreateShadowStore(context.Background(), &ShadowConfig{
		Type:   "badger",
		Badger: map[string]any{"db_path": filepath.Join(t.TempDir(), "shadows.db")},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestCreateShadowStore_UnknownType(t *testing.T) {
	_, err := CreateShadowStore(context.Background(), &ShadowConfig{Type: "tape"})
	assert.ErrorContains(t, err, "unknown shadow store type")
}

func TestCreateShadowStore_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CreateShadowStore(ctx, &ShadowConfig{Type: "memory"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCreateS3Dialer(t *testing.T) {
	dialer, err := CreateS3Dialer(map[string]any{
		"region":      "eu-west-1",
		"endpoint":    "http://localhost:9000",
		"max_retries": "3",
	}, nil)
	require.NoError(t, err)
	assert.NotNil(t, dialer)

	_, err = CreateS3Dialer(map[string]any{"max_retries": -1}, nil)
	assert.ErrorContains(t, err, "max_retries")
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := GetDefaultConfig()
	cfg.Local.TempDir = t.TempDir()
	cfg.Remote.JanitorInterval = 0
	return cfg
}

func TestBuildManager(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	reg, cleanup, err := BuildManager(ctx, cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"file", "s3", "temp", "zip"}, reg.ListSchemes())

	f, err := reg.ResolveFile(ctx, "temp:///notes.txt")
	require.NoError(t, err)
	w, err := f.OpenWriter(ctx)
	require.NoError(t, err)
	_, err = io.WriteString(w, "hello")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, cleanup(ctx))
}

func TestBuildManager_ArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Archive.Shadow = ShadowConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": filepath.Join(t.TempDir(), "shadows")},
	}

	reg, cleanup, err := BuildManager(ctx, cfg, nil)
	require.NoError(t, err)

	// An empty zip is 22 bytes: the end of central directory record.
	backing, err := reg.ResolveFile(ctx, "temp:///backup.zip")
	require.NoError(t, err)
	w, err := backing.OpenWriter(ctx)
	require.NoError(t, err)
	_, err = w.Write(append([]byte("PK\x05\x06"), make([]byte, 18)...))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := reg.ResolveFile(ctx, "zip://[temp:///backup.zip]/report.txt")
	require.NoError(t, err)
	w, err = f.OpenWriter(ctx)
	require.NoError(t, err)
	_, err = io.WriteString(w, "quarterly")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, cleanup(ctx))

	reg, cleanup, err = BuildManager(ctx, cfg, nil)
	require.NoError(t, err)
	defer cleanup(ctx)

	f, err = reg.ResolveFile(ctx, "zip://[temp:///backup.zip]/report.txt")
	require.NoError(t, err)
	r, err := f.OpenReader(ctx)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "quarterly", string(data))
}

func TestBuildManager_CollectsOrphanedShadows(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "shadows")

	// A shadow left behind by an earlier run.
	store, err := shadowfs.New(ctx, dir)
	require.NoError(t, err)
	_, err = store.Create(ctx)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	cfg := testConfig(t)
	cfg.Archive.Shadow = ShadowConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": dir},
		GC:         GCConfig{Enabled: true, Interval: time.Hour, MinAge: time.Millisecond, BatchSize: 10},
	}

	_, cleanup, err := BuildManager(ctx, cfg, nil)
	require.NoError(t, err)
	defer cleanup(ctx)

	ids, err := store.IDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBuildManager_Views(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	// The view target must exist before the manager is built.
	bootstrap, cleanup, err := BuildManager(ctx, cfg, nil)
	require.NoError(t, err)
	dir, err := bootstrap.ResolveDirectory(ctx, "temp:///docs")
	require.NoError(t, err)
	require.NoError(t, dir.Create(ctx, true))
	require.NoError(t, cleanup(ctx))

	cfg.Views = []ViewConfig{{Scheme: "docs", URI: "temp:///docs"}}
	reg, cleanup, err := BuildManager(ctx, cfg, nil)
	require.NoError(t, err)
	defer cleanup(ctx)

	assert.Equal(t, []string{"docs"}, reg.ListViews())

	_, err = reg.Resolve(ctx, "docs:///../escape", vfs.NodeAny)
	assert.True(t, errors.Is(err, fserr.InvalidPath))
}

func TestBuildManager_BadView(t *testing.T) {
	cfg := testConfig(t)
	cfg.Views = []ViewConfig{{Scheme: "docs", URI: "nowhere:///x"}}

	_, _, err := BuildManager(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "docs"))
}
