package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittovfs/pkg/address"
	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/marmos91/dittovfs/pkg/local"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	tmp := t.TempDir()
	reg := NewRegistry()
	require.NoError(t, reg.RegisterProvider(local.NewProvider(local.Options{TempDir: tmp})))
	t.Cleanup(func() { _ = reg.CloseAll(context.Background()) })
	return reg, tmp
}

func TestRegisterProvider(t *testing.T) {
	reg := NewRegistry()

	assert.Error(t, reg.RegisterProvider(nil))
	require.NoError(t, reg.RegisterProvider(local.NewProvider(local.Options{})))
	assert.Error(t, reg.RegisterProvider(local.NewProvider(local.Options{})))
	assert.Equal(t, []string{"file", "temp"}, reg.ListSchemes())
}

func TestResolveOpensFileSystemOnce(t *testing.T) {
	ctx := context.Background()
	reg, tmp := newTestRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "a.txt"), []byte("x"), 0644))

	f1, err := reg.ResolveFile(ctx, "temp:///a.txt")
	require.NoError(t, err)
	f2, err := reg.ResolveFile(ctx, "temp:///sub/../a.txt")
	require.NoError(t, err)

	assert.Same(t, f1, f2)
	assert.Equal(t, 1, reg.CountFileSystems())
}

func TestResolveFileSystemRequiresRoot(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	fs, err := reg.ResolveFileSystem(ctx, "temp:///")
	require.NoError(t, err)
	assert.Equal(t, "temp:///", fs.RootAddress().String())

	_, err = reg.ResolveFileSystem(ctx, "temp:///not/root")
	assert.True(t, errors.Is(err, fserr.MalformedAddress))

	_, err = reg.ResolveFileSystem(ctx, "nope:///")
	assert.True(t, errors.Is(err, fserr.NotSupported))
}

func TestReopenAfterClose(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	fs1, err := reg.ResolveFileSystem(ctx, "temp:///")
	require.NoError(t, err)
	require.NoError(t, fs1.Close(ctx))

	fs2, err := reg.ResolveFileSystem(ctx, "temp:///")
	require.NoError(t, err)
	assert.NotSame(t, fs1, fs2)
	assert.False(t, fs2.Closed())
}

func TestViews(t *testing.T) {
	ctx := context.Background()
	reg, tmp := newTestRegistry(t)
	require.NoError(t, os.MkdirAll(filepath.Join(tmp, "share", "docs"), 0755))

	v, err := reg.AddView(ctx, ViewConfig{Scheme: "share", URI: "temp:///share"})
	require.NoError(t, err)
	assert.Equal(t, "temp:///share", v.TargetURI)

	_, err = reg.AddView(ctx, ViewConfig{Scheme: "share", URI: "temp:///share"})
	assert.Error(t, err)
	_, err = reg.AddView(ctx, ViewConfig{Scheme: "temp", URI: "temp:///share"})
	assert.Error(t, err)

	d, err := reg.ResolveDirectory(ctx, "share:///docs")
	require.NoError(t, err)
	exists, err := d.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = reg.Resolve(ctx, "share:///../x", vfs.NodeFile)
	assert.True(t, errors.Is(err, fserr.InvalidPath))

	assert.Equal(t, []string{"share"}, reg.ListViews())
	require.NoError(t, reg.RemoveView(ctx, "share"))
	assert.True(t, v.FS.Closed())
	_, err = reg.Resolve(ctx, "share:///docs", vfs.NodeDirectory)
	assert.True(t, errors.Is(err, fserr.NotSupported))
}

func TestCloseAll(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	fs, err := reg.ResolveFileSystem(ctx, "temp:///")
	require.NoError(t, err)
	_, err = reg.AddView(ctx, ViewConfig{Scheme: "v", URI: "temp:///"})
	require.NoError(t, err)

	require.NoError(t, reg.CloseAll(ctx))
	assert.True(t, fs.Closed())
	assert.Equal(t, 0, reg.CountFileSystems())
}

func TestCloseRank(t *testing.T) {
	plain := address.MustParse("file:///")
	layered := address.MustParse("zip://[zip://[file:///a.zip]/b.zip]/")

	assert.Equal(t, 0, closeRank(rootOnly{plain}))
	assert.Equal(t, 2, closeRank(rootOnly{layered}))
}

type rootOnly struct {
	root address.Address
}

func (r rootOnly) RootAddress() address.Address { return r.root }
func (r rootOnly) Resolve(context.Context, address.Address, vfs.NodeType) (vfs.Node, error) {
	return nil, nil
}
func (r rootOnly) Subscribe(vfs.ActivityHandler) func() { return func() {} }
func (r rootOnly) Close(context.Context) error          { return nil }
func (r rootOnly) Closed() bool                         { return false }
