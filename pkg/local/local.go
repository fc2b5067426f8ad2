// Package local implements the filesystem provider for the host disk.
//
// Two schemes are served:
//
//	file:///abs/path   host paths, rooted at "/"
//	temp:///name       paths below a per-provider temporary directory
//
// This is the leaf of most layered addresses: an archive at
// zip://[file:///tmp/a.zip]/ reads and writes its container through a local
// file node.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/address"
	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

const (
	SchemeFile = "file"
	SchemeTemp = "temp"
)

// Options configures the local provider.
type Options struct {
	// TempDir is the directory backing temp:/// addresses.
	// Defaults to <os.TempDir()>/dittovfs.
	TempDir string

	// Security filters activity notifications. Nil allows everything.
	Security vfs.SecurityManager
}

// Provider opens local filesystems.
type Provider struct {
	opts Options
}

// NewProvider creates a provider for the file and temp schemes.
func NewProvider(opts Options) *Provider {
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "dittovfs")
	}
	return &Provider{opts: opts}
}

// Schemes implements vfs.Provider.
func (p *Provider) Schemes() []string {
	return []string{SchemeFile, SchemeTemp}
}

// Open implements vfs.Provider.
func (p *Provider) Open(ctx context.Context, _ vfs.Resolver, root address.Address) (vfs.FileSystem, error) {
	switch root.Scheme() {
	case SchemeFile:
		if root.Server() != "" && root.Server() != "localhost" {
			return nil, fserr.NewMalformedAddress(root.String(), "remote host in file address")
		}
		return New(ctx, root, string(filepath.Separator), p.opts.Security)
	case SchemeTemp:
		return New(ctx, root, p.opts.TempDir, p.opts.Security)
	default:
		return nil, fserr.New(fserr.ErrNotSupported, "unsupported scheme", root.String())
	}
}

// FileSystem exposes a directory tree of the host disk.
//
// Thread Safety:
// Node resolution is serialized by the identity cache. Content operations are
// plain OS calls; concurrent writers to the same file must be serialized by
// the caller.
type FileSystem struct {
	*vfs.Base
	basePath string
}

// New creates a local filesystem rooted at basePath, creating the directory
// if it does not exist.
//
// Parameters:
//   - ctx: Context for cancellation
//   - root: Root address of the filesystem (file:/// or temp:///)
//   - basePath: Host directory backing the root
//   - security: Activity filter, nil allows everything
func New(ctx context.Context, root address.Address, basePath string, security vfs.SecurityManager) (*FileSystem, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Create the base directory if it doesn't exist
	// ========================================================================

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	fs := &FileSystem{basePath: basePath}
	fs.Base = vfs.NewBase(root, fs.newNode, security)
	return fs, nil
}

// BasePath returns the host directory backing the root.
func (fs *FileSystem) BasePath() string { return fs.basePath }

// Resolve implements vfs.FileSystem.
func (fs *FileSystem) Resolve(ctx context.Context, addr address.Address, nodeType vfs.NodeType) (vfs.Node, error) {
	return fs.ResolveNode(ctx, addr, nodeType)
}

// Close implements vfs.FileSystem. Nothing on disk is touched.
func (fs *FileSystem) Close(ctx context.Context) error {
	if fs.MarkClosed() {
		logger.Debug("local: closed %s", fs.RootAddress())
	}
	return nil
}

// HostPath maps an address to its host path.
func (fs *FileSystem) HostPath(addr address.Address) (string, error) {
	segments := addr.Segments()
	for _, s := range segments {
		if strings.ContainsRune(s, filepath.Separator) {
			return "", fserr.NewInvalidPath(addr.AbsolutePath(), "segment contains a path separator")
		}
	}
	return filepath.Join(append([]string{fs.basePath}, segments...)...), nil
}

func (fs *FileSystem) newNode(ctx context.Context, addr address.Address, nodeType vfs.NodeType) (vfs.Node, error) {
	hostPath, err := fs.HostPath(addr)
	if err != nil {
		return nil, err
	}

	if nodeType == vfs.NodeAny {
		nodeType = vfs.NodeFile
		if info, err := os.Stat(hostPath); err == nil && info.IsDir() {
			nodeType = vfs.NodeDirectory
		}
	}

	switch nodeType {
	case vfs.NodeFile:
		return &file{node{BaseNode: vfs.NewBaseNode(fs, addr, vfs.NodeFile, newAttributes()), fs: fs, hostPath: hostPath}}, nil
	case vfs.NodeDirectory:
		return &directory{node{BaseNode: vfs.NewBaseNode(fs, addr, vfs.NodeDirectory, newAttributes()), fs: fs, hostPath: hostPath}}, nil
	default:
		return nil, fserr.NewNodeTypeNotSupported(addr.String(), nodeType)
	}
}

func (fs *FileSystem) notify(ctx context.Context, n vfs.Node, t vfs.ActivityType) {
	fs.NotifyActivity(ctx, n, vfs.ActivityEvent{Type: t, Address: n.Address(), NodeType: n.Type()})
}

func newAttributes() *vfs.Attributes {
	return vfs.NewAttributes(nil, vfs.AttrExists, vfs.AttrSize)
}

// translate converts an OS error into a filesystem error for path.
func translate(err error, path string) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return fserr.Wrap(fserr.ErrFileNotFound, err, path)
	case os.IsExist(err):
		return fserr.Wrap(fserr.ErrAlreadyExists, err, path)
	case os.IsPermission(err):
		return fserr.Wrap(fserr.ErrReadOnly, err, path)
	}
	return err
}
