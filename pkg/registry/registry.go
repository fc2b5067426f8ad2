package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/address"
	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Registry maps URI schemes to filesystem providers and keeps the
// filesystems it opened, keyed by root address.
// It provides thread-safe registration and lookup and implements vfs.Resolver.
//
// Example usage:
//
//	reg := NewRegistry()
//	reg.RegisterProvider(local.NewProvider())
//	reg.RegisterProvider(archive.NewProvider(archive.Options{}))
//
//	node, _ := reg.Resolve(ctx, "zip://[file:///tmp/a.zip]/docs/x.txt", vfs.NodeFile)
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]vfs.Provider
	filesystems map[string]vfs.FileSystem // key: root address key
	views       map[string]*View          // key: scheme
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers:   make(map[string]vfs.Provider),
		filesystems: make(map[string]vfs.FileSystem),
		views:       make(map[string]*View),
	}
}

// RegisterProvider adds a provider for each of its schemes.
// Returns an error if any scheme is already taken.
func (r *Registry) RegisterProvider(p vfs.Provider) error {
	if p == nil {
		return fmt.Errorf("cannot register nil provider")
	}
	schemes := p.Schemes()
	if len(schemes) == 0 {
		return fmt.Errorf("cannot register provider without schemes")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range schemes {
		if s == "" {
			return fmt.Errorf("cannot register provider with empty scheme")
		}
		if _, exists := r.providers[s]; exists {
			return fmt.Errorf("provider for scheme %q already registered", s)
		}
	}
	for _, s := range schemes {
		r.providers[s] = p
	}
	return nil
}

// AddFileSystem registers an already open filesystem under its root address.
// Returns an error if an open filesystem with the same root exists.
func (r *Registry) AddFileSystem(fs vfs.FileSystem) error {
	if fs == nil {
		return fmt.Errorf("cannot register nil filesystem")
	}
	key := fs.RootAddress().RootKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.filesystems[key]; ok && !existing.Closed() {
		return fmt.Errorf("filesystem %q already registered", key)
	}
	r.filesystems[key] = fs
	return nil
}

// ResolveFileSystem returns the filesystem whose root is uri.
// The URI must address a root directory.
func (r *Registry) ResolveFileSystem(ctx context.Context, uri string) (vfs.FileSystem, error) {
	addr, err := address.Parse(uri)
	if err != nil {
		return nil, err
	}
	if !addr.IsRoot() {
		return nil, fserr.NewMalformedAddress(uri, "not a filesystem root")
	}
	return r.fileSystemFor(ctx, addr)
}

// Resolve parses uri and resolves it in the owning filesystem.
func (r *Registry) Resolve(ctx context.Context, uri string, nodeType vfs.NodeType) (vfs.Node, error) {
	addr, err := address.Parse(uri)
	if err != nil {
		return nil, err
	}
	return r.ResolveAddress(ctx, addr, nodeType)
}

// ResolveAddress resolves addr in the owning filesystem, opening it if needed.
func (r *Registry) ResolveAddress(ctx context.Context, addr address.Address, nodeType vfs.NodeType) (vfs.Node, error) {
	fs, err := r.fileSystemFor(ctx, addr)
	if err != nil {
		return nil, err
	}
	return fs.Resolve(ctx, addr, nodeType)
}

// ResolveFile resolves uri as a file.
func (r *Registry) ResolveFile(ctx context.Context, uri string) (vfs.File, error) {
	n, err := r.Resolve(ctx, uri, vfs.NodeFile)
	if err != nil {
		return nil, err
	}
	return vfs.AsFile(n)
}

// ResolveDirectory resolves uri as a directory.
func (r *Registry) ResolveDirectory(ctx context.Context, uri string) (vfs.Directory, error) {
	n, err := r.Resolve(ctx, uri, vfs.NodeDirectory)
	if err != nil {
		return nil, err
	}
	return vfs.AsDirectory(n)
}

// fileSystemFor returns the open filesystem for addr's root, asking the
// scheme's provider to open one when there is none. The registry lock is not
// held while a provider opens, because layered providers resolve their inner
// address through the registry.
func (r *Registry) fileSystemFor(ctx context.Context, addr address.Address) (vfs.FileSystem, error) {
	key := addr.RootKey()

	r.mu.RLock()
	fs, ok := r.filesystems[key]
	p, hasProvider := r.providers[addr.Scheme()]
	r.mu.RUnlock()

	if ok && !fs.Closed() {
		return fs, nil
	}
	if !hasProvider {
		return nil, fserr.New(fserr.ErrNotSupported, "no provider for scheme "+addr.Scheme(), addr.String())
	}

	opened, err := p.Open(ctx, r, addr)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.filesystems[key]; ok && !existing.Closed() {
		r.mu.Unlock()
		_ = opened.Close(ctx)
		return existing, nil
	}
	r.filesystems[key] = opened
	r.mu.Unlock()

	logger.Info("Opened filesystem %s", opened.RootAddress())
	return opened, nil
}

// ListSchemes returns the registered schemes in sorted order.
func (r *Registry) ListSchemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.providers))
	for s := range r.providers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ListFileSystems returns the open filesystems.
func (r *Registry) ListFileSystems() []vfs.FileSystem {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]vfs.FileSystem, 0, len(r.filesystems))
	for _, fs := range r.filesystems {
		if !fs.Closed() {
			out = append(out, fs)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RootAddress().RootKey() < out[j].RootAddress().RootKey()
	})
	return out
}

// CountFileSystems returns the number of open filesystems.
func (r *Registry) CountFileSystems() int {
	return len(r.ListFileSystems())
}

// CloseAll closes every filesystem. Layered filesystems are closed before
// the filesystems they sit on so their final commits can still reach the
// backing store. All errors are returned joined.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	all := make([]vfs.FileSystem, 0, len(r.filesystems))
	for _, fs := range r.filesystems {
		all = append(all, fs)
	}
	r.filesystems = make(map[string]vfs.FileSystem)
	r.views = make(map[string]*View)
	r.mu.Unlock()

	// Views first, then deeper layering first.
	sort.SliceStable(all, func(i, j int) bool {
		return closeRank(all[i]) > closeRank(all[j])
	})

	var errs []error
	for _, fs := range all {
		if fs.Closed() {
			continue
		}
		if err := fs.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", fs.RootAddress(), err))
		}
	}
	return errors.Join(errs...)
}

func closeRank(fs vfs.FileSystem) int {
	if _, ok := fs.(*vfs.View); ok {
		return 1 << 20
	}
	depth := 0
	addr := fs.RootAddress()
	for {
		inner, ok := addr.Inner()
		if !ok {
			return depth
		}
		depth++
		addr = inner
	}
}
