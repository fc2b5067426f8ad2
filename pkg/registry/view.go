package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// View binds a scheme to a directory of another filesystem.
// Resolving scheme:///path reaches <target>/path, and nothing above target.
type View struct {
	Scheme    string
	TargetURI string
	FS        *vfs.View
}

// ViewConfig contains everything needed to publish a view.
type ViewConfig struct {
	Scheme   string
	URI      string
	Security vfs.SecurityManager
}

// AddView resolves the target directory and publishes a view of it.
//
// Returns an error if:
//   - the scheme is empty or already used by a provider or another view
//   - the target cannot be resolved as a directory
func (r *Registry) AddView(ctx context.Context, cfg ViewConfig) (*View, error) {
	if cfg.Scheme == "" {
		return nil, fmt.Errorf("cannot add view with empty scheme")
	}

	r.mu.RLock()
	_, providerTaken := r.providers[cfg.Scheme]
	_, viewTaken := r.views[cfg.Scheme]
	r.mu.RUnlock()
	if providerTaken || viewTaken {
		return nil, fmt.Errorf("scheme %q already in use", cfg.Scheme)
	}

	target, err := r.ResolveDirectory(ctx, cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("resolve view target %s: %w", cfg.URI, err)
	}

	fs, err := vfs.NewView(cfg.Scheme, target, cfg.Security)
	if err != nil {
		return nil, err
	}
	if err := r.AddFileSystem(fs); err != nil {
		_ = fs.Close(ctx)
		return nil, err
	}

	v := &View{Scheme: cfg.Scheme, TargetURI: target.Address().String(), FS: fs}

	r.mu.Lock()
	r.views[cfg.Scheme] = v
	r.mu.Unlock()

	logger.Info("View %s:/// -> %s", cfg.Scheme, v.TargetURI)
	return v, nil
}

// GetView returns the view published under scheme.
func (r *Registry) GetView(scheme string) (*View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.views[scheme]
	if !ok {
		return nil, fmt.Errorf("view %q not found", scheme)
	}
	return v, nil
}

// RemoveView closes and unregisters a view.
func (r *Registry) RemoveView(ctx context.Context, scheme string) error {
	r.mu.Lock()
	v, ok := r.views[scheme]
	if ok {
		delete(r.views, scheme)
		delete(r.filesystems, v.FS.RootAddress().RootKey())
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("view %q not found", scheme)
	}
	return v.FS.Close(ctx)
}

// ListViews returns the published view schemes in sorted order.
func (r *Registry) ListViews() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.views))
	for s := range r.views {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
