package remote

import (
	"context"
	"sync"
	"weak"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Registry tracks live remote filesystems that share a uniqueness key,
// without keeping them alive.
//
// Entries are created on registration and never removed. Handles whose
// filesystem was collected are skipped when the list is walked.
//
// Thread Safety:
// One mutex guards the whole registry and is held for registration and for
// the resolution and attribute-copy phase of propagation.
type Registry struct {
	mu      sync.Mutex
	entries map[string][]weak.Pointer[FileSystem]
}

// DefaultRegistry is the process-wide registry used when Options.Registry
// is nil.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string][]weak.Pointer[FileSystem])}
}

// Register adds fs under key.
func (r *Registry) Register(key string, fs *FileSystem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = append(r.entries[key], weak.Make(fs))
}

// Live returns the filesystems registered under key that are still alive
// and open, in registration order.
func (r *Registry) Live(key string) []*FileSystem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked(key)
}

func (r *Registry) liveLocked(key string) []*FileSystem {
	handles := r.entries[key]
	out := make([]*FileSystem, 0, len(handles))
	for _, h := range handles {
		fs := h.Value()
		if fs == nil || fs.Closed() {
			continue
		}
		out = append(out, fs)
	}
	return out
}

// Handles returns the number of handles stored under key, dead ones included.
func (r *Registry) Handles(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[key])
}

type delivery struct {
	fs   *FileSystem
	node vfs.Node
	ev   vfs.ActivityEvent
}

// propagate synchronizes an activity event across every live filesystem that
// shares origin's key, origin included.
//
// The node for the event's path is resolved on origin and used as the source
// of truth. On each peer the same path is resolved and, when the peer's node
// is a different object, every attribute of the source is copied onto it
// without change notifications. Deleted events also evict the path from each
// peer's cache. Subscribers are notified once the registry lock is released,
// each filesystem checking view access first.
func (r *Registry) propagate(ctx context.Context, origin *FileSystem, ev vfs.ActivityEvent) (int, error) {
	source, err := origin.Resolve(ctx, ev.Address, ev.NodeType)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	peers := r.liveLocked(origin.key)
	deliveries := make([]delivery, 0, len(peers))
	for _, fs := range peers {
		addr, err := fs.Rebase(ev.Address)
		if err != nil {
			continue
		}

		target := source
		if fs != origin {
			target, err = fs.Resolve(ctx, addr, source.Type())
			if err != nil {
				logger.Debug("remote: skip propagation to %s: %v", fs.RootAddress(), err)
				continue
			}
		}
		if target != source {
			target.Attributes().CopyFrom(source.Attributes())
		}
		if ev.Type == vfs.ActivityDeleted {
			fs.Cache().InvalidateTree(addr)
		}

		deliveries = append(deliveries, delivery{
			fs:   fs,
			node: target,
			ev:   vfs.ActivityEvent{Type: ev.Type, Address: addr, NodeType: source.Type()},
		})
	}
	r.mu.Unlock()

	delivered := 0
	for _, d := range deliveries {
		if d.fs.onActivity(ctx, d.node, d.ev) {
			delivered++
		}
	}
	origin.metrics.RecordPropagation(len(deliveries), len(deliveries)-delivered)
	return delivered, nil
}
