package vfs

import (
	"context"
	"sync/atomic"

	"github.com/marmos91/dittovfs/pkg/address"
	"github.com/marmos91/dittovfs/pkg/fserr"
)

// FileSystem resolves nodes below one root address.
type FileSystem interface {
	RootAddress() address.Address

	// Resolve returns the node for addr, which must share the filesystem's
	// root. Equal addresses yield the same node while the filesystem is open.
	Resolve(ctx context.Context, addr address.Address, nodeType NodeType) (Node, error)

	// Subscribe registers an activity handler. The returned function
	// removes it.
	Subscribe(handler ActivityHandler) func()

	Close(ctx context.Context) error
	Closed() bool
}

// Base implements the bookkeeping shared by filesystem implementations:
// root address, identity cache, subscribers, security and closed state.
type Base struct {
	root     address.Address
	cache    *NodeCache
	activity *ActivityHub
	security SecurityManager
	closed   atomic.Bool
}

// NewBase creates the shared state. A nil security manager allows everything.
func NewBase(root address.Address, factory NodeFactory, security SecurityManager) *Base {
	if security == nil {
		security = AllowAll
	}
	return &Base{
		root:     root.Root(),
		cache:    NewNodeCache(factory),
		activity: NewActivityHub(),
		security: security,
	}
}

func (b *Base) RootAddress() address.Address { return b.root }
func (b *Base) Cache() *NodeCache            { return b.cache }
func (b *Base) Security() SecurityManager    { return b.security }
func (b *Base) Closed() bool                 { return b.closed.Load() }

// Subscribe implements FileSystem.
func (b *Base) Subscribe(handler ActivityHandler) func() {
	return b.activity.Subscribe(handler)
}

// MarkClosed flags the filesystem closed and evicts every node. It returns
// false if the filesystem was already closed.
func (b *Base) MarkClosed() bool {
	if !b.closed.CompareAndSwap(false, true) {
		return false
	}
	b.cache.Clear()
	return true
}

// ResolveNode checks that addr belongs to this filesystem and resolves it
// through the identity cache.
func (b *Base) ResolveNode(ctx context.Context, addr address.Address, nodeType NodeType) (Node, error) {
	if b.Closed() {
		return nil, fserr.New(fserr.ErrClosed, "", b.root.String())
	}
	if !addr.SameRoot(b.root) {
		return nil, fserr.NewMalformedAddress(addr.String(), "address does not belong to "+b.root.String())
	}
	return b.cache.Resolve(ctx, addr, nodeType)
}

// Rebase maps an address from another filesystem that shares this one's
// path layout onto this filesystem's root.
func (b *Base) Rebase(addr address.Address) (address.Address, error) {
	return b.root.WithSegments(addr.Segments())
}

// NotifyActivity delivers ev to subscribers if node may be viewed.
// Denied events, and events without a node, are dropped silently.
func (b *Base) NotifyActivity(ctx context.Context, node Node, ev ActivityEvent) bool {
	if node == nil || !b.security.HasAccess(ctx, node, OpView) {
		return false
	}
	b.activity.Publish(ctx, ev)
	return true
}

// ResolvePath resolves a path relative to the root of fs.
func ResolvePath(ctx context.Context, fs FileSystem, path string, nodeType NodeType) (Node, error) {
	addr, err := address.ResolveRelative(fs.RootAddress(), path)
	if err != nil {
		return nil, err
	}
	return fs.Resolve(ctx, addr, nodeType)
}

// ResolveRelativeTo resolves a path relative to node, treating node as a
// directory.
func ResolveRelativeTo(ctx context.Context, node Node, path string, nodeType NodeType) (Node, error) {
	addr, err := address.ResolveRelative(node.Address(), path)
	if err != nil {
		return nil, err
	}
	return node.FileSystem().Resolve(ctx, addr, nodeType)
}

// Parent returns the directory containing node.
func Parent(ctx context.Context, node Node) (Directory, error) {
	p, ok := node.Address().Parent()
	if !ok {
		return nil, fserr.NewInvalidPath(node.Address().AbsolutePath(), "cannot go above root")
	}
	n, err := node.FileSystem().Resolve(ctx, p, NodeDirectory)
	if err != nil {
		return nil, err
	}
	return AsDirectory(n)
}

// Resolver resolves URIs across every registered filesystem.
type Resolver interface {
	Resolve(ctx context.Context, uri string, nodeType NodeType) (Node, error)
	ResolveAddress(ctx context.Context, addr address.Address, nodeType NodeType) (Node, error)
}

// Provider opens filesystems for one or more URI schemes.
//
// Open receives the parsed address that triggered the open (query variables
// included) and the resolver, which layered providers use to reach the
// filesystem of their inner address.
type Provider interface {
	Schemes() []string
	Open(ctx context.Context, r Resolver, root address.Address) (FileSystem, error)
}
