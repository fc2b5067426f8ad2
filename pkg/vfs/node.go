// Package vfs defines the node and filesystem contracts shared by every
// backing store, together with the machinery they have in common: the node
// identity cache, attribute bags, activity notifications, security checks
// and bounded views. The filesystem manager that routes schemes to providers
// lives in package registry.
package vfs

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/marmos91/dittovfs/pkg/address"
	"github.com/marmos91/dittovfs/pkg/fserr"
)

// NodeType selects the kind of node a resolution should produce.
type NodeType int

const (
	// NodeAny lets the filesystem decide the node type
	NodeAny NodeType = iota
	NodeFile
	NodeDirectory
)

func (t NodeType) String() string {
	switch t {
	case NodeAny:
		return "any"
	case NodeFile:
		return "file"
	case NodeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Node is a handle to a file or directory at one address of one filesystem.
//
// Nodes are owned by the identity cache of their filesystem. Resolving an
// equal address again while the filesystem is open returns the same Node.
type Node interface {
	Address() address.Address
	Type() NodeType
	FileSystem() FileSystem
	Attributes() *Attributes

	// Exists reports whether the node is present in the backing store.
	// Not-found conditions are reported as false, not as errors.
	Exists(ctx context.Context) (bool, error)

	// Refresh reloads attributes from the backing store.
	Refresh(ctx context.Context) error

	// Stale reports whether the node was evicted from its identity cache.
	Stale() bool
}

// File is a node with byte content.
type File interface {
	Node
	OpenReader(ctx context.Context) (io.ReadCloser, error)
	OpenWriter(ctx context.Context) (io.WriteCloser, error)
	Delete(ctx context.Context) error
}

// Directory is a node that contains other nodes.
type Directory interface {
	Node

	// Create makes the directory. Without createParents a missing
	// intermediate directory fails with fserr.ErrDirectoryNotFound.
	Create(ctx context.Context, createParents bool) error

	// Children lists the direct children filtered by type (NodeAny for all).
	Children(ctx context.Context, nodeType NodeType) ([]Node, error)

	Delete(ctx context.Context, recursive bool) error
}

// BaseNode carries the state every node implementation shares.
// Concrete nodes embed *BaseNode.
type BaseNode struct {
	addr     address.Address
	nodeType NodeType
	fs       FileSystem
	attrs    *Attributes
	stale    atomic.Bool
}

// NewBaseNode creates the shared node state. A nil attrs gets an empty bag.
func NewBaseNode(fs FileSystem, addr address.Address, nodeType NodeType, attrs *Attributes) *BaseNode {
	if attrs == nil {
		attrs = NewAttributes(nil)
	}
	return &BaseNode{addr: addr, nodeType: nodeType, fs: fs, attrs: attrs}
}

func (n *BaseNode) Address() address.Address { return n.addr }
func (n *BaseNode) Type() NodeType           { return n.nodeType }
func (n *BaseNode) FileSystem() FileSystem   { return n.fs }
func (n *BaseNode) Attributes() *Attributes  { return n.attrs }
func (n *BaseNode) Stale() bool              { return n.stale.Load() }

// MarkStale flags the node as evicted from its cache.
func (n *BaseNode) MarkStale() { n.stale.Store(true) }

type staler interface {
	MarkStale()
}

// AsFile converts a node to a File.
func AsFile(n Node) (File, error) {
	f, ok := n.(File)
	if !ok {
		return nil, fserr.NewNodeTypeNotSupported(n.Address().String(), NodeFile)
	}
	return f, nil
}

// AsDirectory converts a node to a Directory.
func AsDirectory(n Node) (Directory, error) {
	d, ok := n.(Directory)
	if !ok {
		return nil, fserr.NewNodeTypeNotSupported(n.Address().String(), NodeDirectory)
	}
	return d, nil
}
