package vfs

import (
	"context"
	"sync"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/address"
)

// NodeFactory builds a node for an address that is not cached yet.
//
// For NodeAny the factory decides the concrete type. It fails with
// fserr.ErrNodeTypeNotSupported for types it cannot produce.
type NodeFactory func(ctx context.Context, addr address.Address, nodeType NodeType) (Node, error)

type cacheKey struct {
	path     string
	nodeType NodeType
}

// NodeCache maps normalized addresses to live node instances so that equal
// addresses resolve to the same node for as long as the entry is cached.
//
// Thread Safety:
// A single mutex guards the map and is held while the factory runs, so two
// concurrent resolutions of equal addresses can never build two nodes.
type NodeCache struct {
	mu      sync.Mutex
	nodes   map[cacheKey]Node
	factory NodeFactory
}

// NewNodeCache creates an empty cache.
func NewNodeCache(factory NodeFactory) *NodeCache {
	return &NodeCache{
		nodes:   make(map[cacheKey]Node),
		factory: factory,
	}
}

// Resolve returns the cached node for addr or creates one.
//
// A NodeAny request returns whichever typed node is already cached for the
// address (file first, then directory). Newly created nodes are stored under
// the type they report.
func (c *NodeCache) Resolve(ctx context.Context, addr address.Address, nodeType NodeType) (Node, error) {
	key := addr.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.lookupLocked(key, nodeType); ok {
		return n, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := c.factory(ctx, addr, nodeType)
	if err != nil {
		return nil, err
	}

	// The factory may settle NodeAny on a type that is already cached.
	if nodeType == NodeAny && n.Type() != NodeAny {
		if existing, ok := c.nodes[cacheKey{key, n.Type()}]; ok {
			return existing, nil
		}
	}

	c.nodes[cacheKey{key, n.Type()}] = n
	logger.Debug("vfs: cached %s node %s", n.Type(), key)
	return n, nil
}

// Lookup returns a cached node without creating one.
func (c *NodeCache) Lookup(addr address.Address, nodeType NodeType) (Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(addr.Key(), nodeType)
}

func (c *NodeCache) lookupLocked(key string, nodeType NodeType) (Node, bool) {
	if nodeType != NodeAny {
		n, ok := c.nodes[cacheKey{key, nodeType}]
		return n, ok
	}
	for _, t := range []NodeType{NodeFile, NodeDirectory, NodeAny} {
		if n, ok := c.nodes[cacheKey{key, t}]; ok {
			return n, true
		}
	}
	return nil, false
}

// Invalidate evicts every node cached for addr and marks them stale.
// Callers that still hold the nodes can keep using them.
func (c *NodeCache) Invalidate(addr address.Address) {
	key := addr.Key()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range []NodeType{NodeAny, NodeFile, NodeDirectory} {
		ck := cacheKey{key, t}
		if n, ok := c.nodes[ck]; ok {
			markStale(n)
			delete(c.nodes, ck)
		}
	}
}

// InvalidateTree evicts addr and every cached node below it.
func (c *NodeCache) InvalidateTree(addr address.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := addr.Key()
	for ck, n := range c.nodes {
		if ck.path == key || addr.IsAncestorOf(n.Address()) {
			markStale(n)
			delete(c.nodes, ck)
		}
	}
}

// Len returns the number of cached nodes.
func (c *NodeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

// Range calls fn for a snapshot of the cached nodes until fn returns false.
func (c *NodeCache) Range(fn func(Node) bool) {
	c.mu.Lock()
	nodes := make([]Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	c.mu.Unlock()

	for _, n := range nodes {
		if !fn(n) {
			return
		}
	}
}

// Clear evicts every node.
func (c *NodeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ck, n := range c.nodes {
		markStale(n)
		delete(c.nodes, ck)
	}
}

func markStale(n Node) {
	if s, ok := n.(staler); ok {
		s.MarkStale()
	}
}
