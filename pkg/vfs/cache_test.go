package vfs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/marmos91/dittovfs/pkg/address"
	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNode struct {
	*BaseNode
}

func (n *stubNode) Exists(context.Context) (bool, error) { return true, nil }
func (n *stubNode) Refresh(context.Context) error        { return nil }

func countingFactory(calls *atomic.Int32, anyAs NodeType) NodeFactory {
	return func(_ context.Context, addr address.Address, t NodeType) (Node, error) {
		calls.Add(1)
		if t == NodeAny {
			t = anyAs
		}
		if t != NodeFile && t != NodeDirectory {
			return nil, fserr.NewNodeTypeNotSupported(addr.String(), t)
		}
		return &stubNode{NewBaseNode(nil, addr, t, nil)}, nil
	}
}

func TestCacheIdentity(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	c := NewNodeCache(countingFactory(&calls, NodeFile))

	a := address.MustParse("file:///Directory1/../Directory1/../Directory1/SubDirectory1/../SubDirectory1/A.csv")
	b := address.MustParse("file:///Directory1/SubDirectory1/A.csv")

	n1, err := c.Resolve(ctx, a, NodeFile)
	require.NoError(t, err)
	n2, err := c.Resolve(ctx, b, NodeFile)
	require.NoError(t, err)

	assert.Same(t, n1, n2)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCacheAnyReusesTypedEntry(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	c := NewNodeCache(countingFactory(&calls, NodeFile))
	addr := address.MustParse("file:///d")

	dir, err := c.Resolve(ctx, addr, NodeDirectory)
	require.NoError(t, err)

	anyNode, err := c.Resolve(ctx, addr, NodeAny)
	require.NoError(t, err)
	assert.Same(t, dir, anyNode)
	assert.Equal(t, int32(1), calls.Load())

	other := address.MustParse("file:///f")
	f1, err := c.Resolve(ctx, other, NodeAny)
	require.NoError(t, err)
	assert.Equal(t, NodeFile, f1.Type())
	f2, err := c.Resolve(ctx, other, NodeFile)
	require.NoError(t, err)
	assert.Same(t, f1, f2)
}

func TestCacheConcurrentResolution(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	c := NewNodeCache(countingFactory(&calls, NodeFile))

	spellings := []string{
		"file:///a/b/c",
		"file:///a/./b/c",
		"file:///a/x/../b/c",
		"file:///a//b/c",
	}

	const workers = 32
	results := make([]Node, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := c.Resolve(ctx, address.MustParse(spellings[i%len(spellings)]), NodeFile)
			if err == nil {
				results[i] = n
			}
		}(i)
	}
	wg.Wait()

	for _, n := range results {
		assert.Same(t, results[0], n)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	c := NewNodeCache(countingFactory(&calls, NodeFile))

	dir := address.MustParse("file:///d")
	child := address.MustParse("file:///d/e/f")
	sibling := address.MustParse("file:///dd")

	n1, _ := c.Resolve(ctx, dir, NodeDirectory)
	n2, _ := c.Resolve(ctx, child, NodeFile)
	n3, _ := c.Resolve(ctx, sibling, NodeFile)
	require.Equal(t, 3, c.Len())

	c.InvalidateTree(dir)
	assert.True(t, n1.Stale())
	assert.True(t, n2.Stale())
	assert.False(t, n3.Stale())
	assert.Equal(t, 1, c.Len())

	fresh, err := c.Resolve(ctx, dir, NodeDirectory)
	require.NoError(t, err)
	assert.NotSame(t, n1, fresh)
	assert.False(t, fresh.Stale())

	c.Invalidate(sibling)
	assert.True(t, n3.Stale())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.True(t, fresh.Stale())
}

func TestCacheFactoryError(t *testing.T) {
	c := NewNodeCache(countingFactory(new(atomic.Int32), NodeType(42)))
	_, err := c.Resolve(context.Background(), address.MustParse("file:///x"), NodeAny)
	assert.True(t, errors.Is(err, fserr.NodeTypeNotSupported))
	assert.Equal(t, 0, c.Len())
}
