package vfs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittovfs/pkg/address"
	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributesSetNotifies(t *testing.T) {
	var changed []string
	a := NewAttributes(func(key string, _ any) { changed = append(changed, key) }, AttrLastWriteTime)

	require.NoError(t, a.Set(AttrSize, int64(10)))
	a.SetQuiet("owner", "bob")
	assert.Equal(t, []string{AttrSize}, changed)

	err := a.Set(AttrLastWriteTime, time.Now())
	assert.True(t, errors.Is(err, fserr.ReadOnly))

	a.SetQuiet(AttrLastWriteTime, time.Unix(100, 0))
	ts, ok := a.Time(AttrLastWriteTime)
	assert.True(t, ok)
	assert.Equal(t, int64(100), ts.Unix())

	size, ok := a.Size()
	assert.True(t, ok)
	assert.Equal(t, int64(10), size)
	assert.Equal(t, []string{AttrLastWriteTime, "owner", AttrSize}, a.Keys())
}

func TestAttributesCopyFrom(t *testing.T) {
	var notified bool
	src := NewAttributes(nil)
	src.SetQuiet(AttrSize, int64(10))
	src.SetQuiet("color", "red")

	dst := NewAttributes(func(string, any) { notified = true })
	dst.SetQuiet("keep", true)
	dst.CopyFrom(src)

	assert.False(t, notified)
	assert.Equal(t, map[string]any{AttrSize: int64(10), "color": "red", "keep": true}, dst.Snapshot())

	dst.CopyFrom(dst)
	dst.CopyFrom(nil)
	assert.Len(t, dst.Snapshot(), 3)
}

func TestAttributesCopyConcurrent(t *testing.T) {
	a := NewAttributes(nil)
	b := NewAttributes(nil)
	a.SetQuiet("x", 1)
	b.SetQuiet("y", 2)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); a.CopyFrom(b) }()
		go func() { defer wg.Done(); b.CopyFrom(a) }()
	}
	wg.Wait()

	assert.Equal(t, a.Snapshot(), b.Snapshot())
}

func TestActivityHub(t *testing.T) {
	ctx := context.Background()
	hub := NewActivityHub()

	var got []int
	unsub1 := hub.Subscribe(func(context.Context, ActivityEvent) { got = append(got, 1) })
	hub.Subscribe(func(context.Context, ActivityEvent) { got = append(got, 2) })

	ev := ActivityEvent{Type: ActivityChanged, Address: address.MustParse("file:///a")}
	hub.Publish(ctx, ev)
	unsub1()
	unsub1()
	hub.Publish(ctx, ev)

	assert.Equal(t, []int{1, 2, 2}, got)
	assert.Equal(t, 1, hub.Len())
}

func TestNotifyActivityChecksSecurity(t *testing.T) {
	ctx := context.Background()
	deny := SecurityFunc(func(_ context.Context, n Node, op Operation) bool {
		return op != OpView || n.Address().Name() != "secret"
	})
	base := NewBase(address.MustParse("file:///"), nil, deny)

	var delivered []string
	base.Subscribe(func(_ context.Context, ev ActivityEvent) {
		delivered = append(delivered, ev.Address.Name())
	})

	for _, name := range []string{"public", "secret"} {
		addr := address.MustParse("file:///" + name)
		n := &stubNode{NewBaseNode(nil, addr, NodeFile, nil)}
		base.NotifyActivity(ctx, n, ActivityEvent{Address: addr})
	}
	assert.Equal(t, []string{"public"}, delivered)
}
