package vfs

import (
	"context"
	"io"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/address"
	"github.com/marmos91/dittovfs/pkg/fserr"
)

// View is a bounded filesystem rooted at a directory of another filesystem.
//
// View addresses have the form scheme:///path. Resolving ".." at the view root
// fails with fserr.ErrInvalidPath, so callers cannot escape the view. View
// nodes are distinct instances from the nodes they wrap but share their
// attribute bags, so both sides observe the same attribute values.
type View struct {
	*Base
	target      Directory
	unsubscribe func()
}

// NewView creates a view of target published under scheme.
func NewView(scheme string, target Directory, security SecurityManager) (*View, error) {
	root, err := address.Parse(scheme + ":///")
	if err != nil {
		return nil, err
	}

	v := &View{target: target}
	v.Base = NewBase(root, v.newNode, security)
	v.unsubscribe = target.FileSystem().Subscribe(v.onTargetActivity)
	return v, nil
}

// Target returns the directory the view is rooted at.
func (v *View) Target() Directory { return v.target }

// Resolve implements FileSystem.
func (v *View) Resolve(ctx context.Context, addr address.Address, nodeType NodeType) (Node, error) {
	return v.ResolveNode(ctx, addr, nodeType)
}

// Close detaches the view from its target. The target filesystem stays open.
func (v *View) Close(ctx context.Context) error {
	if v.MarkClosed() {
		v.unsubscribe()
	}
	return nil
}

func (v *View) toTarget(addr address.Address) (address.Address, error) {
	base := v.target.Address()
	return base.WithSegments(append(base.Segments(), addr.Segments()...))
}

func (v *View) fromTarget(addr address.Address) (address.Address, bool) {
	base := v.target.Address()
	if !base.Equal(addr) && !base.IsAncestorOf(addr) {
		return address.Address{}, false
	}
	rel := addr.Segments()[base.Depth():]
	out, err := v.RootAddress().WithSegments(rel)
	if err != nil {
		return address.Address{}, false
	}
	return out, true
}

func (v *View) newNode(ctx context.Context, addr address.Address, nodeType NodeType) (Node, error) {
	targetAddr, err := v.toTarget(addr)
	if err != nil {
		return nil, err
	}
	inner, err := v.target.FileSystem().Resolve(ctx, targetAddr, nodeType)
	if err != nil {
		return nil, err
	}

	base := NewBaseNode(v, addr, inner.Type(), inner.Attributes())
	switch n := inner.(type) {
	case Directory:
		return &viewDirectory{BaseNode: base, view: v, inner: n}, nil
	case File:
		return &viewFile{BaseNode: base, view: v, inner: n}, nil
	default:
		return nil, fserr.NewNodeTypeNotSupported(addr.String(), nodeType)
	}
}

func (v *View) onTargetActivity(ctx context.Context, ev ActivityEvent) {
	addr, ok := v.fromTarget(ev.Address)
	if !ok || v.Closed() {
		return
	}
	node, err := v.Resolve(ctx, addr, ev.NodeType)
	if err != nil {
		// Without a node there is nothing to check access against.
		logger.Debug("view %s: dropping %s event for %s: %v", v.RootAddress(), ev.Type, addr, err)
		return
	}
	v.NotifyActivity(ctx, node, ActivityEvent{Type: ev.Type, Address: addr, NodeType: ev.NodeType})
}

type viewFile struct {
	*BaseNode
	view  *View
	inner File
}

func (f *viewFile) Stale() bool { return f.BaseNode.Stale() || f.inner.Stale() }

func (f *viewFile) Exists(ctx context.Context) (bool, error) { return f.inner.Exists(ctx) }
func (f *viewFile) Refresh(ctx context.Context) error        { return f.inner.Refresh(ctx) }

func (f *viewFile) OpenReader(ctx context.Context) (io.ReadCloser, error) {
	return f.inner.OpenReader(ctx)
}

func (f *viewFile) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	return f.inner.OpenWriter(ctx)
}

func (f *viewFile) Delete(ctx context.Context) error {
	if err := f.inner.Delete(ctx); err != nil {
		return err
	}
	f.view.Cache().Invalidate(f.Address())
	return nil
}

type viewDirectory struct {
	*BaseNode
	view  *View
	inner Directory
}

func (d *viewDirectory) Stale() bool { return d.BaseNode.Stale() || d.inner.Stale() }

func (d *viewDirectory) Exists(ctx context.Context) (bool, error) { return d.inner.Exists(ctx) }
func (d *viewDirectory) Refresh(ctx context.Context) error        { return d.inner.Refresh(ctx) }

func (d *viewDirectory) Create(ctx context.Context, createParents bool) error {
	return d.inner.Create(ctx, createParents)
}

func (d *viewDirectory) Delete(ctx context.Context, recursive bool) error {
	if err := d.inner.Delete(ctx, recursive); err != nil {
		return err
	}
	d.view.Cache().InvalidateTree(d.Address())
	return nil
}

func (d *viewDirectory) Children(ctx context.Context, nodeType NodeType) ([]Node, error) {
	children, err := d.inner.Children(ctx, nodeType)
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(children))
	for _, c := range children {
		addr, ok := d.view.fromTarget(c.Address())
		if !ok {
			continue
		}
		n, err := d.view.Resolve(ctx, addr, c.Type())
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
