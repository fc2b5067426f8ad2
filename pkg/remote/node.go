package remote

import (
	"context"
	"errors"
	"io"
	"path"
	"sync"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/marmos91/dittovfs/pkg/pool"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

type node struct {
	*vfs.BaseNode
	fs   *FileSystem
	path string
}

func (n *node) stat(ctx context.Context) (EntryInfo, error) {
	return pool.Call(ctx, n.fs.control, func(c Client) (EntryInfo, error) {
		return c.Stat(ctx, n.path)
	})
}

func attributesOf(info EntryInfo) map[string]any {
	values := map[string]any{
		vfs.AttrExists:        true,
		vfs.AttrLastWriteTime: info.ModTime,
	}
	if !info.IsDir {
		values[vfs.AttrSize] = info.Size
	}
	return values
}

func (n *node) Refresh(ctx context.Context) error {
	info, err := n.stat(ctx)
	if err != nil {
		if fserr.IsNotFound(err) {
			n.Attributes().Reset(map[string]any{vfs.AttrExists: false})
			return nil
		}
		return err
	}
	n.Attributes().Reset(attributesOf(info))
	return nil
}

func (n *node) exists(ctx context.Context, wantDir bool) (bool, error) {
	info, err := n.stat(ctx)
	if err != nil {
		if fserr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir == wantDir, nil
}

// checkParent fails with fserr.ErrDirectoryNotFound when the parent
// directory is missing.
func (n *node) checkParent(ctx context.Context) error {
	parent := path.Dir(n.path)
	info, err := pool.Call(ctx, n.fs.control, func(c Client) (EntryInfo, error) {
		return c.Stat(ctx, parent)
	})
	if err != nil {
		if fserr.IsNotFound(err) {
			return fserr.NewDirectoryNotFound(parent)
		}
		return err
	}
	if !info.IsDir {
		return fserr.NewDirectoryNotFound(parent)
	}
	return nil
}

func (n *node) raise(ctx context.Context, t vfs.ActivityType) {
	if _, err := n.fs.RaiseActivity(ctx, vfs.ActivityEvent{Type: t, Address: n.Address(), NodeType: n.Type()}); err != nil {
		logger.Debug("remote: activity for %s not propagated: %v", n.path, err)
	}
}

type file struct {
	node
}

func (f *file) Exists(ctx context.Context) (bool, error) {
	return f.exists(ctx, false)
}

// OpenReader leases a binary client for the lifetime of the stream.
func (f *file) OpenReader(ctx context.Context) (io.ReadCloser, error) {
	lease, err := f.fs.binary.Lease(ctx)
	if err != nil {
		return nil, err
	}
	r, err := lease.Client().OpenRead(ctx, f.path)
	if err != nil {
		lease.Release()
		if errors.Is(err, fserr.FileNotFound) {
			if perr := f.checkParent(ctx); perr != nil {
				return nil, perr
			}
		}
		return nil, err
	}
	return &leasedReader{ReadCloser: r, lease: lease}, nil
}

// OpenWriter leases a binary client for the lifetime of the stream. Closing
// the writer refreshes the node and raises a Created or Changed event.
func (f *file) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	if err := f.checkParent(ctx); err != nil {
		return nil, err
	}
	existed, err := f.Exists(ctx)
	if err != nil {
		return nil, err
	}

	lease, err := f.fs.binary.Lease(ctx)
	if err != nil {
		return nil, err
	}
	w, err := lease.Client().OpenWrite(ctx, f.path)
	if err != nil {
		lease.Release()
		return nil, err
	}
	return &leasedWriter{WriteCloser: w, lease: lease, f: f, ctx: context.WithoutCancel(ctx), existed: existed}, nil
}

func (f *file) Delete(ctx context.Context) error {
	err := f.fs.control.Do(ctx, func(c Client) error {
		return c.Delete(ctx, f.path, false)
	})
	if err != nil {
		return err
	}
	f.Attributes().Reset(map[string]any{vfs.AttrExists: false})
	f.raise(ctx, vfs.ActivityDeleted)
	f.fs.Cache().Invalidate(f.Address())
	return nil
}

type leasedReader struct {
	io.ReadCloser
	lease *pool.Lease[Client]
	once  sync.Once
	err   error
}

func (r *leasedReader) Close() error {
	r.once.Do(func() {
		r.err = r.ReadCloser.Close()
		r.lease.Release()
	})
	return r.err
}

type leasedWriter struct {
	io.WriteCloser
	lease   *pool.Lease[Client]
	f       *file
	ctx     context.Context
	existed bool
	once    sync.Once
	err     error
}

func (w *leasedWriter) Close() error {
	w.once.Do(func() {
		w.err = w.WriteCloser.Close()
		w.lease.Release()
		if w.err != nil {
			return
		}
		if err := w.f.Refresh(w.ctx); err != nil {
			logger.Debug("remote: refresh after write %s: %v", w.f.path, err)
		}
		t := vfs.ActivityChanged
		if !w.existed {
			t = vfs.ActivityCreated
		}
		w.f.raise(w.ctx, t)
	})
	return w.err
}

type directory struct {
	node
}

func (d *directory) Exists(ctx context.Context) (bool, error) {
	if d.path == "/" {
		return true, nil
	}
	return d.exists(ctx, true)
}

func (d *directory) Create(ctx context.Context, createParents bool) error {
	if exists, err := d.Exists(ctx); err != nil || exists {
		return err
	}

	err := d.fs.control.Do(ctx, func(c Client) error {
		if !createParents {
			return c.MakeDirectory(ctx, d.path)
		}
		// Create every missing ancestor, shallowest first.
		segments := d.Address().Segments()
		current := ""
		for _, s := range segments {
			current += "/" + s
			info, err := c.Stat(ctx, current)
			if err == nil {
				if !info.IsDir {
					return fserr.New(fserr.ErrAlreadyExists, "not a directory", current)
				}
				continue
			}
			if !fserr.IsNotFound(err) {
				return err
			}
			if err := c.MakeDirectory(ctx, current); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if !createParents && fserr.IsNotFound(err) {
			return fserr.NewDirectoryNotFound(path.Dir(d.path))
		}
		return err
	}

	if err := d.Refresh(ctx); err != nil {
		logger.Debug("remote: refresh after mkdir %s: %v", d.path, err)
	}
	d.raise(ctx, vfs.ActivityCreated)
	return nil
}

func (d *directory) Children(ctx context.Context, nodeType vfs.NodeType) ([]vfs.Node, error) {
	entries, err := pool.Call(ctx, d.fs.control, func(c Client) ([]EntryInfo, error) {
		return c.List(ctx, d.path)
	})
	if err != nil {
		return nil, err
	}

	out := make([]vfs.Node, 0, len(entries))
	for _, e := range entries {
		t := vfs.NodeFile
		if e.IsDir {
			t = vfs.NodeDirectory
		}
		if nodeType != vfs.NodeAny && nodeType != t {
			continue
		}
		addr, err := d.Address().Child(e.Name)
		if err != nil {
			continue
		}
		n, err := d.fs.Resolve(ctx, addr, t)
		if err != nil {
			return nil, err
		}
		n.Attributes().Reset(attributesOf(e))
		out = append(out, n)
	}
	return out, nil
}

func (d *directory) Delete(ctx context.Context, recursive bool) error {
	if d.Address().IsRoot() {
		return fserr.NewInvalidPath(d.path, "cannot delete the root directory")
	}
	err := d.fs.control.Do(ctx, func(c Client) error {
		return c.Delete(ctx, d.path, recursive)
	})
	if err != nil {
		return err
	}
	d.Attributes().Reset(map[string]any{vfs.AttrExists: false})
	d.raise(ctx, vfs.ActivityDeleted)
	d.fs.Cache().InvalidateTree(d.Address())
	return nil
}
