package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

type node struct {
	*vfs.BaseNode
	fs       *FileSystem
	hostPath string
}

func (n *node) stat() (os.FileInfo, error) {
	return os.Stat(n.hostPath)
}

func (n *node) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := n.stat()
	if err != nil {
		if os.IsNotExist(err) {
			n.Attributes().Reset(map[string]any{vfs.AttrExists: false})
			return nil
		}
		return err
	}
	values := map[string]any{
		vfs.AttrExists:        true,
		vfs.AttrLastWriteTime: info.ModTime(),
	}
	if !info.IsDir() {
		values[vfs.AttrSize] = info.Size()
	}
	n.Attributes().Reset(values)
	return nil
}

// checkParent returns fserr.ErrDirectoryNotFound when the parent directory
// of the node is missing.
func (n *node) checkParent() error {
	info, err := os.Stat(filepath.Dir(n.hostPath))
	if err != nil || !info.IsDir() {
		p, _ := n.Address().Parent()
		return fserr.NewDirectoryNotFound(p.AbsolutePath())
	}
	return nil
}

type file struct {
	node
}

func (f *file) Exists(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := f.stat()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (f *file) OpenReader(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := os.Open(f.hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			if perr := f.checkParent(); perr != nil {
				return nil, perr
			}
			return nil, fserr.NewFileNotFound(f.Address().AbsolutePath())
		}
		return nil, translate(err, f.Address().AbsolutePath())
	}
	return r, nil
}

func (f *file) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.checkParent(); err != nil {
		return nil, err
	}
	existed, _ := f.Exists(ctx)
	w, err := os.Create(f.hostPath)
	if err != nil {
		return nil, translate(err, f.Address().AbsolutePath())
	}
	return &fileWriter{File: w, f: f, ctx: context.WithoutCancel(ctx), existed: existed}, nil
}

func (f *file) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(f.hostPath); err != nil {
		if os.IsNotExist(err) {
			return fserr.NewFileNotFound(f.Address().AbsolutePath())
		}
		return translate(err, f.Address().AbsolutePath())
	}
	f.fs.Cache().Invalidate(f.Address())
	f.Attributes().Reset(map[string]any{vfs.AttrExists: false})
	f.fs.notify(ctx, f, vfs.ActivityDeleted)
	return nil
}

// fileWriter refreshes attributes and raises an activity event once the
// content is on disk.
type fileWriter struct {
	*os.File
	f       *file
	ctx     context.Context
	existed bool
	once    sync.Once
	err     error
}

func (w *fileWriter) Close() error {
	w.once.Do(func() {
		w.err = w.File.Close()
		if w.err != nil {
			return
		}
		_ = w.f.Refresh(w.ctx)
		ev := vfs.ActivityChanged
		if !w.existed {
			ev = vfs.ActivityCreated
		}
		w.f.fs.notify(w.ctx, w.f, ev)
	})
	return w.err
}

type directory struct {
	node
}

func (d *directory) Exists(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := d.stat()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (d *directory) Create(ctx context.Context, createParents bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if exists, _ := d.Exists(ctx); exists {
		return nil
	}

	if createParents {
		if err := os.MkdirAll(d.hostPath, 0755); err != nil {
			return translate(err, d.Address().AbsolutePath())
		}
	} else {
		if err := d.checkParent(); err != nil {
			return err
		}
		if err := os.Mkdir(d.hostPath, 0755); err != nil && !os.IsExist(err) {
			return translate(err, d.Address().AbsolutePath())
		}
	}

	_ = d.Refresh(ctx)
	d.fs.notify(ctx, d, vfs.ActivityCreated)
	return nil
}

func (d *directory) Children(ctx context.Context, nodeType vfs.NodeType) ([]vfs.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fserr.NewDirectoryNotFound(d.Address().AbsolutePath())
		}
		return nil, translate(err, d.Address().AbsolutePath())
	}

	out := make([]vfs.Node, 0, len(entries))
	for _, e := range entries {
		t := vfs.NodeFile
		if e.IsDir() {
			t = vfs.NodeDirectory
		}
		if nodeType != vfs.NodeAny && nodeType != t {
			continue
		}
		addr, err := d.Address().Child(e.Name())
		if err != nil {
			continue
		}
		n, err := d.fs.Resolve(ctx, addr, t)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (d *directory) Delete(ctx context.Context, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Address().IsRoot() {
		return fserr.NewInvalidPath(d.Address().AbsolutePath(), "cannot delete the root directory")
	}
	if exists, _ := d.Exists(ctx); !exists {
		return fserr.NewDirectoryNotFound(d.Address().AbsolutePath())
	}

	var err error
	if recursive {
		err = os.RemoveAll(d.hostPath)
	} else {
		err = os.Remove(d.hostPath)
	}
	if err != nil {
		if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
			return fserr.Wrap(fserr.ErrNotEmpty, err, d.Address().AbsolutePath())
		}
		return translate(err, d.Address().AbsolutePath())
	}

	d.fs.Cache().InvalidateTree(d.Address())
	d.Attributes().Reset(map[string]any{vfs.AttrExists: false})
	d.fs.notify(ctx, d, vfs.ActivityDeleted)
	return nil
}
