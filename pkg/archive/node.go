package archive

import (
	"context"
	"io"
	"path"
	"sync"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

type node struct {
	*vfs.BaseNode
	fs   *FileSystem
	path string
}

// setTimes stores the single container timestamp under every time key.
func setTimes(values map[string]any, t time.Time) {
	if t.IsZero() {
		return
	}
	values[vfs.AttrCreationTime] = t
	values[vfs.AttrLastAccessTime] = t
	values[vfs.AttrLastWriteTime] = t
}

func (fs *FileSystem) notify(ctx context.Context, n vfs.Node, t vfs.ActivityType) {
	fs.NotifyActivity(ctx, n, vfs.ActivityEvent{Type: t, Address: n.Address(), NodeType: n.Type()})
}

type file struct {
	node
}

func (f *file) Exists(ctx context.Context) (bool, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	return f.fs.fileExistsLocked(f.path), nil
}

// Refresh reloads size and timestamp from the shadow or the container member.
func (f *file) Refresh(ctx context.Context) error {
	exists, size, modTime, err := f.fs.entryInfo(ctx, f.path)
	if err != nil {
		return err
	}
	values := map[string]any{vfs.AttrExists: exists}
	if exists {
		values[vfs.AttrSize] = size
		setTimes(values, modTime)
	}
	f.Attributes().Reset(values)
	return nil
}

// OpenReader streams the shadow when one exists, the container member
// otherwise.
func (f *file) OpenReader(ctx context.Context) (io.ReadCloser, error) {
	return f.fs.openReader(ctx, f.path)
}

// OpenWriter streams into the entry's shadow. The container is untouched
// until the filesystem is closed.
func (f *file) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	w, existed, err := f.fs.openWriter(ctx, f.path)
	if err != nil {
		return nil, err
	}
	return &shadowWriter{WriteCloser: w, f: f, ctx: context.WithoutCancel(ctx), existed: existed}, nil
}

func (f *file) Delete(ctx context.Context) error {
	if err := f.fs.deleteFile(ctx, f.path); err != nil {
		return err
	}
	f.Attributes().Reset(map[string]any{vfs.AttrExists: false})
	f.fs.Cache().Invalidate(f.Address())
	f.fs.notify(ctx, f, vfs.ActivityDeleted)
	return nil
}

type shadowWriter struct {
	io.WriteCloser
	f       *file
	ctx     context.Context
	existed bool
	once    sync.Once
	err     error
}

func (w *shadowWriter) Close() error {
	w.once.Do(func() {
		if w.err = w.WriteCloser.Close(); w.err != nil {
			return
		}
		if err := w.f.Refresh(w.ctx); err != nil {
			logger.Debug("archive: refresh after write %s: %v", w.f.path, err)
		}
		t := vfs.ActivityChanged
		if !w.existed {
			t = vfs.ActivityCreated
		}
		w.f.fs.notify(w.ctx, w.f, t)
	})
	return w.err
}

type directory struct {
	node
}

func (d *directory) Exists(ctx context.Context) (bool, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	return d.fs.dirExistsLocked(d.path), nil
}

// Refresh re-reads the directory index for this path.
func (d *directory) Refresh(ctx context.Context) error {
	d.fs.mu.Lock()
	modTime, exists := d.fs.dirs[d.path]
	d.fs.mu.Unlock()

	values := map[string]any{vfs.AttrExists: exists}
	if exists {
		setTimes(values, modTime)
	}
	d.Attributes().Reset(values)
	return nil
}

func (d *directory) Create(ctx context.Context, createParents bool) error {
	existed, _ := d.Exists(ctx)
	if err := d.fs.createDirectory(d.path, createParents); err != nil {
		return err
	}
	if existed {
		return nil
	}
	_ = d.Refresh(ctx)
	d.fs.notify(ctx, d, vfs.ActivityCreated)
	return nil
}

func (d *directory) Children(ctx context.Context, nodeType vfs.NodeType) ([]vfs.Node, error) {
	d.fs.mu.Lock()
	if !d.fs.dirExistsLocked(d.path) {
		d.fs.mu.Unlock()
		return nil, fserr.NewDirectoryNotFound(d.path)
	}
	files, dirs := d.fs.childrenLocked(d.path)
	d.fs.mu.Unlock()

	var out []vfs.Node
	resolve := func(paths []string, t vfs.NodeType) error {
		for _, p := range paths {
			addr, err := d.Address().Child(path.Base(p))
			if err != nil {
				return err
			}
			n, err := d.fs.Resolve(ctx, addr, t)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	}
	if nodeType == vfs.NodeAny || nodeType == vfs.NodeDirectory {
		if err := resolve(dirs, vfs.NodeDirectory); err != nil {
			return nil, err
		}
	}
	if nodeType == vfs.NodeAny || nodeType == vfs.NodeFile {
		if err := resolve(files, vfs.NodeFile); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *directory) Delete(ctx context.Context, recursive bool) error {
	if err := d.fs.deleteDirectory(ctx, d.path, recursive); err != nil {
		return err
	}
	d.Attributes().Reset(map[string]any{vfs.AttrExists: false})
	d.fs.Cache().InvalidateTree(d.Address())
	d.fs.notify(ctx, d, vfs.ActivityDeleted)
	return nil
}
