// Package archive implements a filesystem over a container file (zip by
// default) stored on another filesystem.
//
// The container is never modified in place. Writes go to shadow files held
// by a shadow.Store, deletions and new directories are kept as pending
// state, and everything is reconciled into a freshly written container when
// the filesystem is closed.
//
// Address format:
//
//	zip://[temp:///backup.zip]/docs/readme.txt
//
// The bracketed inner URI names the backing file.
//
// Open takes a full copy of the container, in memory unless Options.SpoolDir
// names a directory for a temporary file. Large containers should be spooled.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/address"
	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/marmos91/dittovfs/pkg/shadow"
	"github.com/marmos91/dittovfs/pkg/shadow/memory"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// DefaultScheme is the scheme of zip archives.
const DefaultScheme = "zip"

// OptionPassword is the query variable holding the container password. It
// may be set on the archive address or on the inner address:
//
//	zip://[temp:///secret.zip?ZipPassword=pw]/docs/readme.txt
const OptionPassword = "ZipPassword"

// Options configures an archive filesystem.
type Options struct {
	// Codec reads and writes the container. Required.
	Codec Codec

	// Shadows holds pending writes. Nil gives each filesystem a private
	// in-memory store that is closed with it.
	Shadows shadow.Store

	// ReadOnly rejects every mutation with fserr.ErrReadOnly and skips the
	// commit on Close.
	ReadOnly bool

	// Scheme of the layered root address. Defaults to DefaultScheme.
	Scheme string

	// Security filters activity notifications. Nil allows everything.
	Security vfs.SecurityManager

	// Metrics may be nil.
	Metrics Metrics

	// SpoolDir, when set, holds a temporary copy of the container for the
	// lifetime of the filesystem. Otherwise the copy is kept in memory.
	SpoolDir string
}

// FileSystem is a ShadowingArchiveFileSystem.
//
// Thread Safety:
// One mutex guards the directory index and the pending state. Content
// streams are not covered by it once opened; concurrent writers to the same
// entry must be serialized by the caller.
type FileSystem struct {
	*vfs.Base
	backing     vfs.File
	codec       Codec
	shadows     shadow.Store
	ownsShadows bool
	readOnly    bool
	metrics     Metrics
	spool       *os.File

	mu       sync.Mutex
	reader   Reader
	entries  map[string]Entry     // real container members by absolute path
	dirs     map[string]time.Time // directory index, implicit parents included
	shadowed map[string]shadow.ID
	deleted  map[string]struct{} // members removed in this session
	dirty    bool
}

// LayeredRoot returns the root address of an archive stored in backing.
func LayeredRoot(scheme string, backing address.Address) (address.Address, error) {
	return address.Parse(scheme + "://[" + backing.String() + "]/")
}

// Open opens the container stored in backing. root must be a layered
// address whose inner address is the backing file.
func Open(ctx context.Context, root address.Address, backing vfs.File, opts Options) (*FileSystem, error) {
	// ========================================================================
	// Step 1: Validate options
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Codec == nil {
		return nil, fserr.New(fserr.ErrNotSupported, "archive filesystem needs a codec", root.String())
	}
	if !root.IsLayered() {
		return nil, fserr.NewMalformedAddress(root.String(), "archive address needs an inner address")
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	codec, err := codecFor(root, opts.Codec)
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Load the container
	// ========================================================================

	content, size, spool, err := loadContainer(ctx, backing, opts.SpoolDir)
	if err != nil {
		return nil, err
	}
	reader, err := codec.Open(content, size)
	if err != nil {
		releaseSpool(spool)
		return nil, err
	}

	// ========================================================================
	// Step 3: Build the directory index
	// ========================================================================

	fs := &FileSystem{
		backing:  backing,
		codec:    codec,
		shadows:  opts.Shadows,
		readOnly: opts.ReadOnly,
		metrics:  opts.Metrics,
		spool:    spool,
		reader:   reader,
		entries:  make(map[string]Entry),
		dirs:     map[string]time.Time{"/": {}},
		shadowed: make(map[string]shadow.ID),
		deleted:  make(map[string]struct{}),
	}
	if fs.shadows == nil {
		fs.shadows = memory.New()
		fs.ownsShadows = true
	}
	for _, e := range reader.Entries() {
		p := "/" + e.Name
		fs.entries[p] = e
		if e.IsDir {
			fs.dirs[p] = e.ModTime
		}
		fs.addParentsLocked(p, e.ModTime)
	}
	fs.Base = vfs.NewBase(root, fs.newNode, opts.Security)

	logger.Info("Opened %s archive %s: %d entries (%s)",
		opts.Codec.Name(), backing.Address().Key(), len(fs.entries), humanize.Bytes(uint64(size)))
	return fs, nil
}

// codecFor applies the OptionPassword variable of root, or of its inner
// address, to codec.
func codecFor(root address.Address, codec Codec) (Codec, error) {
	password, ok := root.QueryValue(OptionPassword)
	if !ok {
		if inner, layered := root.Inner(); layered {
			password, ok = inner.QueryValue(OptionPassword)
		}
	}
	if !ok || password == "" {
		return codec, nil
	}
	pc, ok := codec.(PasswordCodec)
	if !ok {
		return nil, fserr.New(fserr.ErrNotSupported, codec.Name()+" containers cannot be password protected", root.String())
	}
	return pc.WithPassword(password), nil
}

// loadContainer snapshots the backing file so that the commit can rewrite
// it while old members are still read. The snapshot lives in memory, or in
// a temporary file under spoolDir when one is set.
func loadContainer(ctx context.Context, backing vfs.File, spoolDir string) (io.ReaderAt, int64, *os.File, error) {
	r, err := backing.OpenReader(ctx)
	if err != nil {
		return nil, 0, nil, err
	}
	defer r.Close()

	if spoolDir == "" {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("failed to read archive %s: %w", backing.Address().Key(), err)
		}
		return bytes.NewReader(data), int64(len(data)), nil, nil
	}

	spool, err := os.CreateTemp(spoolDir, "archive-*.spool")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to create archive spool: %w", err)
	}
	size, err := io.Copy(spool, r)
	if err != nil {
		releaseSpool(spool)
		return nil, 0, nil, fmt.Errorf("failed to read archive %s: %w", backing.Address().Key(), err)
	}
	return spool, size, spool, nil
}

func releaseSpool(spool *os.File) {
	if spool == nil {
		return
	}
	_ = spool.Close()
	if err := os.Remove(spool.Name()); err != nil {
		logger.Warn("archive: failed to remove spool %s: %v", spool.Name(), err)
	}
}

// Create writes an empty container to backing and opens it.
func Create(ctx context.Context, backing vfs.File, opts Options) (*FileSystem, error) {
	return CreateFrom(ctx, backing, nil, opts)
}

// CreateFrom writes a container holding a copy of the tree under source (or
// an empty container when source is nil) to backing and opens it.
func CreateFrom(ctx context.Context, backing vfs.File, source vfs.Directory, opts Options) (*FileSystem, error) {
	if opts.Codec == nil {
		return nil, fserr.New(fserr.ErrNotSupported, "archive filesystem needs a codec", backing.Address().String())
	}
	if opts.Scheme == "" {
		opts.Scheme = DefaultScheme
	}
	root, err := LayeredRoot(opts.Scheme, backing.Address())
	if err != nil {
		return nil, err
	}
	codec, err := codecFor(root, opts.Codec)
	if err != nil {
		return nil, err
	}

	var sources []Source
	if source != nil {
		if sources, err = collectSources(ctx, source, ""); err != nil {
			return nil, err
		}
	}

	w, err := backing.OpenWriter(ctx)
	if err != nil {
		return nil, err
	}
	if err := codec.Write(w, sources); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return Open(ctx, root, backing, opts)
}

func collectSources(ctx context.Context, dir vfs.Directory, prefix string) ([]Source, error) {
	children, err := dir.Children(ctx, vfs.NodeAny)
	if err != nil {
		return nil, err
	}
	var out []Source
	for _, child := range children {
		name := prefix + child.Address().Name()
		modTime, _ := child.Attributes().Time(vfs.AttrLastWriteTime)
		switch c := child.(type) {
		case vfs.Directory:
			out = append(out, Source{Entry: Entry{Name: name, IsDir: true, ModTime: modTime}})
			nested, err := collectSources(ctx, c, name+"/")
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		case vfs.File:
			out = append(out, Source{
				Entry: Entry{Name: name, ModTime: modTime},
				Open:  func() (io.ReadCloser, error) { return c.OpenReader(ctx) },
			})
		}
	}
	return out, nil
}

// Backing returns the file holding the container.
func (fs *FileSystem) Backing() vfs.File { return fs.backing }

// ReadOnly reports whether mutations are rejected.
func (fs *FileSystem) ReadOnly() bool { return fs.readOnly }

// Resolve implements vfs.FileSystem.
func (fs *FileSystem) Resolve(ctx context.Context, addr address.Address, nodeType vfs.NodeType) (vfs.Node, error) {
	return fs.ResolveNode(ctx, addr, nodeType)
}

// Pending returns the number of shadowed entries awaiting commit.
func (fs *FileSystem) Pending() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.shadowed)
}

// ShadowIDs returns the shadows holding pending writes. A closed filesystem
// references none, even when its last commit failed and left them behind.
func (fs *FileSystem) ShadowIDs() []shadow.ID {
	if fs.Closed() {
		return nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ids := make([]shadow.ID, 0, len(fs.shadowed))
	for _, id := range fs.shadowed {
		ids = append(ids, id)
	}
	return ids
}

// Close commits pending changes into the container and releases the
// filesystem. Shadows are kept when the commit fails.
func (fs *FileSystem) Close(ctx context.Context) error {
	if !fs.MarkClosed() {
		return nil
	}

	var err error
	if !fs.readOnly {
		err = fs.commit(ctx)
	}
	releaseSpool(fs.spool)
	if fs.ownsShadows {
		if cerr := fs.shadows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (fs *FileSystem) newNode(ctx context.Context, addr address.Address, nodeType vfs.NodeType) (vfs.Node, error) {
	p, err := addr.SlashFreePath()
	if err != nil {
		return nil, err
	}
	if nodeType == vfs.NodeAny {
		nodeType = vfs.NodeFile
		fs.mu.Lock()
		if _, ok := fs.dirs[p]; ok {
			nodeType = vfs.NodeDirectory
		}
		fs.mu.Unlock()
	}

	attrs := vfs.NewAttributes(nil,
		vfs.AttrExists, vfs.AttrSize,
		vfs.AttrCreationTime, vfs.AttrLastAccessTime, vfs.AttrLastWriteTime)
	n := node{BaseNode: vfs.NewBaseNode(fs, addr, nodeType, attrs), fs: fs, path: p}

	var out vfs.Node
	switch nodeType {
	case vfs.NodeFile:
		out = &file{n}
	case vfs.NodeDirectory:
		out = &directory{n}
	default:
		return nil, fserr.NewNodeTypeNotSupported(addr.String(), nodeType)
	}
	if err := out.Refresh(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// ============================================================================
// Directory index
// ============================================================================

func (fs *FileSystem) addParentsLocked(p string, modTime time.Time) {
	for dir := path.Dir(p); dir != "/"; dir = path.Dir(dir) {
		if _, ok := fs.dirs[dir]; ok {
			return
		}
		fs.dirs[dir] = modTime
	}
}

func (fs *FileSystem) fileExistsLocked(p string) bool {
	if _, ok := fs.shadowed[p]; ok {
		return true
	}
	return fs.memberLocked(p)
}

// memberLocked reports whether p is a live file member of the container.
func (fs *FileSystem) memberLocked(p string) bool {
	e, ok := fs.entries[p]
	if !ok || e.IsDir {
		return false
	}
	_, gone := fs.deleted[p]
	return !gone
}

func (fs *FileSystem) dirExistsLocked(p string) bool {
	_, ok := fs.dirs[p]
	return ok
}

// under reports whether p is strictly below dir.
func under(p, dir string) bool {
	if dir == "/" {
		return p != "/"
	}
	return strings.HasPrefix(p, dir+"/")
}

// childrenLocked lists the live paths directly below dir.
func (fs *FileSystem) childrenLocked(dir string) (files, dirs []string) {
	seen := make(map[string]struct{})
	for p := range fs.dirs {
		if p != "/" && path.Dir(p) == dir {
			dirs = append(dirs, p)
		}
	}
	for p := range fs.entries {
		if path.Dir(p) == dir && fs.memberLocked(p) {
			files = append(files, p)
			seen[p] = struct{}{}
		}
	}
	for p := range fs.shadowed {
		if _, ok := seen[p]; !ok && path.Dir(p) == dir {
			files = append(files, p)
		}
	}
	sort.Strings(files)
	sort.Strings(dirs)
	return files, dirs
}

// ============================================================================
// Content
// ============================================================================

func (fs *FileSystem) openReader(ctx context.Context, p string) (io.ReadCloser, error) {
	fs.mu.Lock()
	id, shadowed := fs.shadowed[p]
	member := fs.memberLocked(p)
	parent := fs.dirExistsLocked(path.Dir(p))
	fs.mu.Unlock()

	switch {
	case shadowed:
		return fs.shadows.OpenReader(ctx, id)
	case member:
		return fs.reader.Open(strings.TrimPrefix(p, "/"))
	case !parent:
		return nil, fserr.NewDirectoryNotFound(path.Dir(p))
	default:
		return nil, fserr.NewFileNotFound(p)
	}
}

// openWriter returns a stream into the shadow of p, creating the shadow on
// first use.
func (fs *FileSystem) openWriter(ctx context.Context, p string) (io.WriteCloser, bool, error) {
	if fs.readOnly {
		return nil, false, fserr.New(fserr.ErrReadOnly, "archive is read-only", p)
	}

	fs.mu.Lock()
	if !fs.dirExistsLocked(path.Dir(p)) {
		fs.mu.Unlock()
		return nil, false, fserr.NewDirectoryNotFound(path.Dir(p))
	}
	if fs.dirExistsLocked(p) {
		fs.mu.Unlock()
		return nil, false, fserr.New(fserr.ErrAlreadyExists, "a directory exists at this path", p)
	}
	existed := fs.fileExistsLocked(p)
	id, ok := fs.shadowed[p]
	if !ok {
		var err error
		id, err = fs.shadows.Create(ctx)
		if err != nil {
			fs.mu.Unlock()
			return nil, false, err
		}
		fs.shadowed[p] = id
		fs.metrics.RecordShadowCreated()
		logger.Debug("archive: shadow %s created for %s", id, p)
	}
	delete(fs.deleted, p)
	fs.dirty = true
	fs.mu.Unlock()

	w, err := fs.shadows.OpenWriter(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return w, existed, nil
}

// entryInfo reports what the index knows about a file path.
func (fs *FileSystem) entryInfo(ctx context.Context, p string) (exists bool, size int64, modTime time.Time, err error) {
	fs.mu.Lock()
	id, shadowed := fs.shadowed[p]
	member := fs.memberLocked(p)
	e := fs.entries[p]
	fs.mu.Unlock()

	if shadowed {
		info, err := fs.shadows.Stat(ctx, id)
		if err != nil {
			return false, 0, time.Time{}, err
		}
		return true, info.Size, info.ModTime, nil
	}
	if member {
		return true, e.Size, e.ModTime, nil
	}
	return false, 0, time.Time{}, nil
}

// ============================================================================
// Mutations
// ============================================================================

func (fs *FileSystem) deleteFile(ctx context.Context, p string) error {
	if fs.readOnly {
		return fserr.New(fserr.ErrReadOnly, "archive is read-only", p)
	}

	fs.mu.Lock()
	if !fs.fileExistsLocked(p) {
		fs.mu.Unlock()
		return fserr.NewFileNotFound(p)
	}
	id, shadowed := fs.shadowed[p]
	delete(fs.shadowed, p)
	if _, ok := fs.entries[p]; ok {
		fs.deleted[p] = struct{}{}
	}
	fs.dirty = true
	fs.mu.Unlock()

	if shadowed {
		return fs.shadows.Delete(ctx, id)
	}
	return nil
}

func (fs *FileSystem) createDirectory(p string, createParents bool) error {
	if fs.readOnly {
		return fserr.New(fserr.ErrReadOnly, "archive is read-only", p)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.dirExistsLocked(p) {
		return nil
	}
	if fs.fileExistsLocked(p) {
		return fserr.New(fserr.ErrAlreadyExists, "a file exists at this path", p)
	}
	parent := path.Dir(p)
	if !fs.dirExistsLocked(parent) {
		if !createParents {
			return fserr.NewDirectoryNotFound(parent)
		}
		for dir := parent; dir != "/"; dir = path.Dir(dir) {
			if fs.fileExistsLocked(dir) {
				return fserr.New(fserr.ErrAlreadyExists, "a file exists at this path", dir)
			}
		}
	}

	now := time.Now()
	fs.dirs[p] = now
	fs.addParentsLocked(p, now)
	delete(fs.deleted, p)
	fs.dirty = true
	return nil
}

func (fs *FileSystem) deleteDirectory(ctx context.Context, p string, recursive bool) error {
	if fs.readOnly {
		return fserr.New(fserr.ErrReadOnly, "archive is read-only", p)
	}
	if p == "/" {
		return fserr.NewInvalidPath(p, "cannot delete the root directory")
	}

	fs.mu.Lock()
	if !fs.dirExistsLocked(p) {
		fs.mu.Unlock()
		return fserr.NewDirectoryNotFound(p)
	}
	files, dirs := fs.childrenLocked(p)
	if !recursive && len(files)+len(dirs) > 0 {
		fs.mu.Unlock()
		return fserr.New(fserr.ErrNotEmpty, "directory not empty", p)
	}

	var drop []shadow.ID
	for q, id := range fs.shadowed {
		if under(q, p) {
			drop = append(drop, id)
			delete(fs.shadowed, q)
		}
	}
	for q := range fs.entries {
		if q == p || under(q, p) {
			fs.deleted[q] = struct{}{}
		}
	}
	for q := range fs.dirs {
		if q == p || under(q, p) {
			delete(fs.dirs, q)
		}
	}
	fs.dirty = true
	fs.mu.Unlock()

	for _, id := range drop {
		if err := fs.shadows.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Commit
// ============================================================================

// commit writes a new container holding the live directory index, shadow
// content for shadowed entries and original content for the rest.
func (fs *FileSystem) commit(ctx context.Context) (err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.dirty {
		return nil
	}

	start := time.Now()
	var written int64
	defer func() {
		fs.metrics.ObserveCommit(time.Since(start), written, err)
	}()

	sources := fs.sourcesLocked(ctx)

	w, err := fs.backing.OpenWriter(ctx)
	if err != nil {
		return fmt.Errorf("failed to open archive for commit: %w", err)
	}
	cw := &countingWriter{w: w}
	if err := fs.codec.Write(cw, sources); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to commit archive %s: %w", fs.backing.Address().Key(), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to commit archive %s: %w", fs.backing.Address().Key(), err)
	}
	written = cw.n

	for p, id := range fs.shadowed {
		if err := fs.shadows.Delete(ctx, id); err != nil {
			logger.Warn("archive: failed to drop shadow %s for %s: %v", id, p, err)
		}
	}
	fs.shadowed = make(map[string]shadow.ID)
	fs.dirty = false

	logger.Info("Committed archive %s: %d entries (%s) in %s",
		fs.backing.Address().Key(), len(sources), humanize.Bytes(uint64(written)), time.Since(start).Round(time.Millisecond))
	return nil
}

func (fs *FileSystem) sourcesLocked(ctx context.Context) []Source {
	var sources []Source
	for p, modTime := range fs.dirs {
		if p == "/" {
			continue
		}
		sources = append(sources, Source{Entry: Entry{Name: p[1:], IsDir: true, ModTime: modTime}})
	}
	for p, e := range fs.entries {
		if _, ok := fs.shadowed[p]; ok || !fs.memberLocked(p) {
			continue
		}
		name := e.Name
		sources = append(sources, Source{
			Entry: e,
			Open:  func() (io.ReadCloser, error) { return fs.reader.Open(name) },
		})
	}
	for p, id := range fs.shadowed {
		modTime := time.Now()
		if info, err := fs.shadows.Stat(ctx, id); err == nil {
			modTime = info.ModTime
		}
		sources = append(sources, Source{
			Entry: Entry{Name: p[1:], ModTime: modTime},
			Open:  func() (io.ReadCloser, error) { return fs.shadows.OpenReader(ctx, id) },
		})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ============================================================================
// Provider
// ============================================================================

// Provider opens archive filesystems for layered addresses, resolving the
// backing file through the manager.
type Provider struct {
	schemes []string
	opts    Options
}

// NewProvider creates a provider for schemes (DefaultScheme when empty).
func NewProvider(opts Options, schemes ...string) *Provider {
	if len(schemes) == 0 {
		schemes = []string{DefaultScheme}
	}
	return &Provider{schemes: schemes, opts: opts}
}

// Schemes implements vfs.Provider.
func (p *Provider) Schemes() []string { return p.schemes }

// Open implements vfs.Provider.
func (p *Provider) Open(ctx context.Context, resolver vfs.Resolver, root address.Address) (vfs.FileSystem, error) {
	inner, ok := root.Inner()
	if !ok {
		return nil, fserr.NewMalformedAddress(root.String(), "archive address needs an inner address")
	}
	n, err := resolver.ResolveAddress(ctx, inner, vfs.NodeFile)
	if err != nil {
		return nil, err
	}
	backing, err := vfs.AsFile(n)
	if err != nil {
		return nil, err
	}
	return Open(ctx, root, backing, p.opts)
}
