// Package remotetest provides an in-memory remote server and client for
// tests of code built on the remote filesystem.
package remotetest

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/marmos91/dittovfs/pkg/remote"
)

type entry struct {
	dir     bool
	data    []byte
	modTime time.Time
}

// Server is an in-memory remote tree. Every client dialed from it shares the
// same tree.
type Server struct {
	mu      sync.Mutex
	entries map[string]*entry
	clients []*Client

	failConnect atomic.Bool
	dials       atomic.Int64
	connects    atomic.Int64
}

// NewServer creates a server holding only the root directory.
func NewServer() *Server {
	return &Server{entries: map[string]*entry{"/": {dir: true, modTime: time.Now()}}}
}

// Dialer returns a remote.Dialer producing clients of this server.
func (s *Server) Dialer() remote.Dialer {
	return func(ctx context.Context, ep remote.Endpoint) (remote.Client, error) {
		s.dials.Add(1)
		c := &Client{server: s, endpoint: ep}
		s.mu.Lock()
		s.clients = append(s.clients, c)
		s.mu.Unlock()
		return c, nil
	}
}

// FailConnect makes subsequent Connect calls fail.
func (s *Server) FailConnect(fail bool) { s.failConnect.Store(fail) }

// Dials returns the number of clients built.
func (s *Server) Dials() int { return int(s.dials.Load()) }

// Connects returns the number of successful connections.
func (s *Server) Connects() int { return int(s.connects.Load()) }

// DropAll disconnects every client dialed so far.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.connected.Store(false)
	}
}

// WriteFile stores data at p, creating parent directories.
func (s *Server) WriteFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = path.Clean("/" + p)
	s.mkdirAllLocked(path.Dir(p))
	s.entries[p] = &entry{data: append([]byte(nil), data...), modTime: time.Now()}
}

// MkdirAll creates p and its parents.
func (s *Server) MkdirAll(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAllLocked(path.Clean("/" + p))
}

// ReadFile returns the content stored at p.
func (s *Server) ReadFile(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[path.Clean("/"+p)]
	if !ok || e.dir {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

// Has reports whether p exists.
func (s *Server) Has(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[path.Clean("/"+p)]
	return ok
}

func (s *Server) mkdirAllLocked(p string) {
	for p != "/" {
		if _, ok := s.entries[p]; !ok {
			s.entries[p] = &entry{dir: true, modTime: time.Now()}
		}
		p = path.Dir(p)
	}
}

func (s *Server) stat(p string) (remote.EntryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[p]
	if !ok {
		return remote.EntryInfo{}, fserr.NewFileNotFound(p)
	}
	return info(p, e), nil
}

func info(p string, e *entry) remote.EntryInfo {
	return remote.EntryInfo{Name: path.Base(p), IsDir: e.dir, Size: int64(len(e.data)), ModTime: e.modTime}
}

func (s *Server) list(p string) ([]remote.EntryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[p]
	if !ok || !e.dir {
		return nil, fserr.NewDirectoryNotFound(p)
	}
	var out []remote.EntryInfo
	for k, child := range s.entries {
		if k != "/" && path.Dir(k) == p {
			out = append(out, info(k, child))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Server) parentDir(p string) error {
	parent, ok := s.entries[path.Dir(p)]
	if !ok || !parent.dir {
		return fserr.NewDirectoryNotFound(path.Dir(p))
	}
	return nil
}

func (s *Server) mkdir(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[p]; ok {
		if e.dir {
			return nil
		}
		return fserr.New(fserr.ErrAlreadyExists, "file exists", p)
	}
	if err := s.parentDir(p); err != nil {
		return err
	}
	s.entries[p] = &entry{dir: true, modTime: time.Now()}
	return nil
}

func (s *Server) put(p string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.parentDir(p); err != nil {
		return err
	}
	if e, ok := s.entries[p]; ok && e.dir {
		return fserr.New(fserr.ErrAlreadyExists, "is a directory", p)
	}
	s.entries[p] = &entry{data: data, modTime: time.Now()}
	return nil
}

func (s *Server) remove(p string, recursive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[p]
	if !ok {
		return fserr.NewFileNotFound(p)
	}
	if !e.dir {
		delete(s.entries, p)
		return nil
	}
	prefix := p + "/"
	var children []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			children = append(children, k)
		}
	}
	if len(children) > 0 && !recursive {
		return fserr.New(fserr.ErrNotEmpty, "directory not empty", p)
	}
	for _, k := range children {
		delete(s.entries, k)
	}
	delete(s.entries, p)
	return nil
}

// Client is one connection to a Server.
type Client struct {
	server    *Server
	endpoint  remote.Endpoint
	connected atomic.Bool
	closed    atomic.Bool
}

var _ remote.Client = (*Client)(nil)

// Endpoint returns the endpoint the client was dialed with.
func (c *Client) Endpoint() remote.Endpoint { return c.endpoint }

// Closed reports whether Close was called.
func (c *Client) Closed() bool { return c.closed.Load() }

// Disconnect simulates a dropped session.
func (c *Client) Disconnect() { c.connected.Store(false) }

func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.server.failConnect.Load() {
		return fserr.New(fserr.ErrConnection, "connection refused", c.endpoint.Server)
	}
	c.server.connects.Add(1)
	c.connected.Store(true)
	return nil
}

func (c *Client) Connected() bool { return c.connected.Load() && !c.closed.Load() }

func (c *Client) check() error {
	if !c.Connected() {
		return fserr.New(fserr.ErrConnection, "not connected", c.endpoint.Server)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return time.Millisecond, nil
}

func (c *Client) Stat(ctx context.Context, p string) (remote.EntryInfo, error) {
	if err := c.check(); err != nil {
		return remote.EntryInfo{}, err
	}
	return c.server.stat(p)
}

func (c *Client) List(ctx context.Context, p string) ([]remote.EntryInfo, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.server.list(p)
}

func (c *Client) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	data, ok := c.server.ReadFile(p)
	if !ok {
		return nil, fserr.NewFileNotFound(p)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *Client) OpenWrite(ctx context.Context, p string) (io.WriteCloser, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return &writer{server: c.server, path: p}, nil
}

func (c *Client) MakeDirectory(ctx context.Context, p string) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.server.mkdir(p)
}

func (c *Client) Delete(ctx context.Context, p string, recursive bool) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.server.remove(p, recursive)
}

func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}

type writer struct {
	server *Server
	path   string
	buf    bytes.Buffer
}

func (w *writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *writer) Close() error {
	return w.server.put(w.path, w.buf.Bytes())
}
