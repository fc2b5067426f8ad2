// Package remote implements a filesystem backed by a remote server.
//
// Every node operation leases a client from one of two timed pools owned by
// the filesystem: the control pool for metadata operations and the binary
// pool for content streams, so long transfers never hold up listings.
//
// Several FileSystem instances can point at the same server with the same
// credentials (for example one per view). Instances sharing a uniqueness key
// are tracked in a Registry of weak handles, and activity on one instance is
// propagated to all of them with attribute reconciliation.
package remote

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/internal/ratelimiter"
	"github.com/marmos91/dittovfs/pkg/address"
	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/marmos91/dittovfs/pkg/pool"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

const (
	// DefaultPort is used when a remote address has no explicit port.
	DefaultPort = 6021

	// OptionUniqueID overrides the remote URI in the uniqueness key.
	OptionUniqueID = "server-scheme-uniqueid"
)

// Options configures a remote filesystem.
type Options struct {
	// Dialer builds protocol clients. Required.
	Dialer Dialer

	// IdleTimeout for pooled clients. Defaults to pool.DefaultIdleTimeout.
	IdleTimeout time.Duration

	// JanitorInterval sweeps expired idle clients in the background while
	// the filesystem is open. Zero leaves eviction to the next lease.
	JanitorInterval time.Duration

	// DialLimiter throttles connection attempts. It may be shared between
	// filesystems. Nil dials without limit.
	DialLimiter *ratelimiter.Limiter

	// DefaultPort replaces a missing port. Defaults to DefaultPort.
	DefaultPort int

	// Registry groups instances for activity propagation.
	// Defaults to DefaultRegistry.
	Registry *Registry

	// Security filters activity notifications. Nil allows everything.
	Security vfs.SecurityManager

	// PoolMetrics and Metrics may be nil.
	PoolMetrics pool.Metrics
	Metrics     Metrics
}

// FileSystem is a filesystem whose nodes live on a remote server.
type FileSystem struct {
	*vfs.Base
	endpoint Endpoint
	key      string
	control  *pool.Pool[Client]
	binary   *pool.Pool[Client]
	registry *Registry
	metrics  Metrics
	stop     context.CancelFunc
}

// resources are what a FileSystem leaves running. They must not reference
// the FileSystem itself.
type resources struct {
	control *pool.Pool[Client]
	binary  *pool.Pool[Client]
	stop    context.CancelFunc
}

func (r *resources) release() {
	if r.stop != nil {
		r.stop()
	}
	r.control.Close()
	r.binary.Close()
}

// UniqueKey derives the identity shared by filesystems that represent the
// same remote resource: server, the OptionUniqueID query variable (or the
// root URI), user name, password and port.
func UniqueKey(root address.Address, defaultPort int) string {
	ep := EndpointFromAddress(root, defaultPort)
	id, ok := ep.Options[OptionUniqueID]
	if !ok || id == "" {
		id = root.Root().String()
	}
	return ep.Server + ":::" + id + ":::" + ep.UserName + ":::" + ep.Password + ":::" + strconv.Itoa(ep.Port)
}

// New creates a remote filesystem for root and registers it for activity
// propagation. No connection is made until the first operation.
func New(ctx context.Context, root address.Address, opts Options) (*FileSystem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Dialer == nil {
		return nil, fserr.New(fserr.ErrNotSupported, "remote filesystem needs a dialer", root.String())
	}
	if root.Server() == "" {
		return nil, fserr.NewMalformedAddress(root.String(), "remote address needs a server")
	}
	if opts.DefaultPort == 0 {
		opts.DefaultPort = DefaultPort
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	ep := EndpointFromAddress(root, opts.DefaultPort)
	fs := &FileSystem{
		endpoint: ep,
		key:      UniqueKey(root, opts.DefaultPort),
		registry: opts.Registry,
		metrics:  opts.Metrics,
	}
	fs.Base = vfs.NewBase(root, fs.newNode, opts.Security)

	dial := ratelimiter.Wrap(opts.DialLimiter, func(ctx context.Context) (Client, error) {
		return opts.Dialer(ctx, ep)
	})
	name := ep.Server + ":" + strconv.Itoa(ep.Port)
	fs.control = pool.New[Client](dial, pool.Options{Name: name + "/control", IdleTimeout: opts.IdleTimeout, Metrics: opts.PoolMetrics})
	fs.binary = pool.New[Client](dial, pool.Options{Name: name + "/binary", IdleTimeout: opts.IdleTimeout, Metrics: opts.PoolMetrics})

	res := &resources{control: fs.control, binary: fs.binary}
	if opts.JanitorInterval > 0 {
		jctx, cancel := context.WithCancel(context.Background())
		fs.stop = cancel
		res.stop = cancel
		go res.control.RunJanitor(jctx, opts.JanitorInterval)
		go res.binary.RunJanitor(jctx, opts.JanitorInterval)
	}
	// A filesystem dropped without Close still stops its janitors and
	// releases its clients once collected.
	runtime.AddCleanup(fs, (*resources).release, res)

	fs.registry.Register(fs.key, fs)
	logger.Debug("remote: registered %s under %s:%d", root.Root(), ep.Server, ep.Port)
	return fs, nil
}

// Key returns the uniqueness key.
func (fs *FileSystem) Key() string { return fs.key }

// Endpoint returns the endpoint clients are dialed with.
func (fs *FileSystem) Endpoint() Endpoint { return fs.endpoint }

// ControlPool returns the pool used for metadata operations.
func (fs *FileSystem) ControlPool() *pool.Pool[Client] { return fs.control }

// BinaryPool returns the pool used for content streams.
func (fs *FileSystem) BinaryPool() *pool.Pool[Client] { return fs.binary }

// Resolve implements vfs.FileSystem.
func (fs *FileSystem) Resolve(ctx context.Context, addr address.Address, nodeType vfs.NodeType) (vfs.Node, error) {
	return fs.ResolveNode(ctx, addr, nodeType)
}

// Ping leases a control client, probes the server and returns the
// round-trip time. Connection failures surface as fserr.ErrConnection.
func (fs *FileSystem) Ping(ctx context.Context) (time.Duration, error) {
	return pool.Call(ctx, fs.control, func(c Client) (time.Duration, error) {
		return c.Ping(ctx)
	})
}

// RaiseActivity reports that the node at ev.Address changed and propagates
// the event to every live filesystem sharing this one's key. It returns the
// number of filesystems whose subscribers were notified.
func (fs *FileSystem) RaiseActivity(ctx context.Context, ev vfs.ActivityEvent) (int, error) {
	if fs.Closed() {
		return 0, fserr.New(fserr.ErrClosed, "", fs.RootAddress().String())
	}
	return fs.registry.propagate(ctx, fs, ev)
}

// onActivity notifies subscribers when node may be viewed.
func (fs *FileSystem) onActivity(ctx context.Context, node vfs.Node, ev vfs.ActivityEvent) bool {
	return fs.NotifyActivity(ctx, node, ev)
}

// Close drops every node and pooled client. The registry handle stays and is
// skipped from now on.
func (fs *FileSystem) Close(ctx context.Context) error {
	if !fs.MarkClosed() {
		return nil
	}
	if fs.stop != nil {
		fs.stop()
	}
	fs.control.Close()
	fs.binary.Close()
	logger.Debug("remote: closed %s", fs.RootAddress())
	return nil
}

func (fs *FileSystem) newNode(ctx context.Context, addr address.Address, nodeType vfs.NodeType) (vfs.Node, error) {
	p, err := addr.SlashFreePath()
	if err != nil {
		return nil, err
	}
	if nodeType == vfs.NodeAny {
		nodeType = vfs.NodeFile
		info, err := pool.Call(ctx, fs.control, func(c Client) (EntryInfo, error) {
			return c.Stat(ctx, p)
		})
		switch {
		case err == nil && info.IsDir:
			nodeType = vfs.NodeDirectory
		case err != nil && !fserr.IsNotFound(err):
			return nil, err
		}
	}

	n := node{
		BaseNode: vfs.NewBaseNode(fs, addr, nodeType, vfs.NewAttributes(nil, vfs.AttrExists, vfs.AttrSize)),
		fs:       fs,
		path:     p,
	}
	switch nodeType {
	case vfs.NodeFile:
		return &file{n}, nil
	case vfs.NodeDirectory:
		return &directory{n}, nil
	default:
		return nil, fserr.NewNodeTypeNotSupported(addr.String(), nodeType)
	}
}

// Provider opens remote filesystems for a set of schemes.
type Provider struct {
	schemes []string
	opts    Options
}

// NewProvider creates a provider that serves schemes with opts.
func NewProvider(opts Options, schemes ...string) *Provider {
	return &Provider{schemes: schemes, opts: opts}
}

// Schemes implements vfs.Provider.
func (p *Provider) Schemes() []string { return p.schemes }

// Open implements vfs.Provider.
func (p *Provider) Open(ctx context.Context, _ vfs.Resolver, root address.Address) (vfs.FileSystem, error) {
	return New(ctx, root, p.opts)
}
