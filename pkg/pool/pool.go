// Package pool implements a timed cache of idle client connections.
//
// Clients are leased for the duration of one operation and handed back when
// the lease is released. Idle clients expire after a fixed idle time. Expiry
// is checked lazily on the next lease; Sweep and RunJanitor can evict
// expired clients eagerly.
//
// A client that comes back disconnected is taken as a sign that the endpoint
// or session is gone, and every idle client is discarded with it.
package pool

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/fserr"
)

// DefaultIdleTimeout is how long an idle client stays usable.
const DefaultIdleTimeout = 25 * time.Minute

// Connector is the capability the pool needs from a client.
type Connector interface {
	Connect(ctx context.Context) error
	Connected() bool
}

// Client constrains the pooled type. Clients are compared by identity, so
// T is normally a pointer or an interface holding one.
type Client interface {
	comparable
	Connector
}

// Factory builds an unconnected client.
type Factory[T Client] func(ctx context.Context) (T, error)

// Options configures a pool.
type Options struct {
	// Name identifies the pool in logs, errors and metrics.
	Name string

	// IdleTimeout defaults to DefaultIdleTimeout.
	IdleTimeout time.Duration

	// Metrics may be nil.
	Metrics Metrics

	// Now overrides the clock, for tests.
	Now func() time.Time
}

type entry[T Client] struct {
	client    T
	idleSince time.Time
}

// Pool caches idle clients.
//
// Thread Safety:
// Lease and release are fully serialized by one mutex, including the scan for
// a connected client and the creation of a new one, so two callers can never
// claim the same client.
type Pool[T Client] struct {
	mu      sync.Mutex
	idle    []entry[T]
	factory Factory[T]
	opts    Options
	metrics Metrics
	closed  bool
}

// New creates an empty pool.
func New[T Client](factory Factory[T], opts Options) *Pool[T] {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := opts.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	return &Pool[T]{factory: factory, opts: opts, metrics: m}
}

// Name returns the pool name.
func (p *Pool[T]) Name() string { return p.opts.Name }

// Lease returns a connected client, reusing an idle one when possible.
//
// Idle clients are scanned oldest first. Expired and disconnected clients met
// during the scan are discarded. When no idle client is usable a new one is
// built and connected; a failure is returned as fserr.ErrConnection.
func (p *Pool[T]) Lease(ctx context.Context) (*Lease[T], error) {
	// Discarded clients are closed after the lock is released.
	var discard []T
	defer func() { closeAll(discard) }()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fserr.New(fserr.ErrClosed, "pool closed", p.opts.Name)
	}

	// ========================================================================
	// Step 1: Reuse the first usable idle client
	// ========================================================================

	now := p.opts.Now()
	for len(p.idle) > 0 {
		e := p.idle[0]
		p.idle = p.idle[1:]

		if now.Sub(e.idleSince) >= p.opts.IdleTimeout {
			discard = append(discard, e.client)
			p.metrics.RecordDiscard(p.opts.Name, "expired")
			continue
		}
		if !e.client.Connected() {
			discard = append(discard, e.client)
			p.metrics.RecordDiscard(p.opts.Name, "disconnected")
			continue
		}

		p.metrics.RecordLease(p.opts.Name, true)
		p.metrics.SetIdle(p.opts.Name, len(p.idle))
		return &Lease[T]{pool: p, client: e.client}, nil
	}
	p.metrics.SetIdle(p.opts.Name, 0)

	// ========================================================================
	// Step 2: Build and connect a new client
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := p.factory(ctx)
	if err != nil {
		p.metrics.RecordConnectError(p.opts.Name)
		return nil, fserr.NewConnection(p.opts.Name, err)
	}
	if err := client.Connect(ctx); err != nil {
		discard = append(discard, client)
		p.metrics.RecordConnectError(p.opts.Name)
		return nil, fserr.NewConnection(p.opts.Name, err)
	}

	logger.Debug("pool %s: new client connected", p.opts.Name)
	p.metrics.RecordLease(p.opts.Name, false)
	return &Lease[T]{pool: p, client: client}, nil
}

// release hands a client back.
//
// A disconnected client clears the whole pool. Nothing is returned to the
// caller: release runs on exit paths where an error would hide the outcome of
// the operation itself.
func (p *Pool[T]) release(c T) {
	var discard []T

	p.mu.Lock()
	switch {
	case !c.Connected():
		discard = append(discard, c)
		for _, e := range p.idle {
			discard = append(discard, e.client)
		}
		if n := len(p.idle); n > 0 {
			logger.Warn("pool %s: client returned disconnected, discarding %d idle clients", p.opts.Name, n)
		}
		p.idle = nil
		p.metrics.RecordClear(p.opts.Name)
	case p.closed:
		discard = append(discard, c)
	default:
		present := false
		for _, e := range p.idle {
			if e.client == c {
				present = true
				break
			}
		}
		if !present {
			p.idle = append(p.idle, entry[T]{client: c, idleSince: p.opts.Now()})
		}
	}
	p.metrics.SetIdle(p.opts.Name, len(p.idle))
	p.mu.Unlock()

	closeAll(discard)
}

// Len returns the number of idle clients, expired ones included.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Contains reports whether c is currently idle in the pool.
func (p *Pool[T]) Contains(c T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.idle {
		if e.client == c {
			return true
		}
	}
	return false
}

// Sweep discards expired idle clients and returns how many were dropped.
func (p *Pool[T]) Sweep() int {
	p.mu.Lock()
	now := p.opts.Now()
	kept := p.idle[:0]
	var discard []T
	for _, e := range p.idle {
		if now.Sub(e.idleSince) >= p.opts.IdleTimeout {
			discard = append(discard, e.client)
			p.metrics.RecordDiscard(p.opts.Name, "expired")
			continue
		}
		kept = append(kept, e)
	}
	p.idle = kept
	p.metrics.SetIdle(p.opts.Name, len(p.idle))
	p.mu.Unlock()

	closeAll(discard)
	return len(discard)
}

// RunJanitor calls Sweep every interval until ctx is done.
func (p *Pool[T]) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.Sweep(); n > 0 {
				logger.Debug("pool %s: swept %d expired clients", p.opts.Name, n)
			}
		}
	}
}

// Clear discards every idle client.
func (p *Pool[T]) Clear() {
	p.mu.Lock()
	discard := make([]T, 0, len(p.idle))
	for _, e := range p.idle {
		discard = append(discard, e.client)
	}
	p.idle = nil
	p.metrics.SetIdle(p.opts.Name, 0)
	p.mu.Unlock()

	closeAll(discard)
}

// Close clears the pool and refuses further leases. Clients released after
// Close are closed instead of pooled.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Clear()
}

func closeAll[T Client](clients []T) {
	for _, c := range clients {
		if closer, ok := any(c).(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Debug("pool: close discarded client: %v", err)
			}
		}
	}
}

// Lease is a scoped acquisition of one client. Release returns the client to
// its pool; calling it more than once is a no-op.
type Lease[T Client] struct {
	pool   *Pool[T]
	client T
	once   sync.Once
}

// Client returns the leased client.
func (l *Lease[T]) Client() T { return l.client }

// Release hands the client back to the pool.
func (l *Lease[T]) Release() {
	l.once.Do(func() { l.pool.release(l.client) })
}

// Do leases a client, runs fn and releases the client on every exit path.
func (p *Pool[T]) Do(ctx context.Context, fn func(T) error) error {
	l, err := p.Lease(ctx)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn(l.client)
}

// Call is Do for operations that produce a value.
func Call[T Client, R any](ctx context.Context, p *Pool[T], fn func(T) (R, error)) (R, error) {
	l, err := p.Lease(ctx)
	if err != nil {
		var zero R
		return zero, err
	}
	defer l.Release()
	return fn(l.client)
}
