package isolation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
	"git.home.luguber.info/inful/srcgenhost/internal/metrics"
)

// DefaultIdleEvictAfter is how long an unused entry survives a Sweep.
const DefaultIdleEvictAfter = 30 * time.Minute

type entry struct {
	key      string
	env      Environment
	stamps   map[string]time.Time
	lastUsed time.Time

	// refs counts outstanding leases. A retired entry is no longer in the
	// map and is torn down once refs drops to zero.
	refs    int
	retired bool
}

// changed reports whether any file the entry was created from has a
// different timestamp now.
func (e *entry) changed() bool {
	for path, stamp := range e.stamps {
		if modTime(path) != stamp {
			return true
		}
	}
	return false
}

// Pool keeps one environment per Spec key.
type Pool struct {
	factory   Factory
	recorder  metrics.Recorder
	logger    *slog.Logger
	idleAfter time.Duration
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithRecorder reports pool events.
func WithRecorder(r metrics.Recorder) PoolOption {
	return func(p *Pool) { p.recorder = metrics.OrNoop(r) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithIdleEvictAfter sets how long unused entries are kept.
func WithIdleEvictAfter(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.idleAfter = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a pool that builds environments with factory.
func NewPool(factory Factory, opts ...PoolOption) *Pool {
	p := &Pool{
		factory:   factory,
		recorder:  metrics.NoopRecorder{},
		logger:    slog.Default(),
		idleAfter: DefaultIdleEvictAfter,
		now:       time.Now,
		entries:   make(map[string]*entry),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("isolation pool is closed")

// Lease is a borrowed environment. The environment stays alive until
// Release is called, even if the pool replaces or evicts it meanwhile.
type Lease struct {
	Environment
	pool *Pool
	e    *entry
	once sync.Once
}

// Release returns the environment to the pool. It is safe to call more
// than once.
func (l *Lease) Release(ctx context.Context) {
	if l == nil {
		return
	}
	l.once.Do(func() { l.pool.release(ctx, l.e) })
}

// Acquire leases the environment for spec. A cached entry is reused when
// its project and module files are unchanged and it answers a ping;
// otherwise it is retired and a new one is created. A retired entry is
// torn down when its last lease is released.
func (p *Pool) Acquire(ctx context.Context, spec Spec) (*Lease, error) {
	key := spec.Key()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	if e, ok := p.entries[key]; ok {
		if !e.changed() && e.env.Ping(ctx) == nil {
			e.lastUsed = p.now()
			p.recorder.IncPoolEvent(metrics.PoolHit)
			return p.lease(e), nil
		}
		p.logger.Debug("Recreating isolation environment", logfields.PoolKey(key))
		p.recorder.IncPoolEvent(metrics.PoolInvalidated)
		p.retire(ctx, e)
	}

	p.recorder.IncPoolEvent(metrics.PoolMiss)
	stamps := make(map[string]time.Time)
	if spec.Project != "" {
		stamps[spec.Project] = modTime(spec.Project)
	}
	for _, m := range spec.ModulePaths() {
		stamps[m] = modTime(m)
	}
	env, err := p.factory(ctx, spec)
	if err != nil {
		return nil, err
	}
	e := &entry{key: key, env: env, stamps: stamps, lastUsed: p.now()}
	p.entries[key] = e
	p.logger.Debug("Created isolation environment",
		logfields.PoolKey(key), logfields.Project(spec.Project), logfields.Platform(spec.Platform))
	return p.lease(e), nil
}

// Sweep retires idle or outdated entries and returns how many went.
// Entries with outstanding leases are left alone.
func (p *Pool) Sweep(ctx context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-p.idleAfter)
	n := 0
	for _, e := range p.entries {
		if e.refs > 0 {
			continue
		}
		switch {
		case e.lastUsed.Before(cutoff):
			p.recorder.IncPoolEvent(metrics.PoolEvicted)
		case e.changed():
			p.recorder.IncPoolEvent(metrics.PoolInvalidated)
		default:
			continue
		}
		p.retire(ctx, e)
		n++
	}
	return n
}

// Len returns the number of live entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close retires every entry. Unleased environments are torn down now,
// leased ones when released. Acquire fails afterwards.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var errs []error
	for _, e := range p.entries {
		delete(p.entries, e.key)
		e.retired = true
		if e.refs == 0 {
			errs = append(errs, e.env.Teardown(ctx))
		}
	}
	return errors.Join(errs...)
}

// lease must be called with mu held.
func (p *Pool) lease(e *entry) *Lease {
	e.refs++
	return &Lease{Environment: e.env, pool: p, e: e}
}

func (p *Pool) release(ctx context.Context, e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.refs--
	e.lastUsed = p.now()
	if e.retired && e.refs == 0 {
		p.teardown(ctx, e)
	}
}

// retire must be called with mu held.
func (p *Pool) retire(ctx context.Context, e *entry) {
	delete(p.entries, e.key)
	e.retired = true
	if e.refs == 0 {
		p.teardown(ctx, e)
	}
}

func (p *Pool) teardown(ctx context.Context, e *entry) {
	if err := e.env.Teardown(ctx); err != nil {
		p.logger.Warn("Isolation environment teardown failed", logfields.PoolKey(e.key), logfields.Error(err))
	}
}

func modTime(path string) time.Time {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}
