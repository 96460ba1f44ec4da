package project

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"git.home.luguber.info/inful/srcgenhost/internal/buildenv"
	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
	"git.home.luguber.info/inful/srcgenhost/internal/metrics"
)

// DefaultCacheSize bounds the number of cached project evaluations.
const DefaultCacheSize = 32

// CacheKey identifies a cached evaluation.
type CacheKey struct {
	ProjectFile   string
	Configuration string
}

// KeyFor returns the cache key for env.
func KeyFor(env buildenv.Environment) CacheKey {
	path, err := filepath.Abs(env.ProjectFile)
	if err != nil {
		path = env.ProjectFile
	}
	return CacheKey{ProjectFile: path, Configuration: env.EffectiveConfiguration()}
}

// LoadFunc evaluates a project.
type LoadFunc func(ctx context.Context, env buildenv.Environment, extra map[string]string) (*Project, error)

// Cache reuses evaluated projects while none of their tracked inputs change.
// An entry is dropped as a whole on the first mismatch.
type Cache struct {
	entries  *lru.Cache[CacheKey, *Project]
	load     LoadFunc
	recorder metrics.Recorder
	logger   *slog.Logger
	onLoad   func(*Project)
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithRecorder reports hits and misses.
func WithRecorder(r metrics.Recorder) CacheOption {
	return func(c *Cache) { c.recorder = metrics.OrNoop(r) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// WithLoader replaces Load.
func WithLoader(fn LoadFunc) CacheOption {
	return func(c *Cache) { c.load = fn }
}

// WithLoadHook is called after every fresh evaluation, e.g. to watch its inputs.
func WithLoadHook(fn func(*Project)) CacheOption {
	return func(c *Cache) { c.onLoad = fn }
}

// NewCache returns a cache holding at most size evaluations.
func NewCache(size int, opts ...CacheOption) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, _ := lru.New[CacheKey, *Project](size)
	c := &Cache{
		entries:  entries,
		load:     Load,
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns a cached evaluation when it is still current, or loads and
// caches a fresh one. The returned flag reports a cache hit.
func (c *Cache) Get(ctx context.Context, env buildenv.Environment, extra map[string]string) (*Project, bool, error) {
	key := KeyFor(env)
	if p, ok := c.entries.Get(key); ok {
		if !p.HasChanged() {
			c.recorder.IncProjectCache(true)
			c.logger.Debug("Reusing cached project", logfields.Project(key.ProjectFile), logfields.Configuration(key.Configuration))
			return p, true, nil
		}
		c.entries.Remove(key)
		c.logger.Debug("Cached project is stale", logfields.Project(key.ProjectFile))
	}
	c.recorder.IncProjectCache(false)
	p, err := c.load(ctx, env, extra)
	if err != nil {
		return nil, false, err
	}
	c.entries.Add(key, p)
	if c.onLoad != nil {
		c.onLoad(p)
	}
	return p, false, nil
}

// Invalidate drops the entry for key.
func (c *Cache) Invalidate(key CacheKey) bool {
	return c.entries.Remove(key)
}

// InvalidatePath drops every entry that tracks path. It returns the number
// of entries dropped.
func (c *Cache) InvalidatePath(path string) int {
	n := 0
	for _, key := range c.entries.Keys() {
		p, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		if p.tracks(path) {
			c.entries.Remove(key)
			n++
		}
	}
	return n
}

// Sweep drops every stale entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	n := 0
	for _, key := range c.entries.Keys() {
		if p, ok := c.entries.Peek(key); ok && p.HasChanged() {
			c.entries.Remove(key)
			n++
		}
	}
	return n
}

// Len returns the number of cached entries.
func (c *Cache) Len() int { return c.entries.Len() }

// Purge drops every entry.
func (c *Cache) Purge() { c.entries.Purge() }

func (p *Project) tracks(path string) bool {
	if _, ok := p.stamps[path]; ok {
		return true
	}
	for tracked := range p.stamps {
		if strings.EqualFold(tracked, path) {
			return true
		}
	}
	return false
}
