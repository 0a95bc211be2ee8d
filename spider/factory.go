// CLAUDE:SUMMARY Loader factory — config-hash keyed cache, singleflight construction, oldest-first eviction.
package spider

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iswhat/raytv/sitereg"
)

// FactoryConfig tunes the loader cache.
type FactoryConfig struct {
	// MaxLoaders is the cache ceiling. Exceeding it triggers eviction down
	// to ~80% of the ceiling. Default: 32.
	MaxLoaders int
	// Resolver fetches plugin program bytes. Default: NewResolver.
	Resolver SourceResolver
}

func (c *FactoryConfig) defaults() {
	if c.MaxLoaders <= 0 {
		c.MaxLoaders = 32
	}
	if c.Resolver == nil {
		c.Resolver = NewResolver(ResolverConfig{})
	}
}

// Constructor builds an uninitialized Loader for one runtime kind.
type Constructor func(siteKey, ext string, source []byte) Loader

type cacheEntry struct {
	loader Loader
	initAt time.Time
}

// Factory owns every live Loader, keyed by site key + configuration hash.
// A config change produces a new key and therefore a fresh instance; the
// stale variant ages out through eviction or DestroyLoaders.
type Factory struct {
	mu           sync.Mutex
	cache        map[string]*cacheEntry
	group        singleflight.Group
	constructors map[sitereg.RuntimeKind]Constructor
	config       FactoryConfig
	logger       *slog.Logger
	now          func() time.Time
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithFactoryLogger sets the logger.
func WithFactoryLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = l }
}

// WithFactoryClock sets a custom clock function (for testing).
func WithFactoryClock(fn func() time.Time) FactoryOption {
	return func(f *Factory) { f.now = fn }
}

// WithConstructor overrides the constructor for one runtime kind
// (for testing with fake loaders).
func WithConstructor(kind sitereg.RuntimeKind, c Constructor) FactoryOption {
	return func(f *Factory) { f.constructors[kind] = c }
}

// NewFactory creates a Factory with the three built-in runtimes registered.
func NewFactory(cfg FactoryConfig, opts ...FactoryOption) *Factory {
	cfg.defaults()
	f := &Factory{
		cache: make(map[string]*cacheEntry),
		constructors: map[sitereg.RuntimeKind]Constructor{
			sitereg.RuntimeBytecode:    newWasmLoader,
			sitereg.RuntimeScript:      newScriptLoader,
			sitereg.RuntimeInterpreter: newLuaLoader,
		},
		config: cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// CacheKey is the stable loader identity for a site configuration:
// the site key plus a hash over every field that changes plugin behaviour.
func CacheKey(site *sitereg.Site) string {
	h := fnv.New64a()
	h.Write([]byte(site.Runtime))
	h.Write([]byte{0})
	h.Write([]byte(site.API))
	h.Write([]byte{0})
	h.Write([]byte(site.Ext))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(site.Enabled)))
	return site.Key + "#" + strconv.FormatUint(h.Sum64(), 16)
}

// GetOrCreate returns the live loader for the site's current configuration,
// constructing and initializing one if needed. Concurrent calls for the
// same configuration share one construction. A loader whose Init fails is
// never cached.
func (f *Factory) GetOrCreate(ctx context.Context, site *sitereg.Site) (Loader, error) {
	key := CacheKey(site)

	f.mu.Lock()
	if e, ok := f.cache[key]; ok {
		if e.loader.State() == StateReady {
			f.mu.Unlock()
			return e.loader, nil
		}
		delete(f.cache, key) // destroyed or failed, rebuild
	}
	f.mu.Unlock()

	v, err, _ := f.group.Do(key, func() (any, error) {
		return f.build(ctx, key, site)
	})
	if err != nil {
		return nil, err
	}
	return v.(Loader), nil
}

func (f *Factory) build(ctx context.Context, key string, site *sitereg.Site) (Loader, error) {
	// Re-check: another goroutine may have built it between Do attempts.
	f.mu.Lock()
	if e, ok := f.cache[key]; ok && e.loader.State() == StateReady {
		f.mu.Unlock()
		return e.loader, nil
	}
	f.mu.Unlock()

	construct, ok := f.constructors[site.Runtime]
	if !ok {
		return nil, &ErrUnsupportedRuntime{Kind: string(site.Runtime)}
	}

	source, err := f.config.Resolver.Resolve(ctx, site)
	if err != nil {
		return nil, fmt.Errorf("spider: resolve %s: %w", site.Key, err)
	}

	loader := construct(site.Key, site.Ext, source)
	if err := loader.Init(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.cache[key] = &cacheEntry{loader: loader, initAt: f.now()}
	evicted := f.evictLocked()
	f.mu.Unlock()

	for _, l := range evicted {
		l.Destroy()
	}
	f.logger.Debug("spider: loader ready", "site", site.Key, "runtime", site.Runtime)
	return loader, nil
}

// evictLocked enforces the ceiling: destroyed entries go first, then the
// oldest-initialized entries until the cache is back at 80% of the ceiling.
// Victims are returned so Destroy runs outside the lock.
func (f *Factory) evictLocked() []Loader {
	if len(f.cache) <= f.config.MaxLoaders {
		return nil
	}

	var victims []Loader
	for k, e := range f.cache {
		if e.loader.State() == StateDestroyed {
			delete(f.cache, k)
		}
	}

	target := f.config.MaxLoaders * 8 / 10
	if len(f.cache) <= target {
		return victims
	}

	type aged struct {
		key    string
		initAt time.Time
	}
	entries := make([]aged, 0, len(f.cache))
	for k, e := range f.cache {
		entries = append(entries, aged{key: k, initAt: e.initAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].initAt.Before(entries[j].initAt) })

	for _, a := range entries {
		if len(f.cache) <= target {
			break
		}
		victims = append(victims, f.cache[a.key].loader)
		delete(f.cache, a.key)
	}
	if len(victims) > 0 {
		f.logger.Info("spider: evicted loaders", "count", len(victims), "cached", len(f.cache))
	}
	return victims
}

// DestroyLoaders tears down every cached variant of one site, covering all
// configuration hashes the site ever ran under.
func (f *Factory) DestroyLoaders(siteKey string) {
	prefix := siteKey + "#"
	var victims []Loader
	f.mu.Lock()
	for k, e := range f.cache {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			victims = append(victims, e.loader)
			delete(f.cache, k)
		}
	}
	f.mu.Unlock()
	for _, l := range victims {
		l.Destroy()
	}
}

// Close destroys every cached loader.
func (f *Factory) Close() {
	f.mu.Lock()
	victims := make([]Loader, 0, len(f.cache))
	for k, e := range f.cache {
		victims = append(victims, e.loader)
		delete(f.cache, k)
	}
	f.mu.Unlock()
	for _, l := range victims {
		l.Destroy()
	}
}

// Cached returns the number of live cache entries.
func (f *Factory) Cached() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cache)
}
