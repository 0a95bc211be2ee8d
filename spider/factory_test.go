package spider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iswhat/raytv/sitereg"
)

// fakeLoader counts lifecycle transitions without running any runtime.
type fakeLoader struct {
	state
	siteKey   string
	initErr   error
	destroyed atomic.Bool
}

func (f *fakeLoader) Init(ctx context.Context) error {
	if f.initErr != nil {
		f.set(StateUninitialized)
		return f.initErr
	}
	f.set(StateReady)
	return nil
}

func (f *fakeLoader) Call(ctx context.Context, method string, params map[string]string) (string, error) {
	return "ok:" + f.siteKey, nil
}

func (f *fakeLoader) Destroy() {
	f.destroyed.Store(true)
	f.set(StateDestroyed)
}

func (f *fakeLoader) State() State { return f.get() }

func fakeSite(key string) *sitereg.Site {
	return &sitereg.Site{
		Key:     key,
		Name:    key,
		Runtime: sitereg.RuntimeScript,
		API:     "function noop() {}",
		Enabled: true,
	}
}

func newFakeFactory(t *testing.T, cfg FactoryConfig, opts ...FactoryOption) (*Factory, *atomic.Int64) {
	t.Helper()
	var builds atomic.Int64
	opts = append(opts, WithConstructor(sitereg.RuntimeScript, func(siteKey, ext string, source []byte) Loader {
		builds.Add(1)
		return &fakeLoader{siteKey: siteKey}
	}))
	f := NewFactory(cfg, opts...)
	t.Cleanup(f.Close)
	return f, &builds
}

// WHAT: a second GetOrCreate for the same configuration returns the cached loader.
// WHY: construction is expensive; identity is the site key plus config hash.
func TestFactory_CacheHit(t *testing.T) {
	f, builds := newFakeFactory(t, FactoryConfig{})
	ctx := context.Background()
	site := fakeSite("demo")

	a, err := f.GetOrCreate(ctx, site)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b, err := f.GetOrCreate(ctx, site)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if a != b {
		t.Fatal("expected the cached loader on the second call")
	}
	if got := builds.Load(); got != 1 {
		t.Fatalf("constructor ran %d times, want 1", got)
	}
}

// WHAT: changing a behaviour-affecting field yields a different loader instance.
func TestFactory_ConfigChangeNewLoader(t *testing.T) {
	f, builds := newFakeFactory(t, FactoryConfig{})
	ctx := context.Background()

	site := fakeSite("demo")
	a, err := f.GetOrCreate(ctx, site)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	changed := site.Clone()
	changed.Ext = "region=eu"
	b, err := f.GetOrCreate(ctx, changed)
	if err != nil {
		t.Fatalf("GetOrCreate changed: %v", err)
	}
	if a == b {
		t.Fatal("config change must produce a fresh loader")
	}
	if got := builds.Load(); got != 2 {
		t.Fatalf("constructor ran %d times, want 2", got)
	}
}

// WHAT: a loader whose Init fails is not cached; the next call retries.
func TestFactory_InitFailureNotCached(t *testing.T) {
	var builds atomic.Int64
	fail := errors.New("boom")
	f := NewFactory(FactoryConfig{}, WithConstructor(sitereg.RuntimeScript, func(siteKey, ext string, source []byte) Loader {
		n := builds.Add(1)
		l := &fakeLoader{siteKey: siteKey}
		if n == 1 {
			l.initErr = fail
		}
		return l
	}))
	t.Cleanup(f.Close)
	ctx := context.Background()
	site := fakeSite("flaky")

	if _, err := f.GetOrCreate(ctx, site); !errors.Is(err, fail) {
		t.Fatalf("first call err = %v, want %v", err, fail)
	}
	if f.Cached() != 0 {
		t.Fatal("failed loader must not be cached")
	}
	l, err := f.GetOrCreate(ctx, site)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if l.State() != StateReady {
		t.Fatalf("retry state = %v, want ready", l.State())
	}
}

// WHAT: concurrent GetOrCreate calls for one configuration run one construction.
func TestFactory_SingleFlight(t *testing.T) {
	var builds atomic.Int64
	f := NewFactory(FactoryConfig{}, WithConstructor(sitereg.RuntimeScript, func(siteKey, ext string, source []byte) Loader {
		builds.Add(1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		return &fakeLoader{siteKey: siteKey}
	}))
	t.Cleanup(f.Close)
	site := fakeSite("shared")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.GetOrCreate(context.Background(), site); err != nil {
				t.Errorf("GetOrCreate: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := builds.Load(); got != 1 {
		t.Fatalf("constructor ran %d times, want 1", got)
	}
}

// WHAT: exceeding the ceiling evicts oldest loaders down to 80% and destroys them.
func TestFactory_EvictionOldestFirst(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	f, _ := newFakeFactory(t, FactoryConfig{MaxLoaders: 10}, WithFactoryClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	ctx := context.Background()

	loaders := make([]Loader, 0, 11)
	for i := 0; i < 11; i++ {
		l, err := f.GetOrCreate(ctx, fakeSite(fmt.Sprintf("site%02d", i)))
		if err != nil {
			t.Fatalf("GetOrCreate %d: %v", i, err)
		}
		loaders = append(loaders, l)
	}

	if got := f.Cached(); got != 8 {
		t.Fatalf("cached = %d, want 8 (80%% of 10)", got)
	}
	// The three oldest were evicted and destroyed.
	for i := 0; i < 3; i++ {
		if loaders[i].State() != StateDestroyed {
			t.Errorf("loader %d state = %v, want destroyed", i, loaders[i].State())
		}
	}
	if loaders[10].State() != StateReady {
		t.Fatal("newest loader must survive eviction")
	}
}

// WHAT: DestroyLoaders removes every cached variant of one site key only.
func TestFactory_DestroyLoadersPrefix(t *testing.T) {
	f, _ := newFakeFactory(t, FactoryConfig{})
	ctx := context.Background()

	a := fakeSite("alpha")
	b := a.Clone()
	b.Ext = "v2"
	other := fakeSite("beta")

	la, _ := f.GetOrCreate(ctx, a)
	lb, _ := f.GetOrCreate(ctx, b)
	lo, _ := f.GetOrCreate(ctx, other)

	f.DestroyLoaders("alpha")

	if la.State() != StateDestroyed || lb.State() != StateDestroyed {
		t.Fatal("both alpha variants must be destroyed")
	}
	if lo.State() != StateReady {
		t.Fatal("beta must be untouched")
	}
	if got := f.Cached(); got != 1 {
		t.Fatalf("cached = %d, want 1", got)
	}
}

// WHAT: an unregistered runtime kind is rejected with a typed error.
func TestFactory_UnsupportedRuntime(t *testing.T) {
	f := NewFactory(FactoryConfig{})
	t.Cleanup(f.Close)
	site := fakeSite("odd")
	site.Runtime = sitereg.RuntimeKind("native")

	var unsupported *ErrUnsupportedRuntime
	_, err := f.GetOrCreate(context.Background(), site)
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want ErrUnsupportedRuntime", err)
	}
}
