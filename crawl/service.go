// CLAUDE:SUMMARY Crawl service — gated, cached, single-flighted plugin calls with retry and health write-back.
// Package crawl executes plugin methods against registered sites. Every call
// runs the same pipeline: usability gate, connectivity gate, cache read,
// single-flight execution with retries, then health and cache write-back.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/iswhat/raytv/rescache"
	"github.com/iswhat/raytv/sitereg"
	"github.com/iswhat/raytv/spider"
)

// Observer receives one event per completed call. Implementations must be
// fast; they run on the request path.
type Observer interface {
	ObserveCall(siteKey, method string, kind ErrorKind, fromCache bool, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string, string, ErrorKind, bool, time.Duration) {}

// Service runs the call pipeline.
type Service struct {
	registry *sitereg.Registry
	factory  *spider.Factory
	cache    rescache.Backend
	probe    Probe
	config   Config
	logger   *slog.Logger
	observer Observer
	group    singleflight.Group

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// sleep is swapped in tests so retries don't wall-clock wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithProbe sets the connectivity probe.
func WithProbe(p Probe) Option {
	return func(s *Service) { s.probe = p }
}

// WithObserver sets the call observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// New creates a Service.
func New(registry *sitereg.Registry, factory *spider.Factory, cache rescache.Backend, cfg Config, opts ...Option) *Service {
	cfg.defaults()
	s := &Service{
		registry: registry,
		factory:  factory,
		cache:    cache,
		probe:    AlwaysOnline{},
		config:   cfg,
		logger:   slog.Default(),
		observer: nopObserver{},
		limiters: make(map[string]*rate.Limiter),
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Call runs one plugin invocation through the full pipeline. It never
// returns a Go error for site or plugin failures; the outcome is always a
// Response with Success or an ErrorKind. Only a nil/malformed request is a
// programming error.
func (s *Service) Call(ctx context.Context, req *Request) *Response {
	start := time.Now()
	resp := s.call(ctx, req, start)
	s.observer.ObserveCall(req.SiteKey, req.Method, resp.ErrorKind, resp.FromCache, time.Since(start))
	return resp
}

func (s *Service) call(ctx context.Context, req *Request, start time.Time) *Response {
	opts := s.resolveOptions(req.Options)

	// Usability gate: unknown, disabled, and circuit-broken sites fail fast
	// without touching the network or the loader cache.
	if err := s.registry.Usable(req.SiteKey); err != nil {
		return failure(req.SiteKey, usabilityKind(err), err.Error(), time.Since(start))
	}
	site, err := s.registry.Get(req.SiteKey)
	if err != nil {
		return failure(req.SiteKey, ErrKindSiteNotFound, err.Error(), time.Since(start))
	}

	key := rescache.RequestKey(req.SiteKey, req.Method, req.Params)

	// Offline: serve stale-or-nothing, never execute.
	if !s.probe.Online(ctx) {
		if !opts.NoCache {
			if data, ok := s.cacheGet(ctx, key); ok {
				return s.cached(req.SiteKey, data, start)
			}
		}
		return failure(req.SiteKey, ErrKindNoConnectivity, "no network connectivity", time.Since(start))
	}

	if !opts.NoCache {
		if data, ok := s.cacheGet(ctx, key); ok {
			return s.cached(req.SiteKey, data, start)
		}
	}

	if !s.limiter(req.SiteKey).Allow() {
		return failure(req.SiteKey, ErrKindRateLimited, "per-site rate limit exceeded", time.Since(start))
	}

	// Single flight: concurrent identical misses share one execution, and
	// health/cache write-back runs exactly once inside the flight.
	v, err, _ := s.group.Do(key, func() (any, error) {
		execStart := time.Now()
		data, execErr := s.execute(ctx, site, req, opts)
		if execErr != nil {
			s.recordFailure(req.SiteKey, execErr)
			return nil, execErr
		}
		if recErr := s.registry.RecordSuccess(ctx, req.SiteKey, time.Since(execStart)); recErr != nil {
			s.logger.Warn("crawl: record success", "site", req.SiteKey, "error", recErr)
		}
		if !opts.NoCache {
			if cErr := s.cache.Set(ctx, key, []byte(data), opts.CacheTTL); cErr != nil {
				s.logger.Warn("crawl: cache write", "site", req.SiteKey, "error", cErr)
			}
		}
		return data, nil
	})
	elapsed := time.Since(start)
	if err != nil {
		return failure(req.SiteKey, classify(err), err.Error(), elapsed)
	}
	data := v.(string)

	return &Response{
		Success:         true,
		Data:            data,
		SiteKey:         req.SiteKey,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
}

// execute runs up to RetryCount+1 attempts with exponential backoff.
func (s *Service) execute(ctx context.Context, site *sitereg.Site, req *Request, opts Options) (string, error) {
	var lastErr error
	attempts := opts.RetryCount + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			backoff := s.config.BaseBackoff * (1 << (attempt - 2))
			backoff += time.Duration(rand.Int63n(int64(s.config.MaxJitter)))
			if err := s.sleep(ctx, backoff); err != nil {
				return "", err
			}
			s.logger.Debug("crawl: retrying", "site", site.Key, "method", req.Method, "attempt", attempt)
		}

		data, err := s.attempt(ctx, site, req, opts.Timeout)
		if err == nil {
			if strings.TrimSpace(data) != "" {
				return data, nil
			}
			// A blank result burns the attempt like any other failure; the
			// site may return data on retry.
			err = errEmptyResult
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", lastErr
		}
	}
	return "", lastErr
}

func (s *Service) attempt(ctx context.Context, site *sitereg.Site, req *Request, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	loader, err := s.factory.GetOrCreate(attemptCtx, site)
	if err != nil {
		return "", err
	}
	return loader.Call(attemptCtx, req.Method, req.Params)
}

// Batch runs requests with bounded concurrency. Responses line up with the
// input slice by index. A cancelled context stops scheduling new work;
// already-running calls finish.
func (s *Service) Batch(ctx context.Context, reqs []*Request, concurrency int) []*Response {
	if concurrency <= 0 {
		concurrency = 4
	}
	out := make([]*Response, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			if gctx.Err() != nil {
				out[i] = failure(req.SiteKey, ErrKindTimeout, gctx.Err().Error(), 0)
				return nil
			}
			out[i] = s.Call(gctx, req)
			return nil
		})
	}
	g.Wait()
	return out
}

func (s *Service) resolveOptions(o *Options) Options {
	r := Options{
		Timeout:    s.config.Timeout,
		RetryCount: s.config.RetryCount,
		CacheTTL:   s.config.CacheTTL,
	}
	if o == nil {
		return r
	}
	if o.Timeout > 0 {
		r.Timeout = o.Timeout
	}
	if o.RetryCount > 0 {
		r.RetryCount = o.RetryCount
	} else if o.RetryCount < 0 {
		r.RetryCount = 0
	}
	if o.CacheTTL > 0 {
		r.CacheTTL = o.CacheTTL
	}
	r.NoCache = o.NoCache
	return r
}

func (s *Service) cacheGet(ctx context.Context, key string) (string, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("crawl: cache read", "key", key, "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	return string(data), true
}

func (s *Service) cached(siteKey, data string, start time.Time) *Response {
	return &Response{
		Success:         true,
		Data:            data,
		FromCache:       true,
		SiteKey:         siteKey,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}

func (s *Service) recordFailure(siteKey string, err error) {
	// Empty results count against health too: a site that keeps returning
	// nothing is as unusable as one that errors.
	if recErr := s.registry.RecordFailure(context.Background(), siteKey, err.Error()); recErr != nil {
		s.logger.Warn("crawl: record failure", "site", siteKey, "error", recErr)
	}
}

func (s *Service) limiter(siteKey string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[siteKey]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.config.RatePerSite), s.config.RateBurst)
		s.limiters[siteKey] = l
	}
	return l
}

var errEmptyResult = errors.New("crawl: plugin returned an empty result")

func usabilityKind(err error) ErrorKind {
	var notFound *sitereg.ErrSiteNotFound
	var disabled *sitereg.ErrSiteDisabled
	var inError *sitereg.ErrSiteInError
	switch {
	case errors.As(err, &notFound):
		return ErrKindSiteNotFound
	case errors.As(err, &disabled):
		return ErrKindSiteDisabled
	case errors.As(err, &inError):
		return ErrKindSiteInError
	}
	return ErrKindRuntime
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, errEmptyResult):
		return ErrKindEmptyResult
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrKindTimeout
	}
	return ErrKindRuntime
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("crawl: backoff interrupted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
