// CLAUDE:SUMMARY Content aggregator — concurrent source loads, (key,name) merge, scoring, cached catalog, read views.
// Package aggregate builds a merged site catalog from remote configuration
// sources. Sources are fetched concurrently and independently; the merged
// catalog is cached, snapshotted, and served through filtered, sorted,
// paginated, and searchable read views.
package aggregate

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iswhat/raytv/aggregate/internal/confparse"
	"github.com/iswhat/raytv/aggregate/internal/fetch"
	"github.com/iswhat/raytv/aggregate/internal/store"
	"github.com/iswhat/raytv/rescache"
	"github.com/iswhat/raytv/sitereg"
)

const catalogCacheKey = "aggregate|catalog"

// Service aggregates configuration sources into a catalog.
type Service struct {
	fetcher  *fetch.Fetcher
	parser   *confparse.Parser
	cache    rescache.Backend
	registry *sitereg.Registry // optional: reliability + site sync
	store    *store.Store      // optional: snapshot persistence
	config   Config
	logger   *slog.Logger
	now      func() time.Time
	sources  []string

	mu             sync.RWMutex
	catalog        *Catalog
	lastAggregated time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRegistry wires the site registry. Merged sites are registered after
// each aggregation and their health scores feed reliability.
func WithRegistry(r *sitereg.Registry) Option {
	return func(s *Service) { s.registry = r }
}

// WithSnapshotStore wires snapshot persistence.
func WithSnapshotStore(st *store.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithSnapshotDB wires snapshot persistence through the given database.
// Apply SnapshotSchema first.
func WithSnapshotDB(db *sql.DB) Option {
	return func(s *Service) { s.store = store.New(db) }
}

// SnapshotSchema is the DDL for snapshot persistence.
const SnapshotSchema = store.Schema

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// WithFetcher overrides the source fetcher (for testing).
func WithFetcher(f *fetch.Fetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithSources sets the default source URLs used when a caller passes none.
func WithSources(urls []string) Option {
	return func(s *Service) { s.sources = urls }
}

// New creates a Service.
func New(cache rescache.Backend, cfg Config, opts ...Option) *Service {
	cfg.defaults()
	s := &Service{
		fetcher: fetch.New(fetch.Config{Timeout: cfg.FetchTimeout}),
		parser:  confparse.New(),
		cache:   cache,
		config:  cfg,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Aggregate loads every source, merges, scores, and categorizes. Individual
// source failures are tolerated; if no source loads, the previous catalog is
// kept and ErrAllSourcesFailed is returned.
func (s *Service) Aggregate(ctx context.Context, sourceURLs []string) (*Catalog, error) {
	if len(sourceURLs) == 0 {
		sourceURLs = s.sources
	}
	type loaded struct {
		url string
		doc *confparse.Document
	}
	results := make([]*loaded, len(sourceURLs))

	g, gctx := errgroup.WithContext(ctx)
	for i, url := range sourceURLs {
		g.Go(func() error {
			doc, err := s.loadSource(gctx, url, 0)
			if err != nil {
				s.logger.Warn("aggregate: source failed", "url", url, "error", err)
				return nil // partial failure is fine
			}
			results[i] = &loaded{url: url, doc: doc}
			return nil
		})
	}
	g.Wait()

	merged := make(map[string]*Site)
	var order []string
	failed := 0
	nowTs := s.now()
	for _, r := range results {
		if r == nil {
			failed++
			continue
		}
		for i := range r.doc.Sites {
			s.mergeSite(merged, &order, &r.doc.Sites[i], r.url, nowTs)
		}
	}
	if failed == len(sourceURLs) {
		return nil, ErrAllSourcesFailed
	}

	sites := make([]*Site, 0, len(order))
	for _, k := range order {
		site := merged[k]
		site.QualityScore = qualityScore(site)
		site.ReliabilityScore = s.reliability(site.Key)
		sites = append(sites, site)
	}

	catalog := &Catalog{
		Sites:           sites,
		Categories:      categorize(sites),
		SourceCount:     len(sourceURLs),
		FailedSources:   failed,
		UniqueSiteCount: len(sites),
		GeneratedAt:     nowTs,
	}

	s.mu.Lock()
	s.catalog = catalog
	s.lastAggregated = nowTs
	s.mu.Unlock()

	s.syncRegistry(ctx, sites)
	s.persist(ctx, catalog)
	return catalog, nil
}

// AggregateIncremental returns the current catalog when the last aggregation
// is fresh enough, otherwise runs a full Aggregate. On a cold start it also
// tries the shared cache and the snapshot store before going to the network.
func (s *Service) AggregateIncremental(ctx context.Context, sourceURLs []string) (*Catalog, error) {
	s.mu.RLock()
	catalog, last := s.catalog, s.lastAggregated
	s.mu.RUnlock()

	if catalog != nil && s.now().Sub(last) < s.config.IncrementalWindow {
		return catalog, nil
	}
	if catalog == nil {
		if restored := s.restore(ctx); restored != nil {
			if s.now().Sub(restored.GeneratedAt) < s.config.IncrementalWindow {
				return restored, nil
			}
		}
	}
	return s.Aggregate(ctx, sourceURLs)
}

// Refresh forces a full aggregation regardless of freshness.
func (s *Service) Refresh(ctx context.Context, sourceURLs []string) (*Catalog, error) {
	return s.Aggregate(ctx, sourceURLs)
}

// loadSource fetches and parses one configuration document. A multi-config
// wrapper ({"urls":[...]}) is followed one level deep; its referenced
// documents merge into a single Document.
func (s *Service) loadSource(ctx context.Context, url string, depth int) (*confparse.Document, error) {
	res, err := s.fetcher.Fetch(ctx, url, "", "", "")
	if err != nil {
		return nil, err
	}
	doc, err := s.parser.Parse(res.Body)
	if err != nil {
		return nil, err
	}
	if len(doc.URLs) > 0 && depth == 0 {
		combined := &confparse.Document{Sites: doc.Sites, Categories: doc.Categories}
		for _, wrapped := range doc.URLs {
			inner, err := s.loadSource(ctx, wrapped, depth+1)
			if err != nil {
				s.logger.Warn("aggregate: wrapped source failed", "url", wrapped, "error", err)
				continue
			}
			combined.Sites = append(combined.Sites, inner.Sites...)
			combined.Categories = append(combined.Categories, inner.Categories...)
		}
		return combined, nil
	}
	return doc, nil
}

// mergeSite folds one candidate into the merged map keyed by (key,name).
func (s *Service) mergeSite(merged map[string]*Site, order *[]string, c *confparse.Candidate, sourceURL string, seen time.Time) {
	id := c.Key + "\x00" + c.Name
	if existing, ok := merged[id]; ok {
		for _, u := range existing.SourceURLs {
			if u == sourceURL {
				return
			}
		}
		existing.SourceURLs = append(existing.SourceURLs, sourceURL)
		existing.LastSeen = seen
		// Capability flags are additive across sources: one config knowing
		// how to search a site is enough.
		existing.Searchable = existing.Searchable || c.Searchable
		existing.QuickSearch = existing.QuickSearch || c.QuickSearch
		existing.Filterable = existing.Filterable || c.Filterable
		if existing.Desc == "" {
			existing.Desc = c.Desc
		}
		return
	}
	merged[id] = &Site{
		Key:         c.Key,
		Name:        c.Name,
		Runtime:     c.Runtime,
		API:         c.API,
		Ext:         c.Ext,
		Searchable:  c.Searchable,
		QuickSearch: c.QuickSearch,
		Filterable:  c.Filterable,
		Desc:        c.Desc,
		SourceURLs:  []string{sourceURL},
		LastSeen:    seen,
	}
	*order = append(*order, id)
}

func (s *Service) reliability(key string) float64 {
	if s.registry == nil {
		return 0.5
	}
	h, err := s.registry.HealthOf(key)
	if err != nil {
		return 0.5 // unknown site, neutral prior
	}
	return float64(h.Score) / 100
}

// syncRegistry registers merged sites so the crawl pipeline can call them.
// Already-registered keys keep their stored descriptor and health.
func (s *Service) syncRegistry(ctx context.Context, sites []*Site) {
	if s.registry == nil {
		return
	}
	for _, site := range sites {
		if _, err := s.registry.Get(site.Key); err == nil {
			continue
		}
		err := s.registry.Register(ctx, &sitereg.Site{
			Key:         site.Key,
			Name:        site.Name,
			Runtime:     sitereg.RuntimeKind(site.Runtime),
			API:         site.API,
			Ext:         site.Ext,
			Searchable:  site.Searchable,
			QuickSearch: site.QuickSearch,
			Filterable:  site.Filterable,
			Enabled:     true,
		})
		if err != nil {
			s.logger.Warn("aggregate: register site", "key", site.Key, "error", err)
		}
	}
}

func (s *Service) persist(ctx context.Context, catalog *Catalog) {
	payload, err := json.Marshal(catalog)
	if err != nil {
		s.logger.Warn("aggregate: encode catalog", "error", err)
		return
	}
	if err := s.cache.Set(ctx, catalogCacheKey, payload, s.config.CacheTTL); err != nil {
		s.logger.Warn("aggregate: cache catalog", "error", err)
	}
	if s.store != nil {
		if err := s.store.Save(ctx, catalog.GeneratedAt, payload, s.config.SnapshotsKept); err != nil {
			s.logger.Warn("aggregate: snapshot catalog", "error", err)
		}
	}
}

// restore recovers a catalog from the shared cache or the snapshot store.
func (s *Service) restore(ctx context.Context) *Catalog {
	if payload, ok, err := s.cache.Get(ctx, catalogCacheKey); err == nil && ok {
		if c := decodeCatalog(payload); c != nil {
			s.install(c)
			return c
		}
	}
	if s.store == nil {
		return nil
	}
	payload, _, ok, err := s.store.Latest(ctx)
	if err != nil || !ok {
		return nil
	}
	c := decodeCatalog(payload)
	if c != nil {
		s.install(c)
	}
	return c
}

func (s *Service) install(c *Catalog) {
	s.mu.Lock()
	if s.catalog == nil {
		s.catalog = c
		s.lastAggregated = c.GeneratedAt
	}
	s.mu.Unlock()
}

func decodeCatalog(payload []byte) *Catalog {
	var c Catalog
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil
	}
	return &c
}

// --- read views ---

// Sites returns the catalog's sites. Without includeInactive, sites at or
// below the quality floor are hidden.
func (s *Service) Sites(ctx context.Context, includeInactive bool, sortBy SortBy) ([]*Site, error) {
	catalog, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Site, 0, len(catalog.Sites))
	for _, site := range catalog.Sites {
		if !includeInactive && site.QualityScore <= s.config.QualityFloor {
			continue
		}
		out = append(out, site)
	}
	sortSites(out, sortBy)
	return out, nil
}

// SitesByCategory restricts Sites to one category type.
func (s *Service) SitesByCategory(ctx context.Context, categoryType string, includeInactive bool, sortBy SortBy) ([]*Site, error) {
	sites, err := s.Sites(ctx, includeInactive, sortBy)
	if err != nil {
		return nil, err
	}
	out := sites[:0:0]
	for _, site := range sites {
		if site.Runtime == categoryType {
			out = append(out, site)
		}
	}
	return out, nil
}

// SitesPage slices the filtered, sorted view. Pages are 1-based; an
// out-of-range page returns an empty slice with the true total.
func (s *Service) SitesPage(ctx context.Context, page, pageSize int, includeInactive bool, sortBy SortBy) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	sites, err := s.Sites(ctx, includeInactive, sortBy)
	if err != nil {
		return nil, err
	}
	total := len(sites)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return &Page{Sites: sites[start:end], Page: page, PageSize: pageSize, Total: total}, nil
}

// Categories returns the catalog's category buckets.
func (s *Service) Categories(ctx context.Context) ([]*Category, error) {
	catalog, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Categories, nil
}

// Search matches keyword case-insensitively against name, key, and ext,
// ranking by weighted field hits plus quality.
func (s *Service) Search(ctx context.Context, keyword string) ([]*SearchHit, error) {
	catalog, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(keyword))
	if needle == "" {
		return nil, nil
	}

	var hits []*SearchHit
	for _, site := range catalog.Sites {
		relevance := 0.0
		if strings.Contains(strings.ToLower(site.Name), needle) {
			relevance += searchWeightName
		}
		if strings.Contains(strings.ToLower(site.Key), needle) {
			relevance += searchWeightKey
		}
		if strings.Contains(strings.ToLower(site.Ext), needle) {
			relevance += searchWeightExt
		}
		if relevance == 0 {
			continue
		}
		relevance += site.QualityScore * searchWeightQuality
		hits = append(hits, &SearchHit{Site: site, Relevance: relevance})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Relevance > hits[j].Relevance })
	return hits, nil
}

// Stats summarizes the current catalog.
func (s *Service) Stats(ctx context.Context) (map[string]any, error) {
	catalog, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"uniqueSites":   catalog.UniqueSiteCount,
		"categories":    len(catalog.Categories),
		"sourceCount":   catalog.SourceCount,
		"failedSources": catalog.FailedSources,
		"generatedAt":   catalog.GeneratedAt,
	}, nil
}

func (s *Service) current(ctx context.Context) (*Catalog, error) {
	s.mu.RLock()
	catalog := s.catalog
	s.mu.RUnlock()
	if catalog != nil {
		return catalog, nil
	}
	if restored := s.restore(ctx); restored != nil {
		return restored, nil
	}
	return nil, ErrNoCatalog
}

func sortSites(sites []*Site, sortBy SortBy) {
	switch sortBy {
	case SortReliability:
		sort.SliceStable(sites, func(i, j int) bool { return sites[i].ReliabilityScore > sites[j].ReliabilityScore })
	case SortRecent:
		sort.SliceStable(sites, func(i, j int) bool { return sites[i].LastSeen.After(sites[j].LastSeen) })
	case SortName:
		sort.SliceStable(sites, func(i, j int) bool { return sites[i].Name < sites[j].Name })
	default: // SortQuality
		sort.SliceStable(sites, func(i, j int) bool { return sites[i].QualityScore > sites[j].QualityScore })
	}
}

// categorize buckets sites by runtime kind with a capability histogram,
// ordered by descending site count.
func categorize(sites []*Site) []*Category {
	byType := make(map[string]*Category)
	for _, site := range sites {
		c, ok := byType[site.Runtime]
		if !ok {
			c = &Category{Type: site.Runtime, Histogram: make(map[string]int)}
			byType[site.Runtime] = c
		}
		c.SiteCount++
		c.Histogram[capabilityProfile(site)]++
	}
	out := make([]*Category, 0, len(byType))
	for _, c := range byType {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SiteCount != out[j].SiteCount {
			return out[i].SiteCount > out[j].SiteCount
		}
		return out[i].Type < out[j].Type
	})
	return out
}

func capabilityProfile(site *Site) string {
	switch {
	case site.Searchable && site.Filterable:
		return "full"
	case site.Searchable:
		return "searchable"
	case site.Filterable:
		return "filterable"
	}
	return "basic"
}
