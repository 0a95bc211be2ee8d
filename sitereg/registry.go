// CLAUDE:SUMMARY Registry orchestrator — site CRUD, health accounting, circuit break, usability gate.
package sitereg

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/iswhat/raytv/sitereg/internal/store"
)

// Registry tracks sites and their health. Safe for concurrent use: the maps
// are mutex-guarded because callers run on arbitrary goroutines.
type Registry struct {
	mu     sync.RWMutex
	sites  map[string]*Site
	health map[string]*Health

	store  *store.Store // nil = memory only
	logger *slog.Logger
	config Config
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore attaches a persistent store. Descriptor mutations write through;
// health updates are persisted best-effort.
func WithStore(s *store.Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithDB wires persistence through the given database. Apply Schema first.
func WithDB(db *sql.DB) Option {
	return func(r *Registry) { r.store = store.New(db) }
}

// Schema is the DDL for the site store, exported so callers can apply it
// through their own schema management.
const Schema = store.Schema

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) { r.now = fn }
}

// New creates a Registry.
func New(cfg Config, opts ...Option) *Registry {
	cfg.defaults()
	r := &Registry{
		sites:  make(map[string]*Site),
		health: make(map[string]*Health),
		logger: slog.Default(),
		config: cfg,
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load populates the in-memory maps from the persistent store.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	rows, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		site, health := fromRow(row)
		r.sites[site.Key] = site
		r.health[site.Key] = health
	}
	return nil
}

// Register validates and inserts a site. An existing site with the same key
// is replaced descriptor-wise; its health record is preserved.
func (r *Registry) Register(ctx context.Context, s *Site) error {
	if err := Validate(s); err != nil {
		return err
	}
	cp := s.Clone()

	r.mu.Lock()
	r.sites[cp.Key] = cp
	h, existed := r.health[cp.Key]
	if !existed {
		h = &Health{Status: StatusNormal, Score: r.config.InitialScore}
		r.health[cp.Key] = h
	}
	if !cp.Enabled {
		h.Status = StatusDisabled
	} else if h.Status == StatusDisabled {
		h.Status = StatusNormal
	}
	row := toRow(cp, h)
	r.mu.Unlock()

	return r.persist(ctx, row)
}

// Update is Register for descriptors already present; it fails on unknown keys.
func (r *Registry) Update(ctx context.Context, s *Site) error {
	r.mu.RLock()
	_, ok := r.sites[s.Key]
	r.mu.RUnlock()
	if !ok {
		return &ErrSiteNotFound{Key: s.Key}
	}
	return r.Register(ctx, s)
}

// Delete removes a site and its health record.
func (r *Registry) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	_, ok := r.sites[key]
	delete(r.sites, key)
	delete(r.health, key)
	r.mu.Unlock()
	if !ok {
		return &ErrSiteNotFound{Key: key}
	}
	if r.store != nil {
		return r.store.Delete(ctx, key)
	}
	return nil
}

// Reset drops the whole catalog.
func (r *Registry) Reset(ctx context.Context) error {
	r.mu.Lock()
	r.sites = make(map[string]*Site)
	r.health = make(map[string]*Health)
	r.mu.Unlock()
	if r.store != nil {
		return r.store.DeleteAll(ctx)
	}
	return nil
}

// Get returns a copy of the descriptor, or ErrSiteNotFound.
func (r *Registry) Get(key string) (*Site, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sites[key]
	if !ok {
		return nil, &ErrSiteNotFound{Key: key}
	}
	return s.Clone(), nil
}

// Filter selects sites from a List call.
type Filter func(*Site) bool

// List returns copies of all sites matching every given filter,
// ordered by Order then Key.
func (r *Registry) List(filters ...Filter) []*Site {
	r.mu.RLock()
	out := make([]*Site, 0, len(r.sites))
outer:
	for _, s := range r.sites {
		for _, f := range filters {
			if !f(s) {
				continue outer
			}
		}
		out = append(out, s.Clone())
	}
	r.mu.RUnlock()

	sortSites(out)
	return out
}

// Enabled filters for enabled sites.
func Enabled() Filter { return func(s *Site) bool { return s.Enabled } }

// Searchable filters for sites that support search.
func Searchable() Filter { return func(s *Site) bool { return s.Searchable } }

// QuickSearchable filters for sites that support quick search.
func QuickSearchable() Filter { return func(s *Site) bool { return s.QuickSearch } }

// ByRuntime filters by runtime kind.
func ByRuntime(k RuntimeKind) Filter { return func(s *Site) bool { return s.Runtime == k } }

// SetEnabled flips a site's enabled flag. Enabling a circuit-broken site
// clears its error state and consecutive-failure count — this is the manual
// recovery path.
func (r *Registry) SetEnabled(ctx context.Context, key string, enabled bool) error {
	r.mu.Lock()
	s, ok := r.sites[key]
	if !ok {
		r.mu.Unlock()
		return &ErrSiteNotFound{Key: key}
	}
	s.Enabled = enabled
	h := r.health[key]
	if enabled {
		h.Status = StatusNormal
		h.ConsecutiveFailures = 0
		h.LastError = ""
	} else {
		h.Status = StatusDisabled
	}
	row := toRow(s, h)
	r.mu.Unlock()

	return r.persist(ctx, row)
}

// UpdateStatus applies a status transition and its side effects: error
// increments failure counters and decays the score, normal records a
// success and recovers it.
func (r *Registry) UpdateStatus(ctx context.Context, key string, status Status, errMsg string) error {
	switch status {
	case StatusError:
		return r.RecordFailure(ctx, key, errMsg)
	case StatusNormal:
		return r.RecordSuccess(ctx, key, 0)
	}

	r.mu.Lock()
	h, ok := r.health[key]
	if !ok {
		r.mu.Unlock()
		return &ErrSiteNotFound{Key: key}
	}
	h.Status = status
	r.mu.Unlock()
	r.persistHealth(ctx, key)
	return nil
}

// RecordSuccess notes a successful call: resets the consecutive-failure
// count, bumps the score, and folds latency into the rolling average.
func (r *Registry) RecordSuccess(ctx context.Context, key string, latency time.Duration) error {
	r.mu.Lock()
	s, ok := r.sites[key]
	if !ok {
		r.mu.Unlock()
		return &ErrSiteNotFound{Key: key}
	}
	h := r.health[key]
	h.SuccessCount++
	h.ConsecutiveFailures = 0
	h.LastSuccessAt = r.now()
	h.LastError = ""
	h.Score = min(100, h.Score+r.config.ScoreStep)
	if latency > 0 {
		ms := latency.Milliseconds()
		// Rolling average over the success count.
		h.AvgLatencyMs += (ms - h.AvgLatencyMs) / h.SuccessCount
	}
	if s.Enabled && h.Status != StatusDisabled {
		h.Status = StatusNormal
	}
	r.mu.Unlock()

	r.persistHealth(ctx, key)
	return nil
}

// RecordFailure notes a failed call. Crossing the consecutive-failure
// threshold trips the circuit: the site goes to the error state and stays
// there until manually re-enabled.
func (r *Registry) RecordFailure(ctx context.Context, key string, errMsg string) error {
	r.mu.Lock()
	_, ok := r.sites[key]
	if !ok {
		r.mu.Unlock()
		return &ErrSiteNotFound{Key: key}
	}
	h := r.health[key]
	h.FailureCount++
	h.ConsecutiveFailures++
	h.LastFailureAt = r.now()
	h.LastError = errMsg
	h.Score = max(0, h.Score-r.config.ScoreStep)
	consec := h.ConsecutiveFailures
	tripped := consec >= r.config.BreakThreshold
	if tripped && h.Status != StatusDisabled {
		h.Status = StatusError
	}
	r.mu.Unlock()

	if tripped {
		r.logger.Warn("sitereg: circuit break",
			"site", key, "consecutive_failures", consec, "last_error", errMsg)
	}
	r.persistHealth(ctx, key)
	return nil
}

// HealthOf returns a copy of the health record.
func (r *Registry) HealthOf(key string) (*Health, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[key]
	if !ok {
		return nil, &ErrSiteNotFound{Key: key}
	}
	return h.clone(), nil
}

// Usable returns nil when the site may be called, or the typed error
// explaining why not. This is the fail-fast gate crawl consults before
// touching the loader factory.
func (r *Registry) Usable(key string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sites[key]
	if !ok {
		return &ErrSiteNotFound{Key: key}
	}
	h := r.health[key]
	if !s.Enabled || h.Status == StatusDisabled {
		return &ErrSiteDisabled{Key: key}
	}
	if h.Status == StatusError {
		return &ErrSiteInError{Key: key, LastErr: h.LastError}
	}
	return nil
}

func (r *Registry) persist(ctx context.Context, row *store.Row) error {
	if r.store == nil {
		return nil
	}
	return r.store.Upsert(ctx, row)
}

func (r *Registry) persistHealth(ctx context.Context, key string) {
	if r.store == nil {
		return
	}
	r.mu.RLock()
	s, ok := r.sites[key]
	var row *store.Row
	if ok {
		row = toRow(s, r.health[key])
	}
	r.mu.RUnlock()
	if row == nil {
		return
	}
	// Best-effort: a failing registry DB must not fail the call path.
	if err := r.store.WriteHealth(ctx, key, row); err != nil {
		r.logger.Warn("sitereg: health persist failed", "site", key, "error", err)
	}
}

func sortSites(sites []*Site) {
	sort.Slice(sites, func(i, j int) bool {
		a, b := sites[i], sites[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Key < b.Key
	})
}

func toRow(s *Site, h *Health) *store.Row {
	headers := "{}"
	if len(s.Headers) > 0 {
		if b, err := json.Marshal(s.Headers); err == nil {
			headers = string(b)
		}
	}
	return &store.Row{
		Key:         s.Key,
		Name:        s.Name,
		Runtime:     string(s.Runtime),
		API:         s.API,
		Ext:         s.Ext,
		Searchable:  s.Searchable,
		QuickSearch: s.QuickSearch,
		Filterable:  s.Filterable,
		HeadersJSON: headers,
		Cookie:      s.Cookie,
		Enabled:     s.Enabled,
		SortOrder:   s.Order,

		Status:         string(h.Status),
		SuccessCount:   h.SuccessCount,
		FailureCount:   h.FailureCount,
		ConsecFailures: h.ConsecutiveFailures,
		LastSuccessAt:  unixMilli(h.LastSuccessAt),
		LastFailureAt:  unixMilli(h.LastFailureAt),
		LastError:      h.LastError,
		Score:          h.Score,
		AvgLatencyMs:   h.AvgLatencyMs,
	}
}

func fromRow(r *store.Row) (*Site, *Health) {
	s := &Site{
		Key:         r.Key,
		Name:        r.Name,
		Runtime:     RuntimeKind(r.Runtime),
		API:         r.API,
		Ext:         r.Ext,
		Searchable:  r.Searchable,
		QuickSearch: r.QuickSearch,
		Filterable:  r.Filterable,
		Cookie:      r.Cookie,
		Enabled:     r.Enabled,
		Order:       r.SortOrder,
	}
	if r.HeadersJSON != "" && r.HeadersJSON != "{}" {
		var headers map[string]string
		if json.Unmarshal([]byte(r.HeadersJSON), &headers) == nil {
			s.Headers = headers
		}
	}
	h := &Health{
		Status:              Status(r.Status),
		SuccessCount:        r.SuccessCount,
		FailureCount:        r.FailureCount,
		ConsecutiveFailures: r.ConsecFailures,
		LastError:           r.LastError,
		Score:               r.Score,
		AvgLatencyMs:        r.AvgLatencyMs,
	}
	if r.LastSuccessAt > 0 {
		h.LastSuccessAt = time.UnixMilli(r.LastSuccessAt)
	}
	if r.LastFailureAt > 0 {
		h.LastFailureAt = time.UnixMilli(r.LastFailureAt)
	}
	return s, h
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
