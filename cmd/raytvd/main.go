// CLAUDE:SUMMARY Entry point for the raytv daemon — chi HTTP API, optional stdio MCP, watch-driven catalog refresh.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/iswhat/raytv/aggregate"
	"github.com/iswhat/raytv/crawl"
	"github.com/iswhat/raytv/dbopen"
	"github.com/iswhat/raytv/observability"
	"github.com/iswhat/raytv/rescache"
	"github.com/iswhat/raytv/sitereg"
	"github.com/iswhat/raytv/spider"
	"github.com/iswhat/raytv/watch"
)

func main() {
	configPath := flag.String("config", os.Getenv("RAYTV_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Application DB: site registry + catalog snapshots.
	appDB, err := dbopen.Open(filepath.Join(cfg.DataDir, "raytv.db"),
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(sitereg.Schema),
		dbopen.WithSchema(aggregate.SnapshotSchema))
	if err != nil {
		slog.Error("app db", "error", err)
		os.Exit(1)
	}
	defer appDB.Close()

	// Observability DB, separate file to keep write contention away from
	// the request path.
	obsDB, err := dbopen.Open(filepath.Join(cfg.DataDir, "observability.db"), dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		slog.Error("observability init", "error", err)
		os.Exit(1)
	}

	metrics := observability.NewMetricsManager(obsDB, 100, 5*time.Second)
	defer metrics.Close()
	events := observability.NewEventLogger(obsDB)
	heartbeat := observability.NewHeartbeatWriter(obsDB, "raytvd", 15*time.Second,
		observability.WithHeartbeatMetrics(metrics))
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	// Result cache backend.
	var cache rescache.Backend
	switch cfg.Cache.Backend {
	case "redis":
		redisCache, err := rescache.DialRedis(ctx, cfg.Cache.RedisAddr, logger)
		if err != nil {
			slog.Error("redis", "addr", cfg.Cache.RedisAddr, "error", err)
			os.Exit(1)
		}
		cache = redisCache
	default:
		mem := rescache.NewMemory()
		mem.StartJanitor(time.Minute)
		defer mem.Close()
		cache = mem
	}

	// Site registry with persistence.
	registry := sitereg.New(sitereg.Config{}, sitereg.WithDB(appDB), sitereg.WithLogger(logger))
	if err := registry.Load(ctx); err != nil {
		slog.Error("registry load", "error", err)
		os.Exit(1)
	}

	// Loader factory and crawl service.
	factory := spider.NewFactory(spider.FactoryConfig{}, spider.WithFactoryLogger(logger))
	defer factory.Close()

	crawlOpts := []crawl.Option{
		crawl.WithLogger(logger),
		crawl.WithObserver(&callMetrics{metrics: metrics}),
	}
	if cfg.ProbeURL != "" {
		crawlOpts = append(crawlOpts, crawl.WithProbe(crawl.NewHTTPProbe(crawl.ProbeConfig{URL: cfg.ProbeURL})))
	}
	crawler := crawl.New(registry, factory, cache, crawl.Config{
		Timeout:    cfg.Crawl.Timeout,
		RetryCount: cfg.Crawl.RetryCount,
		CacheTTL:   cfg.Crawl.CacheTTL,
	}, crawlOpts...)

	// Content aggregator.
	catalog := aggregate.New(cache, aggregate.Config{},
		aggregate.WithRegistry(registry),
		aggregate.WithSnapshotDB(appDB),
		aggregate.WithSources(cfg.Sources),
		aggregate.WithLogger(logger))

	refresh := func() error {
		refreshStart := time.Now()
		result, err := catalog.Refresh(ctx, nil)
		if err != nil {
			events.LogEvent(ctx, observability.BusinessEvent{
				EventType: "catalog_refresh", ServiceName: "aggregate",
				Action: "refresh", Details: err.Error(),
			})
			return err
		}
		metrics.RecordSimple(observability.MetricAggregateDurationMs,
			float64(time.Since(refreshStart).Milliseconds()), "milliseconds")
		metrics.RecordSimple(observability.MetricAggregateSiteTotal,
			float64(result.UniqueSiteCount), "count")
		events.LogEvent(ctx, observability.BusinessEvent{
			EventType: "catalog_refresh", ServiceName: "aggregate",
			EntityType: "catalog", Action: "refresh", Success: true,
			Details: fmt.Sprintf(`{"sites":%d,"failedSources":%d}`, result.UniqueSiteCount, result.FailedSources),
		})
		return nil
	}

	// First aggregation in the background; snapshots cover the gap.
	if len(cfg.Sources) > 0 {
		go func() {
			if _, err := catalog.AggregateIncremental(ctx, nil); err != nil {
				slog.Warn("initial aggregation", "error", err)
			}
		}()
	}

	// Site store changes (another process, MCP edits) reload the registry
	// and nudge the catalog. AggregateIncremental is freshness-gated, so
	// bursts of edits cost one refetch at most.
	watcher := watch.New(appDB, watch.Options{
		Interval: 2 * time.Second,
		Debounce: time.Second,
		Logger:   logger,
	})
	go watcher.OnChange(ctx, func() error {
		if err := registry.Load(ctx); err != nil {
			return err
		}
		if len(cfg.Sources) > 0 {
			if _, err := catalog.AggregateIncremental(ctx, nil); err != nil {
				slog.Warn("catalog refresh after store change", "error", err)
			}
		}
		return nil
	})

	// Periodic catalog refresh.
	if len(cfg.Sources) > 0 {
		go func() {
			ticker := time.NewTicker(cfg.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := refresh(); err != nil {
						slog.Warn("scheduled refresh", "error", err)
					}
				}
			}
		}()
	}

	// Optional MCP over stdio.
	if cfg.MCPTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "raytv", Version: "1.0.0"}, nil)
		registry.RegisterMCP(mcpSrv)
		crawler.RegisterMCP(mcpSrv)
		catalog.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("mcp stdio", "error", err)
			}
		}()
	}

	// HTTP API.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/sites", func(w http.ResponseWriter, req *http.Request) {
			var filters []sitereg.Filter
			if req.URL.Query().Get("enabled") == "true" {
				filters = append(filters, sitereg.Enabled())
			}
			writeJSON(w, http.StatusOK, registry.List(filters...))
		})
		r.Post("/sites", func(w http.ResponseWriter, req *http.Request) {
			var site sitereg.Site
			if err := json.NewDecoder(req.Body).Decode(&site); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := registry.Register(req.Context(), &site); err != nil {
				writeError(w, http.StatusUnprocessableEntity, err)
				return
			}
			writeJSON(w, http.StatusCreated, site)
		})
		r.Get("/sites/{key}", func(w http.ResponseWriter, req *http.Request) {
			site, err := registry.Get(chi.URLParam(req, "key"))
			if err != nil {
				writeError(w, http.StatusNotFound, err)
				return
			}
			health, _ := registry.HealthOf(site.Key)
			writeJSON(w, http.StatusOK, map[string]any{"site": site, "health": health})
		})
		r.Delete("/sites/{key}", func(w http.ResponseWriter, req *http.Request) {
			key := chi.URLParam(req, "key")
			if err := registry.Delete(req.Context(), key); err != nil {
				writeError(w, http.StatusNotFound, err)
				return
			}
			factory.DestroyLoaders(key)
			w.WriteHeader(http.StatusNoContent)
		})

		r.Post("/call", func(w http.ResponseWriter, req *http.Request) {
			var cr crawl.Request
			if err := json.NewDecoder(req.Body).Decode(&cr); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if cr.SiteKey == "" || cr.Method == "" {
				writeError(w, http.StatusBadRequest, errors.New("siteKey and method are required"))
				return
			}
			writeJSON(w, http.StatusOK, crawler.Call(req.Context(), &cr))
		})
		r.Post("/call/batch", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Requests    []*crawl.Request `json:"requests"`
				Concurrency int              `json:"concurrency"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeJSON(w, http.StatusOK, crawler.Batch(req.Context(), body.Requests, body.Concurrency))
		})

		r.Get("/catalog", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			includeInactive := q.Get("include_inactive") == "true"
			sortBy := aggregate.SortBy(q.Get("sort"))
			page, _ := strconv.Atoi(q.Get("page"))
			pageSize, _ := strconv.Atoi(q.Get("page_size"))

			if page > 0 || pageSize > 0 {
				view, err := catalog.SitesPage(req.Context(), page, pageSize, includeInactive, sortBy)
				if err != nil {
					writeError(w, http.StatusServiceUnavailable, err)
					return
				}
				writeJSON(w, http.StatusOK, view)
				return
			}
			sites, err := catalog.Sites(req.Context(), includeInactive, sortBy)
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, err)
				return
			}
			writeJSON(w, http.StatusOK, sites)
		})
		r.Get("/catalog/categories", func(w http.ResponseWriter, req *http.Request) {
			cats, err := catalog.Categories(req.Context())
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, err)
				return
			}
			writeJSON(w, http.StatusOK, cats)
		})
		r.Get("/catalog/search", func(w http.ResponseWriter, req *http.Request) {
			keyword := req.URL.Query().Get("q")
			if keyword == "" {
				writeError(w, http.StatusBadRequest, errors.New("q is required"))
				return
			}
			hits, err := catalog.Search(req.Context(), keyword)
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, err)
				return
			}
			writeJSON(w, http.StatusOK, hits)
		})
		r.Post("/catalog/refresh", func(w http.ResponseWriter, _ *http.Request) {
			if err := refresh(); err != nil {
				writeError(w, http.StatusBadGateway, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
		})

		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			stats, err := catalog.Stats(req.Context())
			if err != nil {
				stats = map[string]any{}
			}
			stats["watch"] = watcher.Stats()
			writeJSON(w, http.StatusOK, stats)
		})
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("raytvd listening", "addr", cfg.Listen, "cache", cfg.Cache.Backend, "sources", len(cfg.Sources))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server", "error", err)
		os.Exit(1)
	}
}

// callMetrics bridges crawl outcomes into the metrics timeseries.
type callMetrics struct {
	metrics *observability.MetricsManager
}

func (c *callMetrics) ObserveCall(siteKey, method string, kind crawl.ErrorKind, fromCache bool, elapsed time.Duration) {
	c.metrics.Record(&observability.Metric{
		Name:      observability.MetricSiteCallDurationMs,
		Timestamp: time.Now(),
		Value:     float64(elapsed.Milliseconds()),
		Unit:      "milliseconds",
		Labels: map[string]string{
			"site":   siteKey,
			"method": method,
			"kind":   string(kind),
		},
	})
	if fromCache {
		c.metrics.RecordSimple(observability.MetricCacheHitCount, 1, "count")
	}
	c.metrics.RecordSimple(observability.MetricSiteCallCount, 1, "count")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
