package aggregate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iswhat/raytv/aggregate/internal/store"
	"github.com/iswhat/raytv/dbopen"
	"github.com/iswhat/raytv/rescache"
	"github.com/iswhat/raytv/sitereg"
	_ "modernc.org/sqlite"
)

func configServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	return New(rescache.NewMemory(), Config{}, opts...)
}

const alphaEntry = `{"key":"a","name":"Alpha","api":"csp_Alpha","searchable":true}`

// WHAT: the same site listed by two sources merges into one entry with both
// source URLs and a strictly higher quality score than the single-source run.
func TestAggregate_TwoSourceCorroboration(t *testing.T) {
	body := `{"sites":[` + alphaEntry + `]}`
	src1 := configServer(t, body)
	src2 := configServer(t, body)
	ctx := context.Background()

	single, err := newService(t).Aggregate(ctx, []string{src1.URL})
	if err != nil {
		t.Fatalf("single-source Aggregate: %v", err)
	}
	if single.UniqueSiteCount != 1 {
		t.Fatalf("single UniqueSiteCount = %d", single.UniqueSiteCount)
	}
	singleScore := single.Sites[0].QualityScore
	if singleScore != 0.35 { // base 0.2 + searchable 0.15
		t.Fatalf("single score = %v, want 0.35", singleScore)
	}

	both, err := newService(t).Aggregate(ctx, []string{src1.URL, src2.URL})
	if err != nil {
		t.Fatalf("two-source Aggregate: %v", err)
	}
	if both.UniqueSiteCount != 1 {
		t.Fatalf("merged UniqueSiteCount = %d, want 1", both.UniqueSiteCount)
	}
	site := both.Sites[0]
	if len(site.SourceURLs) != 2 {
		t.Fatalf("SourceURLs = %v, want 2 entries", site.SourceURLs)
	}
	if site.QualityScore <= singleScore {
		t.Fatalf("merged score %v not above single-source %v", site.QualityScore, singleScore)
	}
}

// WHAT: aggregating the same sources twice yields identical counts and scores.
func TestAggregate_Deterministic(t *testing.T) {
	src := configServer(t, `{"sites":[
		`+alphaEntry+`,
		{"key":"b","name":"Beta","api":"https://beta.example.com/api/v1/provide","filterable":1}
	]}`)
	ctx := context.Background()

	first, err := newService(t).Aggregate(ctx, []string{src.URL})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	second, err := newService(t).Aggregate(ctx, []string{src.URL})
	if err != nil {
		t.Fatalf("Aggregate again: %v", err)
	}

	if first.UniqueSiteCount != second.UniqueSiteCount {
		t.Fatalf("counts differ: %d vs %d", first.UniqueSiteCount, second.UniqueSiteCount)
	}
	for i := range first.Sites {
		if first.Sites[i].QualityScore != second.Sites[i].QualityScore {
			t.Fatalf("score for %s differs across runs", first.Sites[i].Key)
		}
	}
	// Long endpoint heuristic applies to Beta.
	var beta *Site
	for _, s := range first.Sites {
		if s.Key == "b" {
			beta = s
		}
	}
	if beta == nil {
		t.Fatal("beta missing")
	}
	if beta.QualityScore != 0.40 { // base 0.2 + filterable 0.10 + long API 0.10
		t.Fatalf("beta score = %v, want 0.40", beta.QualityScore)
	}
}

// WHAT: one failing source is tolerated; zero loaded sources is an error and
// keeps the previous catalog intact.
func TestAggregate_PartialAndTotalFailure(t *testing.T) {
	good := configServer(t, `{"sites":[`+alphaEntry+`]}`)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)
	svc := newService(t)
	ctx := context.Background()

	catalog, err := svc.Aggregate(ctx, []string{good.URL, bad.URL})
	if err != nil {
		t.Fatalf("partial Aggregate: %v", err)
	}
	if catalog.FailedSources != 1 || catalog.UniqueSiteCount != 1 {
		t.Fatalf("catalog = %+v", catalog)
	}

	if _, err := svc.Aggregate(ctx, []string{bad.URL}); !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("err = %v, want ErrAllSourcesFailed", err)
	}
	sites, err := svc.Sites(ctx, true, SortQuality)
	if err != nil || len(sites) != 1 {
		t.Fatalf("previous catalog lost: sites=%v err=%v", sites, err)
	}
}

// WHAT: a multi-config wrapper is followed one level; its sites merge in.
func TestAggregate_WrappedSources(t *testing.T) {
	inner := configServer(t, `{"sites":[{"key":"w","name":"Wrapped","api":"csp_W"}]}`)
	wrapper := configServer(t, `{"urls":[{"url":"`+inner.URL+`","name":"inner"}]}`)

	catalog, err := newService(t).Aggregate(context.Background(), []string{wrapper.URL})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if catalog.UniqueSiteCount != 1 || catalog.Sites[0].Key != "w" {
		t.Fatalf("catalog = %+v", catalog)
	}
}

// WHAT: the active view hides sites at or below the quality floor.
func TestSites_QualityFloor(t *testing.T) {
	src := configServer(t, `{"sites":[
		`+alphaEntry+`,
		{"key":"weak","name":"Weak","api":"csp_W"}
	]}`)
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.Aggregate(ctx, []string{src.URL}); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	active, err := svc.Sites(ctx, false, SortQuality)
	if err != nil {
		t.Fatalf("Sites: %v", err)
	}
	for _, s := range active {
		if s.QualityScore <= 0.3 {
			t.Fatalf("active view leaked %s with score %v", s.Key, s.QualityScore)
		}
	}
	if len(active) != 1 || active[0].Key != "a" {
		t.Fatalf("active = %v", keysOf(active))
	}

	all, _ := svc.Sites(ctx, true, SortQuality)
	if len(all) != 2 {
		t.Fatalf("includeInactive returned %d sites, want 2", len(all))
	}
}

// WHAT: name hits outrank key hits, which outrank ext hits; quality breaks ties.
func TestSearch_Ranking(t *testing.T) {
	src := configServer(t, `{"sites":[
		{"key":"one","name":"Dune Archive","api":"csp_One"},
		{"key":"dune2","name":"Other","api":"csp_Two"},
		{"key":"three","name":"Third","api":"csp_Three","ext":"dune-pack"}
	]}`)
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.Aggregate(ctx, []string{src.URL}); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	hits, err := svc.Search(ctx, "DUNE")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("hits = %d, want 3", len(hits))
	}
	if hits[0].Site.Key != "one" || hits[1].Site.Key != "dune2" || hits[2].Site.Key != "three" {
		t.Fatalf("order = %s, %s, %s", hits[0].Site.Key, hits[1].Site.Key, hits[2].Site.Key)
	}
	if _, err := svc.Search(ctx, "zzz-nothing"); err != nil {
		t.Fatalf("no-hit Search: %v", err)
	}
}

func TestSitesPage(t *testing.T) {
	src := configServer(t, `{"sites":[
		{"key":"p1","name":"A","api":"csp_1","searchable":true},
		{"key":"p2","name":"B","api":"csp_2","searchable":true},
		{"key":"p3","name":"C","api":"csp_3","searchable":true}
	]}`)
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.Aggregate(ctx, []string{src.URL}); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	page, err := svc.SitesPage(ctx, 2, 2, false, SortName)
	if err != nil {
		t.Fatalf("SitesPage: %v", err)
	}
	if page.Total != 3 || len(page.Sites) != 1 || page.Sites[0].Name != "C" {
		t.Fatalf("page = %+v", page)
	}

	beyond, _ := svc.SitesPage(ctx, 9, 2, false, SortName)
	if len(beyond.Sites) != 0 || beyond.Total != 3 {
		t.Fatalf("out-of-range page = %+v", beyond)
	}
}

// WHAT: the incremental entry point reuses a fresh catalog without refetching.
func TestAggregateIncremental_FreshnessGate(t *testing.T) {
	var fetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches++
		fmt.Fprint(w, `{"sites":[`+alphaEntry+`]}`)
	}))
	t.Cleanup(srv.Close)

	clock := time.Unix(1_700_000_000, 0)
	svc := newService(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	urls := []string{srv.URL}

	if _, err := svc.AggregateIncremental(ctx, urls); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := svc.AggregateIncremental(ctx, urls); err != nil {
		t.Fatalf("second: %v", err)
	}
	if fetches != 1 {
		t.Fatalf("fetches = %d, want 1 (gate must short-circuit)", fetches)
	}

	clock = clock.Add(6 * time.Minute)
	if _, err := svc.AggregateIncremental(ctx, urls); err != nil {
		t.Fatalf("third: %v", err)
	}
	if fetches != 2 {
		t.Fatalf("fetches = %d, want 2 after window expiry", fetches)
	}
}

// WHAT: a snapshot written by one service instance serves read views in a
// fresh instance before its first aggregation.
func TestSnapshot_RestoreAcrossRestart(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	snap := store.New(db)
	src := configServer(t, `{"sites":[`+alphaEntry+`]}`)
	ctx := context.Background()

	first := newService(t, WithSnapshotStore(snap))
	if _, err := first.Aggregate(ctx, []string{src.URL}); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	restarted := newService(t, WithSnapshotStore(snap))
	sites, err := restarted.Sites(ctx, false, SortQuality)
	if err != nil {
		t.Fatalf("Sites after restart: %v", err)
	}
	if len(sites) != 1 || sites[0].Key != "a" {
		t.Fatalf("restored sites = %v", keysOf(sites))
	}
}

// WHAT: read views without any catalog or snapshot report ErrNoCatalog.
func TestSites_NoCatalog(t *testing.T) {
	svc := newService(t)
	if _, err := svc.Sites(context.Background(), false, SortQuality); !errors.Is(err, ErrNoCatalog) {
		t.Fatalf("err = %v, want ErrNoCatalog", err)
	}
}

// WHAT: merged sites are registered, and registry health feeds reliability.
func TestAggregate_RegistrySync(t *testing.T) {
	registry := sitereg.New(sitereg.Config{})
	src := configServer(t, `{"sites":[`+alphaEntry+`]}`)
	svc := newService(t, WithRegistry(registry))
	ctx := context.Background()

	catalog, err := svc.Aggregate(ctx, []string{src.URL})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	// Unknown at scoring time, neutral prior.
	if catalog.Sites[0].ReliabilityScore != 0.5 {
		t.Fatalf("reliability = %v, want 0.5", catalog.Sites[0].ReliabilityScore)
	}
	if _, err := registry.Get("a"); err != nil {
		t.Fatalf("site not registered: %v", err)
	}

	// Degrade health, re-aggregate: reliability follows score/100.
	for i := 0; i < 3; i++ {
		registry.RecordFailure(ctx, "a", "down")
	}
	catalog, err = svc.Aggregate(ctx, []string{src.URL})
	if err != nil {
		t.Fatalf("re-Aggregate: %v", err)
	}
	if catalog.Sites[0].ReliabilityScore != 0.7 {
		t.Fatalf("reliability = %v, want 0.7", catalog.Sites[0].ReliabilityScore)
	}
}

func TestCategories_Histogram(t *testing.T) {
	src := configServer(t, `{"sites":[
		{"key":"s1","name":"S1","api":"csp_1","runtime":"script","searchable":true},
		{"key":"s2","name":"S2","api":"csp_2","runtime":"script"},
		{"key":"l1","name":"L1","api":"csp_3","runtime":"lua"}
	]}`)
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.Aggregate(ctx, []string{src.URL}); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	cats, err := svc.Categories(ctx)
	if err != nil {
		t.Fatalf("Categories: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("categories = %d, want 2", len(cats))
	}
	if cats[0].Type != "script" || cats[0].SiteCount != 2 {
		t.Fatalf("top category = %+v, want script with 2 sites", cats[0])
	}
	if cats[0].Histogram["searchable"] != 1 || cats[0].Histogram["basic"] != 1 {
		t.Fatalf("histogram = %v", cats[0].Histogram)
	}
}

func keysOf(sites []*Site) []string {
	out := make([]string, len(sites))
	for i, s := range sites {
		out[i] = s.Key
	}
	return out
}
