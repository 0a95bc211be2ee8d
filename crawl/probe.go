// CLAUDE:SUMMARY Connectivity probe — cached reachability check against a well-known endpoint.
package crawl

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Probe answers "does this host currently have network access". Offline
// detection lets the pipeline fall back to cache instead of burning the
// retry budget on requests that cannot succeed.
type Probe interface {
	Online(ctx context.Context) bool
}

// ProbeConfig tunes the HTTP probe.
type ProbeConfig struct {
	// URL receives a HEAD request. Default: https://www.gstatic.com/generate_204.
	URL string
	// Timeout for one probe request. Default: 3s.
	Timeout time.Duration
	// CacheFor is how long a probe verdict is reused. Default: 30s.
	CacheFor time.Duration
}

func (c *ProbeConfig) defaults() {
	if c.URL == "" {
		c.URL = "https://www.gstatic.com/generate_204"
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.CacheFor <= 0 {
		c.CacheFor = 30 * time.Second
	}
}

// HTTPProbe probes with a HEAD request and caches the verdict so a burst of
// calls costs one network round trip.
type HTTPProbe struct {
	mu        sync.Mutex
	config    ProbeConfig
	client    *http.Client
	verdict   bool
	checkedAt time.Time
	now       func() time.Time
}

// NewHTTPProbe creates an HTTPProbe.
func NewHTTPProbe(cfg ProbeConfig) *HTTPProbe {
	cfg.defaults()
	return &HTTPProbe{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
}

// Online implements Probe.
func (p *HTTPProbe) Online(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.checkedAt.IsZero() && p.now().Sub(p.checkedAt) < p.config.CacheFor {
		return p.verdict
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.config.URL, nil)
	if err != nil {
		return true // malformed config, do not block callers
	}
	resp, err := p.client.Do(req)
	if resp != nil {
		resp.Body.Close()
	}
	p.verdict = err == nil
	p.checkedAt = p.now()
	return p.verdict
}

// AlwaysOnline is a Probe that never reports offline. Used when the deployment
// has no reliable probe target.
type AlwaysOnline struct{}

func (AlwaysOnline) Online(context.Context) bool { return true }
