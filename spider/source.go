// CLAUDE:SUMMARY SourceResolver — plugin program bytes from an HTTP endpoint, a data: URI, or inline text.
package spider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/iswhat/raytv/sitereg"
	"github.com/iswhat/raytv/urlsafe"
)

// SourceResolver turns a site descriptor into the plugin program bytes the
// runtime executes.
type SourceResolver interface {
	Resolve(ctx context.Context, site *sitereg.Site) ([]byte, error)
}

// ResolverConfig tunes the default resolver.
type ResolverConfig struct {
	Timeout   time.Duration // HTTP timeout. Default: 30s.
	MaxBytes  int64         // Max program size. Default: urlsafe.MaxResponseBody.
	UserAgent string
}

func (c *ResolverConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = urlsafe.MaxResponseBody
	}
	if c.UserAgent == "" {
		c.UserAgent = "raytv-spider/1.0"
	}
}

// Resolver is the default SourceResolver. Three descriptor shapes are
// accepted:
//
//   - "http(s)://..."  — program fetched from the endpoint with the site's
//     request headers and cookie applied
//   - "data:...;base64,xxx" — inline base64 payload
//   - anything else    — the API field IS the program text (used by tests
//     and hand-rolled configs)
type Resolver struct {
	client *http.Client
	config ResolverConfig
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	cfg.defaults()
	return &Resolver{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return urlsafe.ValidateURLAllowPrivate(req.URL.String())
			},
		},
		config: cfg,
	}
}

// Resolve implements SourceResolver.
func (r *Resolver) Resolve(ctx context.Context, site *sitereg.Site) ([]byte, error) {
	api := site.API
	switch {
	case strings.HasPrefix(api, "data:"):
		return decodeDataURI(api)
	case strings.Contains(api, "://"):
		return r.fetch(ctx, site)
	default:
		return []byte(api), nil
	}
}

func (r *Resolver) fetch(ctx context.Context, site *sitereg.Site) ([]byte, error) {
	if err := urlsafe.ValidateURLAllowPrivate(site.API); err != nil {
		return nil, fmt.Errorf("spider: program URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, site.API, nil)
	if err != nil {
		return nil, fmt.Errorf("spider: new request: %w", err)
	}
	req.Header.Set("User-Agent", r.config.UserAgent)
	for k, v := range site.Headers {
		req.Header.Set(k, v)
	}
	if site.Cookie != "" {
		req.Header.Set("Cookie", site.Cookie)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spider: fetch program: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("spider: fetch program: http %d", resp.StatusCode)
	}
	return urlsafe.LimitedReadAll(resp.Body, r.config.MaxBytes)
}

func decodeDataURI(uri string) ([]byte, error) {
	idx := strings.Index(uri, ",")
	if idx < 0 {
		return nil, fmt.Errorf("spider: malformed data URI")
	}
	meta, payload := uri[5:idx], uri[idx+1:]
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("spider: data URI base64: %w", err)
		}
		return data, nil
	}
	return []byte(payload), nil
}
