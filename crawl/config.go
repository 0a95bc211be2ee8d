// CLAUDE:SUMMARY Crawl service configuration with defaults.
package crawl

import "time"

// Config tunes the crawl service. Zero values get defaults().
type Config struct {
	// Timeout bounds one plugin attempt. Default: 15s.
	Timeout time.Duration
	// RetryCount is the default number of retries after the first attempt.
	// Default: 2 (three attempts total).
	RetryCount int
	// CacheTTL is the default write-through TTL. Default: 10m.
	CacheTTL time.Duration
	// BaseBackoff is the first retry delay; attempt n waits
	// BaseBackoff * 2^(n-1) plus up to MaxJitter. Default: 1s.
	BaseBackoff time.Duration
	// MaxJitter is the upper bound of the random slice added to each
	// backoff. Default: 1s.
	MaxJitter time.Duration
	// RatePerSite limits sustained calls per second against one site.
	// Default: 5.
	RatePerSite float64
	// RateBurst is the per-site burst allowance. Default: 10.
	RateBurst int
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.RetryCount == 0 {
		c.RetryCount = 2
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxJitter <= 0 {
		c.MaxJitter = time.Second
	}
	if c.RatePerSite <= 0 {
		c.RatePerSite = 5
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 10
	}
}
