// CLAUDE:SUMMARY Request/Response/Options types for the crawl pipeline.
package crawl

import "time"

// Request names one plugin invocation: which site, which method, with what
// parameters.
type Request struct {
	SiteKey string            `json:"siteKey"`
	Method  string            `json:"method"`
	Params  map[string]string `json:"params,omitempty"`
	Options *Options          `json:"options,omitempty"`
}

// Options tunes a single request. Zero values fall back to service defaults.
type Options struct {
	// Timeout bounds one attempt, not the whole retry sequence.
	Timeout time.Duration `json:"timeout,omitempty"`
	// RetryCount is the number of retries after the first attempt.
	RetryCount int `json:"retryCount,omitempty"`
	// CacheTTL overrides the service default for the write-through.
	CacheTTL time.Duration `json:"cacheTtl,omitempty"`
	// NoCache skips both the cache read and the write-through.
	NoCache bool `json:"noCache,omitempty"`
}

// Response is the uniform call outcome. Success and ErrorKind are mutually
// exclusive; Data carries the raw plugin output.
type Response struct {
	Success         bool      `json:"success"`
	Data            string    `json:"data,omitempty"`
	ErrorKind       ErrorKind `json:"errorKind,omitempty"`
	Error           string    `json:"error,omitempty"`
	FromCache       bool      `json:"fromCache,omitempty"`
	SiteKey         string    `json:"siteKey"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
}

func failure(siteKey string, kind ErrorKind, msg string, elapsed time.Duration) *Response {
	return &Response{
		SiteKey:         siteKey,
		ErrorKind:       kind,
		Error:           msg,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
}
