// CLAUDE:SUMMARY Error kinds for crawl responses — stable strings clients can switch on.
package crawl

// ErrorKind classifies why a call failed. Kinds are part of the API surface:
// clients branch on them to decide between retrying, skipping a site, or
// surfacing a message.
type ErrorKind string

const (
	ErrKindNone           ErrorKind = ""
	ErrKindSiteNotFound   ErrorKind = "site_not_found"
	ErrKindSiteDisabled   ErrorKind = "site_disabled"
	ErrKindSiteInError    ErrorKind = "site_in_error"
	ErrKindNoConnectivity ErrorKind = "no_connectivity"
	ErrKindTimeout        ErrorKind = "timeout"
	ErrKindEmptyResult    ErrorKind = "empty_result"
	ErrKindRuntime        ErrorKind = "runtime_error"
	ErrKindRateLimited    ErrorKind = "rate_limited"
)

// Retryable reports whether a fresh attempt against the same site could
// plausibly succeed without operator intervention.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindTimeout, ErrKindRuntime, ErrKindNoConnectivity, ErrKindRateLimited:
		return true
	}
	return false
}
