// CLAUDE:SUMMARY URL scheme/SSRF validation, identifier checks, and bounded response reads for config and plugin fetches.
// Package urlsafe provides the safety primitives shared by everything that
// touches a remote address: configuration source loading, plugin payload
// fetches, and site descriptor validation.
package urlsafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MaxResponseBody is the default cap for HTTP response body reads (10 MiB).
// Configuration documents for large site catalogs routinely exceed 1 MiB.
const MaxResponseBody int64 = 10 << 20

// ErrSSRF is returned when a URL targets a private/loopback address and
// private hosts are not allowed.
var ErrSSRF = errors.New("urlsafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("urlsafe: only http and https schemes are allowed")

// ValidateURL checks that rawURL uses http/https, has a hostname, and does
// not resolve to a private or loopback IP. DNS resolution is performed to
// catch rebinding via internal hostnames.
//
// Self-hosted catalogs on home LANs are common, so callers that accept
// operator-supplied sources should use ValidateURLAllowPrivate instead.
func ValidateURL(rawURL string) error {
	return validate(rawURL, false)
}

// ValidateURLAllowPrivate checks scheme and host shape only, permitting
// private and loopback addresses.
func ValidateURLAllowPrivate(rawURL string) error {
	return validate(rawURL, true)
}

func validate(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("urlsafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("urlsafe: URL has no host")
	}
	if allowPrivate {
		return nil
	}

	// Check literal IP first.
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}

	// Resolve hostname and check all addresses.
	addrs, err := net.LookupHost(host)
	if err != nil {
		// DNS failure — allow through (might be a valid external host that
		// is temporarily unresolvable). The caller will get a network error
		// at connection time anyway.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

// ValidateKey rejects site keys that contain characters unsuitable for
// cache keys, file names, or URL path segments. Allows alphanumeric,
// underscore, hyphen, and dot.
func ValidateKey(s string) error {
	if s == "" {
		return fmt.Errorf("urlsafe: key must not be empty")
	}
	if len(s) > 256 {
		return fmt.Errorf("urlsafe: key too long (max 256)")
	}
	for _, r := range s {
		if !isKeyChar(r) {
			return fmt.Errorf("urlsafe: invalid character %q in key", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r. Returns an error if the
// limit is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("urlsafe: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func isKeyChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	// RFC 1918 / RFC 4193
	privateRanges := []struct {
		network string
	}{
		{"10.0.0.0/8"},
		{"172.16.0.0/12"},
		{"192.168.0.0/16"},
		{"fc00::/7"},
		{"169.254.0.0/16"},
		{"::1/128"},
	}
	for _, pr := range privateRanges {
		_, cidr, err := net.ParseCIDR(pr.network)
		if err != nil {
			continue
		}
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
