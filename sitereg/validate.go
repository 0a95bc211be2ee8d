// CLAUDE:SUMMARY Descriptor validation — required fields, known runtime, http(s)-only URL fields.
package sitereg

import (
	"strings"

	"github.com/iswhat/raytv/urlsafe"
)

// Validate checks a descriptor before it enters the registry.
// Key, Name and Runtime are required; Runtime must be recognized; any
// URL-shaped field (absolute, scheme-qualified) must be http or https.
func Validate(s *Site) error {
	if s == nil {
		return &ErrInvalidSite{Reason: "nil descriptor"}
	}
	if s.Key == "" {
		return &ErrInvalidSite{Reason: "key is required"}
	}
	if err := urlsafe.ValidateKey(s.Key); err != nil {
		return &ErrInvalidSite{Key: s.Key, Reason: err.Error()}
	}
	if s.Name == "" {
		return &ErrInvalidSite{Key: s.Key, Reason: "name is required"}
	}
	if s.Runtime == "" {
		return &ErrInvalidSite{Key: s.Key, Reason: "runtime is required"}
	}
	if !s.Runtime.Known() {
		return &ErrInvalidSite{Key: s.Key, Reason: "unknown runtime kind " + string(s.Runtime)}
	}
	for _, field := range []string{s.API, s.Ext} {
		if !isAbsoluteURL(field) {
			continue // relative references and inline payloads are opaque
		}
		if err := urlsafe.ValidateURLAllowPrivate(field); err != nil {
			return &ErrInvalidSite{Key: s.Key, Reason: err.Error()}
		}
	}
	return nil
}

func isAbsoluteURL(s string) bool {
	return strings.Contains(s, "://")
}
