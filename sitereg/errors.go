// CLAUDE:SUMMARY Typed registry errors — unknown site, disabled, circuit-broken, validation failures.
package sitereg

import "fmt"

// ErrSiteNotFound is returned when an operation targets an unknown key.
type ErrSiteNotFound struct {
	Key string
}

func (e *ErrSiteNotFound) Error() string {
	return fmt.Sprintf("sitereg: site not found: %s", e.Key)
}

// ErrSiteDisabled is returned by Usable for a manually disabled site.
type ErrSiteDisabled struct {
	Key string
}

func (e *ErrSiteDisabled) Error() string {
	return fmt.Sprintf("sitereg: site disabled: %s", e.Key)
}

// ErrSiteInError is returned by Usable for a circuit-broken site.
type ErrSiteInError struct {
	Key     string
	LastErr string
}

func (e *ErrSiteInError) Error() string {
	return fmt.Sprintf("sitereg: site in error state: %s (last: %s)", e.Key, e.LastErr)
}

// ErrInvalidSite is returned when a descriptor fails validation.
type ErrInvalidSite struct {
	Key    string
	Reason string
}

func (e *ErrInvalidSite) Error() string {
	return fmt.Sprintf("sitereg: invalid site %q: %s", e.Key, e.Reason)
}
