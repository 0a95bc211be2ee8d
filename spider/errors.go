// CLAUDE:SUMMARY Typed loader errors — unsupported runtime, lifecycle misuse, missing methods.
package spider

import "fmt"

// ErrUnsupportedRuntime is returned when a site descriptor names a runtime
// kind no constructor is registered for.
type ErrUnsupportedRuntime struct {
	Kind string
}

func (e *ErrUnsupportedRuntime) Error() string {
	return fmt.Sprintf("spider: unsupported runtime kind %q", e.Kind)
}

// ErrNotReady is returned when Call is made against a loader that is not in
// the ready state.
type ErrNotReady struct {
	Site  string
	State State
}

func (e *ErrNotReady) Error() string {
	return fmt.Sprintf("spider: loader for %s not ready (state %s)", e.Site, e.State)
}

// ErrMethodNotFound is returned when the plugin does not define the
// requested method.
type ErrMethodNotFound struct {
	Site   string
	Method string
}

func (e *ErrMethodNotFound) Error() string {
	return fmt.Sprintf("spider: plugin %s has no method %q", e.Site, e.Method)
}

// ErrInit wraps a plugin initialization failure.
type ErrInit struct {
	Site  string
	Cause error
}

func (e *ErrInit) Error() string {
	return fmt.Sprintf("spider: init %s: %v", e.Site, e.Cause)
}

func (e *ErrInit) Unwrap() error { return e.Cause }
