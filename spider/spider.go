// CLAUDE:SUMMARY Loader capability interface and lifecycle states shared by the three plugin runtimes.
// Package spider executes per-site scraping plugins. Three runtime
// technologies hide behind one capability interface: wasm modules
// (bytecode), JS programs (script), and Lua scripts (interpreter).
//
// Loaders are owned by the Factory, which caches them per site
// configuration hash and bounds the cache with oldest-first eviction.
// Each concrete loader manages its own sandboxing and cleanup.
package spider

import (
	"context"
	"sync/atomic"
)

// State is a loader's lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Loader wraps one scraping plugin regardless of execution technology.
//
// Call dispatches a named method with string params and returns the
// plugin's response, conventionally a JSON document. The ctx deadline is
// honored cooperatively by every runtime: a cancelled ctx interrupts the
// plugin rather than letting it run to completion in the background.
type Loader interface {
	Init(ctx context.Context) error
	Call(ctx context.Context, method string, params map[string]string) (string, error)
	Destroy()
	State() State
}

// state is the shared atomic lifecycle holder embedded by the runtimes.
type state struct {
	v atomic.Int32
}

func (s *state) set(st State) { s.v.Store(int32(st)) }
func (s *state) get() State   { return State(s.v.Load()) }
func (s *state) ready() bool  { return s.get() == StateReady }
