// CLAUDE:SUMMARY Site descriptor, runtime kinds, status values, and the health record.
// Package sitereg is the in-memory + persisted catalog of content sites.
//
// It owns the per-site health record (counters, score, circuit break) and is
// the single source of truth other packages consult for "is this site
// usable". Crawl reports call outcomes here; aggregate reads health scores
// from here.
package sitereg

import "time"

// RuntimeKind identifies the execution technology of a site's plugin.
type RuntimeKind string

const (
	RuntimeBytecode    RuntimeKind = "bytecode"    // wasm module
	RuntimeScript      RuntimeKind = "script"      // JS program
	RuntimeInterpreter RuntimeKind = "interpreter" // Lua script
)

// Known reports whether k is a recognized runtime kind.
func (k RuntimeKind) Known() bool {
	switch k {
	case RuntimeBytecode, RuntimeScript, RuntimeInterpreter:
		return true
	}
	return false
}

// Site is the immutable identity of one content source. Created from parsed
// configuration; mutated only by registry operations.
type Site struct {
	Key         string            `json:"key"`
	Name        string            `json:"name"`
	Runtime     RuntimeKind       `json:"runtime"`
	API         string            `json:"api"`
	Ext         string            `json:"ext,omitempty"` // opaque config blob passed to the plugin
	Searchable  bool              `json:"searchable"`
	QuickSearch bool              `json:"quick_search"`
	Filterable  bool              `json:"filterable"`
	Headers     map[string]string `json:"headers,omitempty"`
	Cookie      string            `json:"cookie,omitempty"`
	Enabled     bool              `json:"enabled"`
	Order       int               `json:"order"`
}

// Clone returns a deep copy so callers can't mutate registry state.
func (s *Site) Clone() *Site {
	cp := *s
	if s.Headers != nil {
		cp.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			cp.Headers[k] = v
		}
	}
	return &cp
}

// Status is the registry's view of a site's usability.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusLoading  Status = "loading"
	StatusError    Status = "error"
	StatusDisabled Status = "disabled"
)

// Health is the registry-owned per-site health record, 1:1 with Site.
type Health struct {
	Status              Status    `json:"status"`
	SuccessCount        int64     `json:"success_count"`
	FailureCount        int64     `json:"failure_count"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	LastSuccessAt       time.Time `json:"last_success_at,omitzero"`
	LastFailureAt       time.Time `json:"last_failure_at,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	Score               float64   `json:"score"` // 0-100, decays on failure, recovers on success
	AvgLatencyMs        int64     `json:"avg_latency_ms"`
}

func (h *Health) clone() *Health {
	cp := *h
	return &cp
}
