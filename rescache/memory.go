// CLAUDE:SUMMARY In-process TTL cache — mutex-guarded map, lazy expiry on Get, optional janitor sweep.
package rescache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero = never
}

// Memory is an in-process Backend. Safe for concurrent use.
//
// Expired entries are dropped lazily on Get; StartJanitor adds a periodic
// sweep so long-idle keys don't pin memory between reads.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time // injectable clock for testing

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = fn }
}

// NewMemory creates an empty in-process cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries:     make(map[string]entry),
		now:         time.Now,
		janitorStop: make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Get implements Backend.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock: a Set may have raced the expiry.
		if cur, ok := m.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements Backend.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Remove implements Backend.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Clear implements Backend.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including not-yet-swept
// expired ones.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// StartJanitor launches a background sweep that removes expired entries
// every interval. It stops when Close is called.
func (m *Memory) StartJanitor(interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-m.janitorStop:
				return
			case <-t.C:
				m.sweep()
			}
		}
	}()
}

// Close stops the janitor, if one was started.
func (m *Memory) Close() {
	m.janitorOnce.Do(func() { close(m.janitorStop) })
}

func (m *Memory) sweep() {
	now := m.now()
	m.mu.Lock()
	for k, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}
