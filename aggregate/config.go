// CLAUDE:SUMMARY Aggregator configuration with defaults.
package aggregate

import "time"

// Config tunes the aggregator. Zero values get defaults().
type Config struct {
	// CacheTTL is how long a full aggregation result stays cached.
	// Default: 30m.
	CacheTTL time.Duration
	// IncrementalWindow gates AggregateIncremental: within this window the
	// previous catalog is returned without touching the network.
	// Default: 5m.
	IncrementalWindow time.Duration
	// QualityFloor hides sites below this score from active views.
	// Default: 0.3.
	QualityFloor float64
	// SnapshotsKept bounds the persisted snapshot history. Default: 3.
	SnapshotsKept int
	// FetchTimeout bounds one source fetch. Default: 30s.
	FetchTimeout time.Duration
}

func (c *Config) defaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Minute
	}
	if c.IncrementalWindow <= 0 {
		c.IncrementalWindow = 5 * time.Minute
	}
	if c.QualityFloor <= 0 {
		c.QualityFloor = 0.3
	}
	if c.SnapshotsKept <= 0 {
		c.SnapshotsKept = 3
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
}
