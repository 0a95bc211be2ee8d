// CLAUDE:SUMMARY Aggregate error values.
package aggregate

import "errors"

// ErrAllSourcesFailed is returned when not a single configuration source
// could be loaded. Partial failure is tolerated; total failure is not.
var ErrAllSourcesFailed = errors.New("aggregate: all configuration sources failed")

// ErrNoCatalog is returned by read views before the first successful
// aggregation when no persisted snapshot exists either.
var ErrNoCatalog = errors.New("aggregate: no catalog available yet")
