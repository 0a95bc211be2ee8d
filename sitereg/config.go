// CLAUDE:SUMMARY Registry tuning knobs — score steps, circuit-break threshold, initial score.
package sitereg

// Config tunes health accounting.
type Config struct {
	// BreakThreshold is the consecutive-failure count that forces a site
	// into the error state. Default: 5.
	BreakThreshold int64
	// ScoreStep is the fixed amount the performance score moves per
	// outcome: down on failure, up on success. Default: 10.
	ScoreStep float64
	// InitialScore is the score assigned to freshly registered sites.
	// Default: 100.
	InitialScore float64
}

func (c *Config) defaults() {
	if c.BreakThreshold <= 0 {
		c.BreakThreshold = 5
	}
	if c.ScoreStep <= 0 {
		c.ScoreStep = 10
	}
	if c.InitialScore <= 0 {
		c.InitialScore = 100
	}
}
