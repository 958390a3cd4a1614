// Package schedule implements the two restart-safe timing primitives the
// bots share: a recurrence checkpoint with additive catch-up (weekly
// allowance) and a milestone runner that sleeps towards offsets around an
// anchor event (bin collections).
package schedule

import "time"

// Checkpoint tracks the last completed occurrence of a fixed-period
// recurrence. Catch-up after downtime is computed in whole periods so that
// one long outage and N short ones produce the same end state, and
// advancing twice with the same wall time applies nothing the second time.
type Checkpoint struct {
	LastFired time.Time
	Period    time.Duration
}

// Due reports how many whole periods have elapsed since LastFired.
func (c Checkpoint) Due(now time.Time) int {
	if c.Period <= 0 {
		return 0
	}
	elapsed := now.Sub(c.LastFired)
	if elapsed < c.Period {
		return 0
	}
	return int(elapsed / c.Period)
}

// Advanced returns the checkpoint moved forward by every whole elapsed
// period together with the number of periods caught up. LastFired never
// moves past now and never moves backwards.
func (c Checkpoint) Advanced(now time.Time) (Checkpoint, int) {
	n := c.Due(now)
	if n > 0 {
		c.LastFired = c.LastFired.Add(time.Duration(n) * c.Period)
	}
	return c, n
}

// Next returns the wall time of the next occurrence.
func (c Checkpoint) Next() time.Time {
	return c.LastFired.Add(c.Period)
}
