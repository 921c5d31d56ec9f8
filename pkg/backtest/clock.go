// Simulation clock with lookahead protection
package backtest

import (
	"fmt"
	"time"
)

// sentinelTime predates any realistic backtest start.
var sentinelTime = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock tracks the current simulation time. It only moves forward: the
// driver advances it once per axis step, and every data read is checked
// against it so that no component can observe the future.
type Clock struct {
	current State
}

// NewClock returns a clock set to the beginning-of-time sentinel.
func NewClock() *Clock {
	c := &Clock{}
	c.Reset()
	return c
}

// Current returns the current simulation state.
func (c *Clock) Current() State { return c.current }

// Update advances the clock to s. Moving to a strictly earlier time is a
// temporal violation and fails; equal times are allowed.
func (c *Clock) Update(s State) error {
	if s.Time().Before(c.current.Time()) {
		return fmt.Errorf("%w: current time %s, requested %s", ErrTimeBackwards, c.current, s)
	}
	c.current = s
	return nil
}

// TimeCheck fails if s is strictly after the current simulation time. A
// pure-date request compares against the current date, so intraday clocks
// may still serve same-day daily reads.
func (c *Clock) TimeCheck(s State) error {
	cur := c.current.Time()
	if s.IsDate() {
		cur = c.current.DateStart()
	}
	if s.Time().After(cur) {
		return fmt.Errorf("%w: current time %s, requested %s", ErrLookahead, c.current, s)
	}
	return nil
}

// Reset restores the sentinel so the clock can serve a fresh run.
func (c *Clock) Reset() {
	c.current = State{t: sentinelTime}
}
