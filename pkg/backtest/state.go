// Simulation time axis primitives
package backtest

import (
	"fmt"
	"time"
)

// ============================================================================
// FREQUENCIES AND VALUATIONS
// ============================================================================

// Frequency distinguishes daily series from intraday (real-time) series.
type Frequency string

const (
	FreqDaily    Frequency = "daily"
	FreqRealTime Frequency = "real_time"
)

// ValuationType names what a registered series measures for an instrument.
type ValuationType string

const (
	ValuationPrice ValuationType = "price"
	ValuationNAV   ValuationType = "nav"
	ValuationRisk  ValuationType = "risk"
)

// ============================================================================
// STATE
// ============================================================================

// State is one point on the simulation axis: either a pure date (daily
// granularity, no time-of-day) or a full datetime. A single run uses one
// granularity throughout; the distinction also selects which frequency of
// series a data read resolves against.
type State struct {
	t        time.Time
	dateOnly bool
}

// Date builds a pure-date state at midnight UTC.
func Date(year int, month time.Month, day int) State {
	return State{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), dateOnly: true}
}

// DateOf builds a pure-date state from the date part of t.
func DateOf(t time.Time) State {
	y, m, d := t.UTC().Date()
	return State{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), dateOnly: true}
}

// At builds a datetime state, normalized to UTC.
func At(t time.Time) State {
	return State{t: t.UTC()}
}

// Time returns the state's instant. For pure dates this is midnight UTC.
func (s State) Time() time.Time { return s.t }

// IsDate reports whether the state is a pure date.
func (s State) IsDate() bool { return s.dateOnly }

// IsZero reports whether the state is unset.
func (s State) IsZero() bool { return s.t.IsZero() }

// Frequency returns the series frequency this state resolves against.
func (s State) Frequency() Frequency {
	if s.dateOnly {
		return FreqDaily
	}
	return FreqRealTime
}

// DateStart returns the state truncated to its date at midnight UTC.
func (s State) DateStart() time.Time {
	y, m, d := s.t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Before reports whether s is strictly before other on the time axis.
func (s State) Before(other State) bool { return s.t.Before(other.t) }

// After reports whether s is strictly after other on the time axis.
func (s State) After(other State) bool { return s.t.After(other.t) }

func (s State) String() string {
	if s.dateOnly {
		return s.t.Format("2006-01-02")
	}
	return s.t.Format(time.RFC3339)
}

// executionCutoff is the instant up to which pending orders are due when
// the engine is pinged at this state. A pure date covers its entire day so
// that end-of-day executions fill on the day they belong to.
func (s State) executionCutoff() time.Time {
	if s.dateOnly {
		return s.t.Add(24 * time.Hour)
	}
	return s.t.Add(time.Nanosecond)
}

// ParseState parses either a date ("2006-01-02") or an RFC 3339 datetime.
func ParseState(raw string) (State, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return DateOf(t), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return At(t), nil
	}
	return State{}, fmt.Errorf("cannot parse %q as date or datetime", raw)
}
