// Data sources and missing-data policies
package backtest

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// ============================================================================
// MISSING DATA STRATEGIES
// ============================================================================

// MissingDataStrategy controls how a source answers a query for a time
// with no observed fixing.
type MissingDataStrategy string

const (
	// MissingFail turns a gap into a hard error.
	MissingFail MissingDataStrategy = "fail"
	// MissingFillForward resolves a gap with the most recent prior fixing.
	MissingFillForward MissingDataStrategy = "fill_forward"
	// MissingInterpolate resolves a gap by linear interpolation between
	// the neighbouring fixings; past the last fixing it carries the last
	// value forward.
	MissingInterpolate MissingDataStrategy = "interpolate"
)

// ============================================================================
// DATA SOURCE
// ============================================================================

// DataSource serves fixings for one (instrument, valuation) series.
type DataSource interface {
	// Value resolves the fixing at t, applying the source's missing-data
	// policy on a gap.
	Value(t time.Time) (float64, error)
	// RangeValues returns the fixings with start < t <= end.
	RangeValues(start, end time.Time) []Point
	// LastN returns the last n fixings with t <= upTo, oldest first.
	LastN(upTo time.Time, n int) []Point
	// Empty reports whether the source currently holds no fixings.
	Empty() bool
}

// GenericDataSource is the standard in-memory DataSource: an immutable
// fixing series plus a resolved-value cache. Gap resolution writes into
// the cache, never into the series, so repeated queries are cheap and the
// caller's data is never aliased or densified behind its back.
type GenericDataSource struct {
	series   Series
	strategy MissingDataStrategy
	resolved *gocache.Cache
}

// NewGenericDataSource wraps a series with a missing-data strategy. An
// unrecognized strategy is a configuration error.
func NewGenericDataSource(series Series, strategy MissingDataStrategy) (*GenericDataSource, error) {
	switch strategy {
	case MissingFail, MissingFillForward, MissingInterpolate:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	return &GenericDataSource{
		series:   series,
		strategy: strategy,
		resolved: gocache.New(gocache.NoExpiration, 0),
	}, nil
}

// MustGenericDataSource is NewGenericDataSource for static configuration;
// it panics on an unknown strategy.
func MustGenericDataSource(series Series, strategy MissingDataStrategy) *GenericDataSource {
	ds, err := NewGenericDataSource(series, strategy)
	if err != nil {
		panic(err)
	}
	return ds
}

// Value resolves the fixing at t.
func (ds *GenericDataSource) Value(t time.Time) (float64, error) {
	t = t.UTC()
	if v, ok := ds.series.At(t); ok {
		return v, nil
	}

	key := t.Format(time.RFC3339Nano)
	if v, ok := ds.resolved.Get(key); ok {
		return v.(float64), nil
	}

	v, err := ds.fill(t)
	if err != nil {
		return 0, err
	}

	ds.resolved.Set(key, v, gocache.NoExpiration)
	log.Debug().Time("at", t).Float64("value", v).Str("strategy", string(ds.strategy)).
		Msg("Resolved missing fixing")
	return v, nil
}

// RangeValues returns the observed fixings with start < t <= end. Gap
// filling applies to point queries only.
func (ds *GenericDataSource) RangeValues(start, end time.Time) []Point {
	return ds.series.Range(start, end)
}

// LastN returns the last n observed fixings with t <= upTo.
func (ds *GenericDataSource) LastN(upTo time.Time, n int) []Point {
	return ds.series.LastN(upTo, n)
}

// Empty reports whether the backing series holds no fixings.
func (ds *GenericDataSource) Empty() bool { return ds.series.Empty() }

// fill computes the policy value for a gap at t.
func (ds *GenericDataSource) fill(t time.Time) (float64, error) {
	if ds.strategy == MissingFail {
		return 0, fmt.Errorf("%w: %s", ErrMissingData, t.Format(time.RFC3339))
	}

	prior := ds.series.LastN(t, 1)
	if len(prior) == 0 {
		return 0, fmt.Errorf("%w: %s is before the first fixing", ErrMissingData, t.Format(time.RFC3339))
	}
	before := prior[0]

	if ds.strategy == MissingFillForward {
		return before.Value, nil
	}

	// Interpolate: linear between the neighbouring fixings, carrying the
	// last value forward once the series is exhausted.
	idx := ds.series.searchFrom(t)
	if idx >= ds.series.Len() {
		return before.Value, nil
	}
	after := ds.series.points[idx]
	span := after.Time.Sub(before.Time).Seconds()
	if span == 0 {
		return before.Value, nil
	}
	frac := t.Sub(before.Time).Seconds() / span
	return before.Value + (after.Value-before.Value)*frac, nil
}
