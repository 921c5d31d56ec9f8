// Time-indexed fixing series
package backtest

import (
	"sort"
	"time"
)

// Point is a single observed fixing.
type Point struct {
	Time  time.Time
	Value float64
}

// Series is a sorted, time-indexed sequence of fixings. It is immutable
// after construction: missing-data resolution never writes back into a
// Series (see GenericDataSource's resolved cache).
type Series struct {
	points []Point
}

// NewSeries copies and sorts the given points into a Series. Timestamps
// are normalized to UTC.
func NewSeries(points []Point) Series {
	ps := make([]Point, len(points))
	copy(ps, points)
	for i := range ps {
		ps[i].Time = ps[i].Time.UTC()
	}
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Time.Before(ps[j].Time) })
	return Series{points: ps}
}

// SeriesFromMap builds a Series from a timestamp → value map.
func SeriesFromMap(m map[time.Time]float64) Series {
	ps := make([]Point, 0, len(m))
	for t, v := range m {
		ps = append(ps, Point{Time: t, Value: v})
	}
	return NewSeries(ps)
}

// Len returns the number of fixings.
func (s Series) Len() int { return len(s.points) }

// Empty reports whether the series holds no fixings.
func (s Series) Empty() bool { return len(s.points) == 0 }

// Points returns a copy of the underlying fixings.
func (s Series) Points() []Point {
	ps := make([]Point, len(s.points))
	copy(ps, s.points)
	return ps
}

// At returns the fixing observed exactly at t.
func (s Series) At(t time.Time) (float64, bool) {
	t = t.UTC()
	i := s.searchFrom(t)
	if i < len(s.points) && s.points[i].Time.Equal(t) {
		return s.points[i].Value, true
	}
	return 0, false
}

// Range returns the fixings with start < t <= end.
func (s Series) Range(start, end time.Time) []Point {
	start, end = start.UTC(), end.UTC()
	lo := sort.Search(len(s.points), func(i int) bool { return s.points[i].Time.After(start) })
	hi := sort.Search(len(s.points), func(i int) bool { return s.points[i].Time.After(end) })
	out := make([]Point, hi-lo)
	copy(out, s.points[lo:hi])
	return out
}

// LastN returns the last n fixings with t <= upTo, oldest first. Fewer
// than n are returned when the history is shorter.
func (s Series) LastN(upTo time.Time, n int) []Point {
	hi := sort.Search(len(s.points), func(i int) bool { return s.points[i].Time.After(upTo.UTC()) })
	lo := hi - n
	if lo < 0 {
		lo = 0
	}
	out := make([]Point, hi-lo)
	copy(out, s.points[lo:hi])
	return out
}

// searchFrom returns the index of the first fixing at or after t.
func (s Series) searchFrom(t time.Time) int {
	return sort.Search(len(s.points), func(i int) bool { return !s.points[i].Time.Before(t) })
}
