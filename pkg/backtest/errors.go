package backtest

import "errors"

// Sentinel errors for the failure taxonomy. Temporal and configuration
// errors are fatal to a run; pricing errors are contained per order by the
// execution engine.
var (
	// ErrTimeBackwards is returned when the clock is asked to move to an
	// earlier simulation time.
	ErrTimeBackwards = errors.New("backtest cannot run backwards")

	// ErrLookahead is returned when data is requested for a time strictly
	// after the current simulation time.
	ErrLookahead = errors.New("lookahead: requested time is after current simulation time")

	// ErrMissingData is returned when a series has no value at the
	// requested time and the source's policy does not allow filling.
	ErrMissingData = errors.New("no data at requested time")

	// ErrCannotPrice is returned when an order's execution price resolves
	// to NaN or cannot be computed at all.
	ErrCannotPrice = errors.New("cannot compute execution price")

	// ErrDuplicateSource is returned when a data source is registered
	// twice under the same (frequency, key, valuation) triple.
	ErrDuplicateSource = errors.New("data source already registered")

	// ErrUnkeyedInstrument is returned when an instrument without a data
	// key is used to register or look up a series.
	ErrUnkeyedInstrument = errors.New("instrument has no data key")

	// ErrMixedRangeTypes is returned when a range query mixes a pure date
	// with a datetime endpoint.
	ErrMixedRangeTypes = errors.New("range endpoints must both be dates or both be datetimes")

	// ErrUnknownStrategy is returned for an unrecognized missing-data
	// strategy at source construction time.
	ErrUnknownStrategy = errors.New("unknown missing data strategy")
)
