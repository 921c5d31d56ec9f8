// Lookahead-safe gateway to market data
package backtest

import (
	"fmt"
	"time"
)

// DataHandler composes a Clock with a DataManager and is the sole gateway
// the rest of the engine uses to read market data: every read is checked
// against the clock first, so no trigger, action or order pricing path can
// observe data from the future.
type DataHandler struct {
	clock *Clock
	data  *DataManager
	loc   *time.Location
}

// NewDataHandler builds a handler around a populated DataManager. Wall
// clock times parsed without an explicit zone are interpreted in loc; nil
// means UTC.
func NewDataHandler(dm *DataManager, loc *time.Location) *DataHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &DataHandler{clock: NewClock(), data: dm, loc: loc}
}

// Clock exposes the handler's clock for inspection.
func (h *DataHandler) Clock() *Clock { return h.clock }

// Location returns the handler's wall-clock location.
func (h *DataHandler) Location() *time.Location { return h.loc }

// Update advances the simulation clock.
func (h *DataHandler) Update(state State) error {
	return h.clock.Update(state)
}

// Reset restores the clock sentinel between independent runs.
func (h *DataHandler) Reset() { h.clock.Reset() }

// GetData resolves one value, failing on lookahead before any series is
// consulted.
func (h *DataHandler) GetData(state State, inst Instrument, valuation ValuationType) (float64, error) {
	if err := h.clock.TimeCheck(state); err != nil {
		return 0, err
	}
	return h.data.GetData(h.normalize(state), inst, valuation)
}

// GetDataRange returns the fixings with start < t <= end. The endpoints
// must both be dates or both datetimes, and the end is lookahead-checked.
func (h *DataHandler) GetDataRange(start, end State, inst Instrument, valuation ValuationType) ([]Point, error) {
	if start.IsDate() != end.IsDate() {
		return nil, fmt.Errorf("%w: start %s, end %s", ErrMixedRangeTypes, start, end)
	}
	if err := h.clock.TimeCheck(end); err != nil {
		return nil, err
	}
	return h.data.GetDataRange(h.normalize(start), h.normalize(end), inst, valuation)
}

// GetDataLast returns the last n fixings at or before state.
func (h *DataHandler) GetDataLast(state State, n int, inst Instrument, valuation ValuationType) ([]Point, error) {
	if err := h.clock.TimeCheck(state); err != nil {
		return nil, err
	}
	return h.data.GetDataLast(h.normalize(state), n, inst, valuation)
}

// normalize rebinds a datetime state to UTC. Pure dates carry no timezone
// and pass through unchanged.
func (h *DataHandler) normalize(s State) State {
	if s.IsDate() {
		return s
	}
	return At(s.Time())
}
