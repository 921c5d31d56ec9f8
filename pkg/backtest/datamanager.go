// Registry of named, frequency-keyed data sources
package backtest

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

type sourceKey struct {
	freq      Frequency
	dataKey   string
	valuation ValuationType
}

// DataManager holds every series a backtest can read, keyed by frequency,
// instrument data key and valuation type. It is populated before the run
// and never mutated concurrently.
type DataManager struct {
	sources map[sourceKey]DataSource
}

// NewDataManager returns an empty registry.
func NewDataManager() *DataManager {
	return &DataManager{sources: make(map[sourceKey]DataSource)}
}

// AddSeries wraps a raw series in a GenericDataSource and registers it. An
// empty raw series is skipped with a warning rather than registered: there
// is nothing it could ever serve. Registration fails for an unkeyed
// instrument or a duplicate key.
func (dm *DataManager) AddSeries(s Series, strategy MissingDataStrategy, freq Frequency, inst Instrument, valuation ValuationType) error {
	if s.Empty() {
		log.Warn().Str("instrument", inst.Name).Str("frequency", string(freq)).
			Msg("Skipping empty series registration")
		return nil
	}
	ds, err := NewGenericDataSource(s, strategy)
	if err != nil {
		return err
	}
	return dm.AddSource(ds, freq, inst, valuation)
}

// AddSource registers an already-built DataSource. Unlike AddSeries there
// is no empty check: a caller-provided source may be lazily backed and
// only appear empty before its first load.
func (dm *DataManager) AddSource(ds DataSource, freq Frequency, inst Instrument, valuation ValuationType) error {
	if inst.DataKey == "" {
		return fmt.Errorf("%w: %q", ErrUnkeyedInstrument, inst.Name)
	}
	key := sourceKey{freq: freq, dataKey: inst.DataKey, valuation: valuation}
	if _, exists := dm.sources[key]; exists {
		return fmt.Errorf("%w: %s/%s/%s", ErrDuplicateSource, freq, inst.DataKey, valuation)
	}
	dm.sources[key] = ds

	log.Debug().Str("instrument", inst.Name).Str("key", inst.DataKey).
		Str("frequency", string(freq)).Str("valuation", string(valuation)).
		Msg("Registered data source")
	return nil
}

// GetData resolves the instrument's value at state. Daily series serve
// pure-date states; real-time series serve datetime states.
func (dm *DataManager) GetData(state State, inst Instrument, valuation ValuationType) (float64, error) {
	ds, err := dm.source(state.Frequency(), inst, valuation)
	if err != nil {
		return 0, err
	}
	return ds.Value(state.Time())
}

// GetDataRange returns the fixings with start < t <= end.
func (dm *DataManager) GetDataRange(start, end State, inst Instrument, valuation ValuationType) ([]Point, error) {
	ds, err := dm.source(start.Frequency(), inst, valuation)
	if err != nil {
		return nil, err
	}
	return ds.RangeValues(start.Time(), end.Time()), nil
}

// GetDataLast returns the last n fixings at or before state.
func (dm *DataManager) GetDataLast(state State, n int, inst Instrument, valuation ValuationType) ([]Point, error) {
	ds, err := dm.source(state.Frequency(), inst, valuation)
	if err != nil {
		return nil, err
	}
	return ds.LastN(state.Time(), n), nil
}

func (dm *DataManager) source(freq Frequency, inst Instrument, valuation ValuationType) (DataSource, error) {
	if inst.DataKey == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnkeyedInstrument, inst.Name)
	}
	ds, ok := dm.sources[sourceKey{freq: freq, dataKey: inst.DataKey, valuation: valuation}]
	if !ok {
		return nil, fmt.Errorf("%w: no %s %s series for %q", ErrMissingData, freq, valuation, inst.DataKey)
	}
	return ds, nil
}
