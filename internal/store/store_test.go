package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/marketsim/pkg/backtest"
)

func day(d int) time.Time {
	return time.Date(2021, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestLoadSeries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"fixing_time", "value"}).
		AddRow(day(4), 100.0).
		AddRow(day(5), 101.5)
	mock.ExpectQuery("SELECT fixing_time, value").
		WithArgs("SPX", "daily", "price", day(1), day(31)).
		WillReturnRows(rows)

	store := NewFixingStore(mock)
	series, err := store.LoadSeries(context.Background(), "SPX",
		backtest.FreqDaily, backtest.ValuationPrice, day(1), day(31))
	require.NoError(t, err)

	assert.Equal(t, 2, series.Len())
	v, ok := series.At(day(5))
	require.True(t, ok)
	assert.Equal(t, 101.5, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSeriesEmptyResult(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT fixing_time, value").
		WithArgs("SPX", "daily", "price", day(1), day(31)).
		WillReturnRows(pgxmock.NewRows([]string{"fixing_time", "value"}))

	store := NewFixingStore(mock)
	series, err := store.LoadSeries(context.Background(), "SPX",
		backtest.FreqDaily, backtest.ValuationPrice, day(1), day(31))
	require.NoError(t, err)
	assert.True(t, series.Empty())
}

func TestLoadSeriesQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT fixing_time, value").
		WillReturnError(errors.New("connection refused"))

	store := NewFixingStore(mock)
	_, err = store.LoadSeries(context.Background(), "SPX",
		backtest.FreqDaily, backtest.ValuationPrice, day(1), day(31))
	assert.Error(t, err)
}

func TestLoadInstruments(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.MatchExpectationsInOrder(false)

	spx := backtest.NewInstrument("SPX", "USD")
	ndx := backtest.NewInstrument("NDX", "USD")

	mock.ExpectQuery("SELECT fixing_time, value").
		WithArgs("SPX", "daily", "price", day(1), day(31)).
		WillReturnRows(pgxmock.NewRows([]string{"fixing_time", "value"}).AddRow(day(4), 100.0))
	mock.ExpectQuery("SELECT fixing_time, value").
		WithArgs("NDX", "daily", "price", day(1), day(31)).
		WillReturnRows(pgxmock.NewRows([]string{"fixing_time", "value"}).AddRow(day(4), 200.0))

	dm := backtest.NewDataManager()
	store := NewFixingStore(mock)
	err = store.LoadInstruments(context.Background(), dm,
		[]backtest.Instrument{spx, ndx},
		backtest.FreqDaily, backtest.ValuationPrice, backtest.MissingFail,
		day(1), day(31))
	require.NoError(t, err)

	v, err := dm.GetData(backtest.Date(2021, 1, 4), spx, backtest.ValuationPrice)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	v, err = dm.GetData(backtest.Date(2021, 1, 4), ndx, backtest.ValuationPrice)
	require.NoError(t, err)
	assert.Equal(t, 200.0, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadInstrumentsAbortsOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.MatchExpectationsInOrder(false)

	spx := backtest.NewInstrument("SPX", "USD")
	ndx := backtest.NewInstrument("NDX", "USD")

	mock.ExpectQuery("SELECT fixing_time, value").
		WithArgs("SPX", "daily", "price", day(1), day(31)).
		WillReturnRows(pgxmock.NewRows([]string{"fixing_time", "value"}).AddRow(day(4), 100.0))
	mock.ExpectQuery("SELECT fixing_time, value").
		WithArgs("NDX", "daily", "price", day(1), day(31)).
		WillReturnError(errors.New("relation does not exist"))

	dm := backtest.NewDataManager()
	store := NewFixingStore(mock)
	err = store.LoadInstruments(context.Background(), dm,
		[]backtest.Instrument{spx, ndx},
		backtest.FreqDaily, backtest.ValuationPrice, backtest.MissingFail,
		day(1), day(31))
	assert.ErrorContains(t, err, "NDX")
}
