package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newIntradayHandler serves a real-time price series for inst.
func newIntradayHandler(t *testing.T, inst Instrument, points []Point) *DataHandler {
	t.Helper()
	dm := NewDataManager()
	require.NoError(t, dm.AddSeries(NewSeries(points), MissingFail, FreqRealTime, inst, ValuationPrice))
	return NewDataHandler(dm, nil)
}

func TestMarketOnCloseOrderEndTime(t *testing.T) {
	inst := NewInstrument("SPX", "USD")

	// End time is 23:00 on the execution date regardless of generation time.
	generated := time.Date(2021, 1, 5, 9, 17, 0, 0, time.UTC)
	order := NewMarketOnCloseOrder(inst, 1, time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC), generated, "test")

	assert.Equal(t, time.Date(2021, 1, 5, 23, 0, 0, 0, time.UTC), order.ExecutionEndTime())
}

func TestMarketOnCloseOrderPricing(t *testing.T) {
	inst := NewInstrument("SPX", "USD")
	h := newTestHandler(t, inst, map[int]float64{5: 1.5})
	require.NoError(t, h.Update(Date(2021, 1, 5)))

	order := NewMarketOnCloseOrder(inst, 2, Date(2021, 1, 5).Time(), Date(2021, 1, 5).Time(), "test")

	price, err := order.ExecutionPrice(h)
	require.NoError(t, err)
	assert.Equal(t, 1.5, price)

	notional, err := order.ExecutionNotional(h)
	require.NoError(t, err)
	assert.Equal(t, 3.0, notional)
}

func TestTWAPOrderPricing(t *testing.T) {
	inst := NewInstrument("ESZ1", "USD")
	h := newIntradayHandler(t, inst, []Point{
		{Time: ts(5, 10), Value: 14},
		{Time: ts(5, 11), Value: 16},
		{Time: ts(5, 12), Value: 18},
		{Time: ts(5, 13), Value: 99}, // outside the window
	})
	require.NoError(t, h.Update(At(ts(5, 12))))

	// Window (09:00, 12:00]: the 10:00, 11:00 and 12:00 fixings.
	w := Window{Start: ts(5, 9), End: ts(5, 12)}
	order := NewTWAPOrder(inst, 1, w, ts(5, 9), "test")

	assert.Equal(t, w.End, order.ExecutionEndTime())

	price, err := order.ExecutionPrice(h)
	require.NoError(t, err)
	assert.InDelta(t, 16.0, price, 1e-9)
}

func TestTWAPOrderEmptyWindow(t *testing.T) {
	inst := NewInstrument("ESZ1", "USD")
	h := newIntradayHandler(t, inst, []Point{{Time: ts(5, 14), Value: 10}})
	require.NoError(t, h.Update(At(ts(5, 12))))

	order := NewTWAPOrder(inst, 1, Window{Start: ts(5, 9), End: ts(5, 12)}, ts(5, 9), "test")

	_, err := order.ExecutionPrice(h)
	assert.ErrorIs(t, err, ErrCannotPrice)
}

func TestAtMarketOrderPricing(t *testing.T) {
	inst := NewInstrument("ESZ1", "USD")
	h := newIntradayHandler(t, inst, []Point{{Time: ts(5, 10), Value: 42}})
	require.NoError(t, h.Update(At(ts(5, 10))))

	order := NewAtMarketOrder(inst, -3, ts(5, 10), ts(5, 10), "test")

	assert.Equal(t, ts(5, 10), order.ExecutionEndTime())
	price, err := order.ExecutionPrice(h)
	require.NoError(t, err)
	assert.Equal(t, 42.0, price)
}

func TestCostOrderAlwaysPricesZero(t *testing.T) {
	cash := CashAsset("USD")
	h := NewDataHandler(NewDataManager(), nil)
	require.NoError(t, h.Update(At(ts(5, 10))))

	order := NewCostOrder(cash, -0.25, ts(5, 10), ts(5, 10), "fees")

	price, err := order.ExecutionPrice(h)
	require.NoError(t, err)
	assert.Equal(t, 0.0, price)
	assert.Equal(t, -0.25, order.ExecutionQuantity())
}

func TestBticTwapOrderPricing(t *testing.T) {
	future := NewInstrument("ESZ1", "USD")
	btic := NewInstrument("ESZ1 BTIC", "USD")
	underlying := NewInstrument("SPX", "USD")

	dm := NewDataManager()
	bticFixings := NewSeries([]Point{
		{Time: ts(5, 10), Value: 2},
		{Time: ts(5, 11), Value: 4},
	})
	require.NoError(t, dm.AddSeries(bticFixings, MissingFail, FreqRealTime, btic, ValuationPrice))
	require.NoError(t, dm.AddSeries(dailySeries(map[int]float64{5: 3750}), MissingFail, FreqDaily, underlying, ValuationPrice))
	h := NewDataHandler(dm, nil)
	require.NoError(t, h.Update(At(ts(5, 11))))

	w := Window{Start: ts(5, 9), End: ts(5, 11)}
	order := NewBticTwapOrder(future, 1, w, btic, underlying, ts(5, 9), "test")

	// TWAP of the basis (3) plus the underlying close (3750).
	price, err := order.ExecutionPrice(h)
	require.NoError(t, err)
	assert.InDelta(t, 3753.0, price, 1e-9)
}

func TestOrderPriceNaNIsAnError(t *testing.T) {
	inst := NewInstrument("SPX", "USD")
	h := newTestHandler(t, inst, map[int]float64{5: math.NaN()})
	require.NoError(t, h.Update(Date(2021, 1, 5)))

	order := NewMarketOnCloseOrder(inst, 1, Date(2021, 1, 5).Time(), Date(2021, 1, 5).Time(), "test")

	_, err := order.ExecutionPrice(h)
	assert.ErrorIs(t, err, ErrCannotPrice)
}

func TestOrderPriceIsMemoized(t *testing.T) {
	inst := NewInstrument("SPX", "USD")
	h := newTestHandler(t, inst, map[int]float64{5: 1.5})
	require.NoError(t, h.Update(Date(2021, 1, 5)))

	order := NewMarketOnCloseOrder(inst, 1, Date(2021, 1, 5).Time(), Date(2021, 1, 5).Time(), "test")
	first, err := order.ExecutionPrice(h)
	require.NoError(t, err)

	// A memoized price survives the clock moving on, even past the point
	// where a fresh read would be refused.
	h.Reset()
	second, err := order.ExecutionPrice(h)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
