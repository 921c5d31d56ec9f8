package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dailyAxis(days ...int) []State {
	axis := make([]State, len(days))
	for i, d := range days {
		axis[i] = Date(2021, 1, d)
	}
	return axis
}

// enterAt fires a single order-producing action on one date.
func enterAt(state State, action Action) Trigger {
	return NewDateListTrigger([]State{state}, action)
}

func TestEngineZeroTriggersIsIdentity(t *testing.T) {
	inst := NewInstrument("SPX", "USD")
	engine := NewEngine(newTestHandler(t, inst, map[int]float64{4: 1, 5: 1.5, 6: 2}),
		EngineConfig{InitialCash: 100})

	result, err := engine.Run(context.Background(), dailyAxis(4, 5, 6))
	require.NoError(t, err)

	require.Len(t, result.Snapshots, 3)
	for _, s := range result.Snapshots {
		assert.Equal(t, 100.0, s.Performance)
		assert.Empty(t, s.Holdings)
	}
	assert.Empty(t, result.Fills)
}

func TestEngineMarketOnCloseScenario(t *testing.T) {
	inst := NewInstrument("SPX", "USD")
	engine := NewEngine(newTestHandler(t, inst, map[int]float64{4: 1, 5: 1.5, 6: 2}),
		EngineConfig{InitialCash: 100})

	engine.AddTrigger(enterAt(Date(2021, 1, 5), &EnterPositionAction{
		Instrument: inst, Quantity: 1, Source: "entry",
	}))

	result, err := engine.Run(context.Background(), dailyAxis(4, 5, 6))
	require.NoError(t, err)
	require.Len(t, result.Snapshots, 3)
	require.Empty(t, result.Failures)

	// Day 1: untouched cash.
	assert.Equal(t, 100.0, result.Snapshots[0].Performance)

	// Day 2: filled at the 1.5 close, cash debited, one unit held; the
	// mark at the same close keeps performance flat.
	day2 := result.Snapshots[1]
	assert.InDelta(t, 100.0, day2.Performance, 1e-9)
	assert.InDelta(t, 98.5, day2.Cash, 1e-9)
	assert.Equal(t, 1.0, day2.Holdings[inst])

	// Day 3: the unit marks at 2.0: 100 - 1.5 + 2.
	day3 := result.Snapshots[2]
	assert.InDelta(t, 100.5, day3.Performance, 1e-9)
	assert.InDelta(t, 2.0/100.5, day3.Weights[inst], 1e-9)
}

func TestEngineTWAPRoundTripScenario(t *testing.T) {
	inst := NewInstrument("ESZ1", "USD")
	dm := NewDataManager()
	fixings := NewSeries([]Point{
		// Entry window fixings, mean 16.
		{Time: ts(5, 10), Value: 14},
		{Time: ts(5, 11), Value: 16},
		{Time: ts(5, 12), Value: 18},
		// Exit window fixings, mean 25.
		{Time: ts(5, 14), Value: 24},
		{Time: ts(5, 15), Value: 26},
	})
	require.NoError(t, dm.AddSeries(fixings, MissingFail, FreqRealTime, inst, ValuationPrice))
	engine := NewEngine(NewDataHandler(dm, nil), EngineConfig{InitialCash: 100})

	day1 := At(ts(4, 16))
	open := At(ts(5, 9))
	close_ := At(ts(5, 16))

	engine.AddTrigger(enterAt(open, &AddTradeAction{
		Instrument: inst, Quantity: 1, Kind: OrderTWAP,
		WindowStart: 30 * time.Minute, WindowEnd: 3 * time.Hour, Source: "entry",
	}))
	engine.AddTrigger(enterAt(open, &AddTradeAction{
		Instrument: inst, Quantity: -1, Kind: OrderTWAP,
		WindowStart: 4 * time.Hour, WindowEnd: 6 * time.Hour, Source: "exit",
	}))

	result, err := engine.Run(context.Background(), []State{day1, open, close_})
	require.NoError(t, err)
	require.Empty(t, result.Failures)
	require.Len(t, result.Fills, 2)

	// Bought the mean-16 window, sold the mean-25 window, flat overnight:
	// 100 - 16 + 25 = 109 with no residual holding.
	final := result.Snapshots[2]
	assert.InDelta(t, 109.0, final.Performance, 1e-9)
	assert.Empty(t, final.Holdings)
	assert.InDelta(t, 109.0, final.Cash, 1e-9)
}

func TestEngineRejectsBackwardsAxis(t *testing.T) {
	inst := NewInstrument("SPX", "USD")
	engine := NewEngine(newTestHandler(t, inst, map[int]float64{4: 1, 5: 1.5}),
		EngineConfig{InitialCash: 100})

	_, err := engine.Run(context.Background(), dailyAxis(5, 4))
	assert.ErrorIs(t, err, ErrTimeBackwards)
}

func TestEngineSurvivesPricingFailure(t *testing.T) {
	good := NewInstrument("SPX", "USD")
	bad := NewInstrument("NKY", "JPY")
	dm := NewDataManager()
	require.NoError(t, dm.AddSeries(dailySeries(map[int]float64{4: 1, 5: 1.5}), MissingFail, FreqDaily, good, ValuationPrice))
	require.NoError(t, dm.AddSeries(dailySeries(map[int]float64{4: math.NaN(), 5: math.NaN()}), MissingFail, FreqDaily, bad, ValuationPrice))
	engine := NewEngine(NewDataHandler(dm, nil), EngineConfig{InitialCash: 100})

	engine.AddTrigger(enterAt(Date(2021, 1, 4), &EnterPositionAction{Instrument: good, Quantity: 1, Source: "a"}))
	engine.AddTrigger(enterAt(Date(2021, 1, 4), &EnterPositionAction{Instrument: bad, Quantity: 1, Source: "b"}))

	result, err := engine.Run(context.Background(), dailyAxis(4, 5))
	require.NoError(t, err)

	require.Len(t, result.Fills, 1)
	assert.Equal(t, good, result.Fills[0].Order.Instrument)
	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0].Err, ErrCannotPrice)
}

func TestEngineFlatnessGating(t *testing.T) {
	inst := NewInstrument("SPX", "USD")
	engine := NewEngine(newTestHandler(t, inst, map[int]float64{4: 1, 5: 1, 6: 1}),
		EngineConfig{InitialCash: 100})

	// Trade in on any axis date, but only when flat. Without the gate this
	// would buy every day; with it, only the first day fills and the later
	// entries are suppressed while the position is open.
	everyDay := NewDateListTrigger(dailyAxis(4, 5, 6),
		&EnterPositionAction{Instrument: inst, Quantity: 1, Source: "entry"})
	gated := NewAggregateTrigger(NewPortfolioLenTrigger(0, Equal), everyDay)
	engine.AddTrigger(gated)

	result, err := engine.Run(context.Background(), dailyAxis(4, 5, 6))
	require.NoError(t, err)

	require.Len(t, result.Fills, 1)
	assert.Equal(t, 1.0, result.Snapshots[2].Holdings[inst])
}

func TestEngineNavScaledEntry(t *testing.T) {
	inst := NewInstrument("SPX", "USD")
	engine := NewEngine(newTestHandler(t, inst, map[int]float64{4: 10, 5: 10}),
		EngineConfig{InitialCash: 100})

	// Half the NAV at a price of 10 buys 5 units.
	engine.AddTrigger(enterAt(Date(2021, 1, 5), &EnterPositionAction{
		Instrument: inst, Quantity: 0.5, Scaling: ScaleNAV, Source: "entry",
	}))

	result, err := engine.Run(context.Background(), dailyAxis(4, 5))
	require.NoError(t, err)

	require.Len(t, result.Fills, 1)
	assert.InDelta(t, 5.0, result.Fills[0].Quantity, 1e-9)
	assert.InDelta(t, 100.0, result.Snapshots[1].Performance, 1e-9)
}

func TestEngineCostOrdersDebitCash(t *testing.T) {
	inst := NewInstrument("SPX", "USD")
	engine := NewEngine(newTestHandler(t, inst, map[int]float64{4: 1, 5: 1}),
		EngineConfig{InitialCash: 100, Currency: "USD"})

	engine.AddTrigger(NewDateListTrigger(dailyAxis(4, 5),
		&FeeAction{Cash: engine.CashAsset(), Amount: -0.25, Source: "servicing"}))

	result, err := engine.Run(context.Background(), dailyAxis(4, 5))
	require.NoError(t, err)

	assert.InDelta(t, 99.75, result.Snapshots[0].Performance, 1e-9)
	assert.InDelta(t, 99.5, result.Snapshots[1].Performance, 1e-9)
}

func TestEngineHedgeAction(t *testing.T) {
	target := NewInstrument("SPX", "USD")
	hedge := NewInstrument("SPX FWD", "USD")
	dm := NewDataManager()
	require.NoError(t, dm.AddSeries(dailySeries(map[int]float64{4: 10, 5: 10}), MissingFail, FreqDaily, target, ValuationPrice))
	require.NoError(t, dm.AddSeries(dailySeries(map[int]float64{4: 10, 5: 10}), MissingFail, FreqDaily, hedge, ValuationPrice))
	engine := NewEngine(NewDataHandler(dm, nil), EngineConfig{InitialCash: 100})

	engine.AddTrigger(enterAt(Date(2021, 1, 4), &EnterPositionAction{Instrument: target, Quantity: 2, Source: "entry"}))
	engine.AddTrigger(enterAt(Date(2021, 1, 5), &HedgeAction{Target: target, Hedge: hedge, Ratio: 1, Source: "hedge"}))

	result, err := engine.Run(context.Background(), dailyAxis(4, 5))
	require.NoError(t, err)

	final := result.Snapshots[1]
	assert.Equal(t, 2.0, final.Holdings[target])
	assert.Equal(t, -2.0, final.Holdings[hedge])
}

func TestEngineStrategyRiskFlow(t *testing.T) {
	inst := NewInstrument("SPX", "USD")
	engine := NewEngine(newTestHandler(t, inst, map[int]float64{4: 10, 5: 20, 6: 30}),
		EngineConfig{InitialCash: 100})

	// Record the instrument's price as a synthetic risk measure, and exit
	// everything once it crosses 25.
	engine.AddRiskCalculator(RiskCalculator{
		Measure: "level",
		Calc: func(state State, _ BacktestView, h *DataHandler) (float64, error) {
			return h.GetData(state, inst, ValuationPrice)
		},
	})
	engine.AddTrigger(enterAt(Date(2021, 1, 4), &EnterPositionAction{Instrument: inst, Quantity: 1, Source: "entry"}))
	engine.AddTrigger(NewStrategyRiskTrigger("level", 25, Above, &ExitPositionAction{Source: "exit"}))

	result, err := engine.Run(context.Background(), dailyAxis(4, 5, 6))
	require.NoError(t, err)

	// Bought at 10, sold at 30: 100 - 10 + 30 = 120.
	final := result.Snapshots[2]
	assert.Empty(t, final.Holdings)
	assert.InDelta(t, 120.0, final.Performance, 1e-9)
}

func TestEngineContextCancellation(t *testing.T) {
	inst := NewInstrument("SPX", "USD")
	engine := NewEngine(newTestHandler(t, inst, map[int]float64{4: 1}),
		EngineConfig{InitialCash: 100})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx, dailyAxis(4))
	assert.ErrorIs(t, err, context.Canceled)
}
