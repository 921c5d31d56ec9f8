// Strategy actions: what happens when a trigger fires
package backtest

import (
	"fmt"
	"time"
)

// Action is a unit of strategy logic. When its trigger fires, it turns the
// current state and a read-only view of the run into zero or more orders.
// Actions never mutate the ledger; only fills applied by the driver do.
type Action interface {
	GenerateOrders(state State, view BacktestView, h *DataHandler) ([]*Order, error)
	Name() string
}

// Scaling selects how an action's quantity is interpreted.
type Scaling string

const (
	// ScaleQuantity treats the quantity as units of the instrument.
	ScaleQuantity Scaling = "quantity"
	// ScaleNAV treats the quantity as a fraction of current NAV, converted
	// to units at the instrument's current price.
	ScaleNAV Scaling = "nav"
)

// marketOrder builds the natural immediate order for the axis granularity:
// market-on-close on a date axis, at-market on a datetime axis.
func marketOrder(state State, inst Instrument, quantity float64, source string) *Order {
	if state.IsDate() {
		return NewMarketOnCloseOrder(inst, quantity, state.Time(), state.Time(), source)
	}
	return NewAtMarketOrder(inst, quantity, state.Time(), state.Time(), source)
}

// scaledQuantity converts an action quantity to units under the given
// scaling, reading the current price through the handler when needed.
func scaledQuantity(state State, view BacktestView, h *DataHandler, inst Instrument, quantity float64, scaling Scaling) (float64, error) {
	switch scaling {
	case ScaleQuantity, "":
		return quantity, nil
	case ScaleNAV:
		price, err := h.GetData(state, inst, ValuationPrice)
		if err != nil {
			return 0, fmt.Errorf("nav scaling for %q: %w", inst.Name, err)
		}
		if price == 0 {
			return 0, fmt.Errorf("nav scaling for %q: price is zero at %s", inst.Name, state)
		}
		return view.NAV() * quantity / price, nil
	}
	return 0, fmt.Errorf("unknown scaling %q", scaling)
}

// ============================================================================
// ENTER / EXIT
// ============================================================================

// EnterPositionAction opens a position in one instrument, sized either in
// units or as a fraction of NAV.
type EnterPositionAction struct {
	Instrument Instrument
	Quantity   float64
	Scaling    Scaling
	Source     string
}

func (a *EnterPositionAction) GenerateOrders(state State, view BacktestView, h *DataHandler) ([]*Order, error) {
	units, err := scaledQuantity(state, view, h, a.Instrument, a.Quantity, a.Scaling)
	if err != nil {
		return nil, err
	}
	return []*Order{marketOrder(state, a.Instrument, units, a.Source)}, nil
}

func (a *EnterPositionAction) Name() string { return "enter_position" }

// ExitPositionAction closes every open position.
type ExitPositionAction struct {
	Source string
}

func (a *ExitPositionAction) GenerateOrders(state State, view BacktestView, _ *DataHandler) ([]*Order, error) {
	var orders []*Order
	for inst, qty := range view.Holdings() {
		if qty == 0 {
			continue
		}
		orders = append(orders, marketOrder(state, inst, -qty, a.Source))
	}
	return orders, nil
}

func (a *ExitPositionAction) Name() string { return "exit_position" }

// ExitTradeAction closes the position in one instrument, if any.
type ExitTradeAction struct {
	Instrument Instrument
	Source     string
}

func (a *ExitTradeAction) GenerateOrders(state State, view BacktestView, _ *DataHandler) ([]*Order, error) {
	qty := view.Holding(a.Instrument)
	if qty == 0 {
		return nil, nil
	}
	return []*Order{marketOrder(state, a.Instrument, -qty, a.Source)}, nil
}

func (a *ExitTradeAction) Name() string { return "exit_trade" }

// ============================================================================
// ADD TRADE
// ============================================================================

// AddTradeAction adds a trade of a given order kind each time it fires.
// For TWAP kinds the execution window is anchored to the firing state via
// start and end offsets.
type AddTradeAction struct {
	Instrument  Instrument
	Quantity    float64
	Scaling     Scaling
	Kind        OrderKind
	WindowStart time.Duration // twap: window start offset from state
	WindowEnd   time.Duration // twap: window end offset from state
	Btic        Instrument    // btic_twap only
	Underlying  Instrument    // btic_twap only
	Source      string
}

func (a *AddTradeAction) GenerateOrders(state State, view BacktestView, h *DataHandler) ([]*Order, error) {
	units, err := scaledQuantity(state, view, h, a.Instrument, a.Quantity, a.Scaling)
	if err != nil {
		return nil, err
	}

	at := state.Time()
	switch a.Kind {
	case OrderMarketOnClose, "":
		return []*Order{NewMarketOnCloseOrder(a.Instrument, units, at, at, a.Source)}, nil
	case OrderAtMarket:
		return []*Order{NewAtMarketOrder(a.Instrument, units, at, at, a.Source)}, nil
	case OrderTWAP:
		w := Window{Start: at.Add(a.WindowStart), End: at.Add(a.WindowEnd)}
		return []*Order{NewTWAPOrder(a.Instrument, units, w, at, a.Source)}, nil
	case OrderBticTwap:
		w := Window{Start: at.Add(a.WindowStart), End: at.Add(a.WindowEnd)}
		return []*Order{NewBticTwapOrder(a.Instrument, units, w, a.Btic, a.Underlying, at, a.Source)}, nil
	}
	return nil, fmt.Errorf("add trade: unsupported order kind %q", a.Kind)
}

func (a *AddTradeAction) Name() string { return "add_trade" }

// AddScaledTradeAction adds a trade sized as a fraction of current NAV.
type AddScaledTradeAction struct {
	Instrument  Instrument
	Fraction    float64
	Kind        OrderKind
	WindowStart time.Duration
	WindowEnd   time.Duration
	Source      string
}

func (a *AddScaledTradeAction) GenerateOrders(state State, view BacktestView, h *DataHandler) ([]*Order, error) {
	trade := AddTradeAction{
		Instrument:  a.Instrument,
		Quantity:    a.Fraction,
		Scaling:     ScaleNAV,
		Kind:        a.Kind,
		WindowStart: a.WindowStart,
		WindowEnd:   a.WindowEnd,
		Source:      a.Source,
	}
	return trade.GenerateOrders(state, view, h)
}

func (a *AddScaledTradeAction) Name() string { return "add_scaled_trade" }

// ============================================================================
// HEDGE
// ============================================================================

// HedgeAction delta-hedges the position in Target with a synthetic forward
// proxied by Hedge: it trades -Ratio times the current target holding.
type HedgeAction struct {
	Target Instrument
	Hedge  Instrument
	Ratio  float64
	Source string
}

func (a *HedgeAction) GenerateOrders(state State, view BacktestView, _ *DataHandler) ([]*Order, error) {
	qty := -a.Ratio * view.Holding(a.Target)
	if qty == 0 {
		return nil, nil
	}
	return []*Order{marketOrder(state, a.Hedge, qty, a.Source)}, nil
}

func (a *HedgeAction) Name() string { return "hedge" }

// ============================================================================
// FEES
// ============================================================================

// FeeAction books a recurring servicing fee as a cost order against the
// cash asset. Amount is signed: negative debits the ledger.
type FeeAction struct {
	Cash   Instrument
	Amount float64
	Source string
}

func (a *FeeAction) GenerateOrders(state State, _ BacktestView, _ *DataHandler) ([]*Order, error) {
	return []*Order{NewCostOrder(a.Cash, a.Amount, state.Time(), state.Time(), a.Source)}, nil
}

func (a *FeeAction) Name() string { return "fee" }
