// Order variants and execution pricing
package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// ORDER KINDS
// ============================================================================

// OrderKind is the closed set of order variants. Dispatch over kinds is
// exhaustive: an unknown kind is a construction-time error, not a runtime
// abstract-method failure.
type OrderKind string

const (
	// OrderMarketOnClose fills at the instrument's end-of-day price on a
	// given date.
	OrderMarketOnClose OrderKind = "market_on_close"
	// OrderTWAP fills at the mean of the fixings observed over a window.
	OrderTWAP OrderKind = "twap"
	// OrderAtMarket fills at the price observed at one datetime.
	OrderAtMarket OrderKind = "at_market"
	// OrderCost represents a transaction cost or servicing fee: a cash
	// movement that always prices at zero.
	OrderCost OrderKind = "cost"
	// OrderBticTwap fills at a separately-fixed TWAP benchmark plus the
	// close of the future's underlying, the basis-trade-at-index-close
	// execution convention.
	OrderBticTwap OrderKind = "btic_twap"
)

// mocFillHour is the time of day a market-on-close order becomes eligible
// to fill, regardless of when it was generated.
const mocFillHour = 23

// Window is a half-open execution window (start, end].
type Window struct {
	Start time.Time
	End   time.Time
}

// ============================================================================
// ORDER
// ============================================================================

// Order is a pending transaction. An order moves through three states:
// generated (no price yet), priced (execution price memoized) and filled
// (consumed by the execution engine). It is never re-submitted.
type Order struct {
	ID         uuid.UUID
	Kind       OrderKind
	Instrument Instrument
	Quantity   float64 // signed: positive buys, negative sells
	Generated  time.Time
	Source     string

	// Variant data. Exactly the fields for Kind are set.
	ExecutionDate time.Time  // market_on_close
	Window        Window     // twap, btic_twap
	ExecutionTime time.Time  // at_market, cost
	Btic          Instrument // btic_twap: separately-fixed TWAP benchmark
	Underlying    Instrument // btic_twap: close-price leg

	executedPrice *float64
}

// NewMarketOnCloseOrder creates an order that fills at executionDate's
// end-of-day price.
func NewMarketOnCloseOrder(inst Instrument, quantity float64, executionDate time.Time, generated time.Time, source string) *Order {
	return &Order{
		ID:            uuid.New(),
		Kind:          OrderMarketOnClose,
		Instrument:    inst,
		Quantity:      quantity,
		Generated:     generated,
		Source:        source,
		ExecutionDate: executionDate.UTC(),
	}
}

// NewTWAPOrder creates an order that fills at the mean fixing over window.
func NewTWAPOrder(inst Instrument, quantity float64, window Window, generated time.Time, source string) *Order {
	return &Order{
		ID:         uuid.New(),
		Kind:       OrderTWAP,
		Instrument: inst,
		Quantity:   quantity,
		Generated:  generated,
		Source:     source,
		Window:     window,
	}
}

// NewAtMarketOrder creates an order that fills at the price observed at
// the given datetime.
func NewAtMarketOrder(inst Instrument, quantity float64, at time.Time, generated time.Time, source string) *Order {
	return &Order{
		ID:            uuid.New(),
		Kind:          OrderAtMarket,
		Instrument:    inst,
		Quantity:      quantity,
		Generated:     generated,
		Source:        source,
		ExecutionTime: at.UTC(),
	}
}

// NewCostOrder creates a cash cost or fee. Quantity is the signed cash
// amount in the cash asset's currency; the price is always zero.
func NewCostOrder(cash Instrument, amount float64, at time.Time, generated time.Time, source string) *Order {
	return &Order{
		ID:            uuid.New(),
		Kind:          OrderCost,
		Instrument:    cash,
		Quantity:      amount,
		Generated:     generated,
		Source:        source,
		ExecutionTime: at.UTC(),
	}
}

// NewBticTwapOrder creates a futures order executed relative to basis
// traded in close: the TWAP of the btic series over the window plus the
// underlying's close on the window's end date.
func NewBticTwapOrder(inst Instrument, quantity float64, window Window, btic, underlying Instrument, generated time.Time, source string) *Order {
	return &Order{
		ID:         uuid.New(),
		Kind:       OrderBticTwap,
		Instrument: inst,
		Quantity:   quantity,
		Generated:  generated,
		Source:     source,
		Window:     window,
		Btic:       btic,
		Underlying: underlying,
	}
}

// ============================================================================
// EXECUTION SEMANTICS
// ============================================================================

// ExecutionEndTime is when the order becomes eligible to fill.
func (o *Order) ExecutionEndTime() time.Time {
	switch o.Kind {
	case OrderMarketOnClose:
		y, m, d := o.ExecutionDate.Date()
		return time.Date(y, m, d, mocFillHour, 0, 0, 0, time.UTC)
	case OrderTWAP, OrderBticTwap:
		return o.Window.End
	case OrderAtMarket, OrderCost:
		return o.ExecutionTime
	}
	return time.Time{}
}

// ExecutionQuantity is the signed quantity the fill applies.
func (o *Order) ExecutionQuantity() float64 { return o.Quantity }

// ExecutionPrice resolves and memoizes the order's execution price. A
// price that resolves to NaN surfaces as a hard error so that data gaps
// never silently price at zero.
func (o *Order) ExecutionPrice(h *DataHandler) (float64, error) {
	if o.executedPrice != nil {
		return *o.executedPrice, nil
	}

	price, err := o.price(h)
	if err != nil {
		return 0, fmt.Errorf("%w for %s order %s: %v", ErrCannotPrice, o.Kind, o.ID, err)
	}
	if math.IsNaN(price) {
		return 0, fmt.Errorf("%w for %s order %s: price is NaN", ErrCannotPrice, o.Kind, o.ID)
	}

	o.executedPrice = &price
	return price, nil
}

// ExecutionNotional is price times quantity.
func (o *Order) ExecutionNotional(h *DataHandler) (float64, error) {
	price, err := o.ExecutionPrice(h)
	if err != nil {
		return 0, err
	}
	return price * o.Quantity, nil
}

func (o *Order) price(h *DataHandler) (float64, error) {
	switch o.Kind {
	case OrderMarketOnClose:
		return h.GetData(DateOf(o.ExecutionDate), o.Instrument, ValuationPrice)
	case OrderTWAP:
		return twap(h, o.Instrument, o.Window)
	case OrderAtMarket:
		return h.GetData(At(o.ExecutionTime), o.Instrument, ValuationPrice)
	case OrderCost:
		return 0, nil
	case OrderBticTwap:
		basis, err := twap(h, o.Btic, o.Window)
		if err != nil {
			return 0, err
		}
		close_, err := h.GetData(DateOf(o.Window.End), o.Underlying, ValuationPrice)
		if err != nil {
			return 0, err
		}
		return basis + close_, nil
	}
	return 0, fmt.Errorf("unknown order kind %q", o.Kind)
}

// twap averages the fixings with window.Start < t <= window.End. An empty
// window is an error: the mean of nothing is not a price.
func twap(h *DataHandler, inst Instrument, w Window) (float64, error) {
	points, err := h.GetDataRange(At(w.Start), At(w.End), inst, ValuationPrice)
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, fmt.Errorf("no fixings in window (%s, %s]",
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	sum := 0.0
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points)), nil
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s qty=%g end=%s", o.Kind, o.Instrument.Name,
		o.Quantity, o.ExecutionEndTime().Format(time.RFC3339))
}
