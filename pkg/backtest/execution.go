// Order execution engine
package backtest

import (
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Fill is the realized outcome of executing an order.
type Fill struct {
	ID       uuid.UUID
	Order    *Order
	Price    float64
	Quantity float64
}

// ExecutionFailure records an order that could not be priced on its tick.
// The order is dropped, not retried.
type ExecutionFailure struct {
	Order *Order
	Err   error
}

// ExecutionEngine accepts submitted orders, keeps them sorted by execution
// end time, and on each clock tick executes every order whose end time has
// passed. Pricing failures are isolated per order: the failed order is
// logged, reported and dropped, and the rest of the batch still fills.
type ExecutionEngine struct {
	handler *DataHandler
	pending []*Order
}

// NewExecutionEngine builds an engine that prices orders through h.
func NewExecutionEngine(h *DataHandler) *ExecutionEngine {
	return &ExecutionEngine{handler: h}
}

// Submit queues an order, keeping the queue sorted by execution end time.
// Ties preserve submission order.
func (e *ExecutionEngine) Submit(o *Order) {
	end := o.ExecutionEndTime()
	i := sort.Search(len(e.pending), func(i int) bool {
		return e.pending[i].ExecutionEndTime().After(end)
	})
	e.pending = append(e.pending, nil)
	copy(e.pending[i+1:], e.pending[i:])
	e.pending[i] = o

	log.Debug().Str("order", o.String()).Int("pending", len(e.pending)).Msg("Order submitted")
}

// Pending returns the number of queued orders.
func (e *ExecutionEngine) Pending() int { return len(e.pending) }

// Ping executes every pending order due at state, in end-time order. It
// returns the fills produced this tick together with the per-order
// failures, so callers can detect partial failure without scraping logs.
func (e *ExecutionEngine) Ping(state State) ([]Fill, []ExecutionFailure) {
	var fills []Fill
	var failures []ExecutionFailure

	cutoff := state.executionCutoff()
	for len(e.pending) > 0 && e.pending[0].ExecutionEndTime().Before(cutoff) {
		order := e.pending[0]
		e.pending = e.pending[1:]

		price, err := order.ExecutionPrice(e.handler)
		if err != nil {
			log.Warn().Err(err).Str("order", order.String()).Str("state", state.String()).
				Msg("Order execution failed, dropping order")
			failures = append(failures, ExecutionFailure{Order: order, Err: err})
			continue
		}

		fills = append(fills, Fill{
			ID:       uuid.New(),
			Order:    order,
			Price:    price,
			Quantity: order.ExecutionQuantity(),
		})

		log.Debug().Str("order", order.String()).Float64("price", price).Msg("Order filled")
	}

	return fills, failures
}
