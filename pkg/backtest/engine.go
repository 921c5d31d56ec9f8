// Backtest driver: run loop, ledger and performance recording
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ============================================================================
// CONFIG AND RESULTS
// ============================================================================

// EngineConfig holds the run parameters.
type EngineConfig struct {
	InitialCash float64
	Currency    string
}

// Snapshot is the ledger recorded at one axis step.
type Snapshot struct {
	State       State
	Cash        float64
	Holdings    map[Instrument]float64
	Weights     map[Instrument]float64
	Performance float64
}

// RunResult is everything a completed run produced.
type RunResult struct {
	ID        uuid.UUID
	Snapshots []Snapshot
	Fills     []Fill
	Failures  []ExecutionFailure
}

// RiskCalculator computes a path-dependent risk value once per axis step.
// Recorded values feed StrategyRiskTrigger on later (or the same) steps.
type RiskCalculator struct {
	Measure string
	Calc    func(state State, view BacktestView, h *DataHandler) (float64, error)
}

// ============================================================================
// ENGINE
// ============================================================================

// Engine drives a predefined-asset backtest: it iterates the time axis,
// advances the clock, evaluates triggers, routes generated orders through
// the execution engine and applies fills to the ledger it exclusively
// owns. Triggers and actions see the ledger only through a read-only view.
type Engine struct {
	handler  *DataHandler
	exec     *ExecutionEngine
	triggers []Trigger
	riskCalc []RiskCalculator

	initialCash float64
	currency    string
	cash        float64
	holdings    map[Instrument]float64
	lastPrices  map[Instrument]float64
	risk        map[string]map[time.Time]float64

	snapshots []Snapshot
	fills     []Fill
	failures  []ExecutionFailure
}

// NewEngine creates an engine around a populated data handler.
func NewEngine(h *DataHandler, cfg EngineConfig) *Engine {
	currency := cfg.Currency
	if currency == "" {
		currency = "USD"
	}
	return &Engine{
		handler:     h,
		exec:        NewExecutionEngine(h),
		initialCash: cfg.InitialCash,
		currency:    currency,
		cash:        cfg.InitialCash,
		holdings:    make(map[Instrument]float64),
		lastPrices:  make(map[Instrument]float64),
		risk:        make(map[string]map[time.Time]float64),
	}
}

// AddTrigger appends a trigger. Evaluation order is registration order and
// stays stable across the run, so portfolio-gating triggers compose
// predictably with the actions that ran before them.
func (e *Engine) AddTrigger(t Trigger) { e.triggers = append(e.triggers, t) }

// AddRiskCalculator registers a per-step path-dependent risk computation.
func (e *Engine) AddRiskCalculator(rc RiskCalculator) { e.riskCalc = append(e.riskCalc, rc) }

// Handler exposes the engine's data handler, e.g. for building triggers.
func (e *Engine) Handler() *DataHandler { return e.handler }

// CashAsset returns the ledger's cash instrument, for cost and fee orders.
func (e *Engine) CashAsset() Instrument { return CashAsset(e.currency) }

// Run iterates the axis. The axis must be strictly ascending and of one
// granularity; any temporal violation aborts the run. Per-order pricing
// failures do not: they are logged, recorded on the result and the run
// continues.
func (e *Engine) Run(ctx context.Context, axis []State) (*RunResult, error) {
	runID := uuid.New()
	log.Info().Str("run", runID.String()).Int("steps", len(axis)).
		Float64("initial_cash", e.initialCash).Msg("Starting backtest")

	e.reset()

	for _, state := range axis {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := e.step(state); err != nil {
			return nil, fmt.Errorf("step %s: %w", state, err)
		}
	}

	result := &RunResult{
		ID:        runID,
		Snapshots: e.snapshots,
		Fills:     e.fills,
		Failures:  e.failures,
	}

	log.Info().Str("run", runID.String()).Int("fills", len(e.fills)).
		Int("failures", len(e.failures)).Float64("final_performance", e.view().NAV()).
		Msg("Backtest complete")
	return result, nil
}

func (e *Engine) reset() {
	e.handler.Reset()
	e.exec = NewExecutionEngine(e.handler)
	e.cash = e.initialCash
	e.holdings = make(map[Instrument]float64)
	e.lastPrices = make(map[Instrument]float64)
	e.risk = make(map[string]map[time.Time]float64)
	e.snapshots = nil
	e.fills = nil
	e.failures = nil
}

func (e *Engine) step(state State) error {
	if err := e.handler.Update(state); err != nil {
		return err
	}
	view := e.view()

	for _, rc := range e.riskCalc {
		value, err := rc.Calc(state, view, e.handler)
		if err != nil {
			return fmt.Errorf("risk calculator %q: %w", rc.Measure, err)
		}
		e.recordRisk(rc.Measure, state, value)
	}

	var orders []*Order
	for _, trigger := range e.triggers {
		fired, err := trigger.HasTriggered(state, view)
		if err != nil {
			return err
		}
		if !fired {
			continue
		}
		for _, action := range trigger.Actions() {
			generated, err := action.GenerateOrders(state, view, e.handler)
			if err != nil {
				return fmt.Errorf("action %q: %w", action.Name(), err)
			}
			orders = append(orders, generated...)
		}
	}

	for _, o := range orders {
		e.exec.Submit(o)
	}

	fills, failures := e.exec.Ping(state)
	for _, fill := range fills {
		e.applyFill(fill)
	}
	e.fills = append(e.fills, fills...)
	e.failures = append(e.failures, failures...)

	e.snapshot(state)
	return nil
}

// applyFill moves cash and holdings for one fill. Zero-quantity legs are
// removed so the position count reflects open positions only.
func (e *Engine) applyFill(fill Fill) {
	order := fill.Order
	if order.Kind == OrderCost {
		e.cash += fill.Quantity
		return
	}

	e.cash -= fill.Price * fill.Quantity
	e.holdings[order.Instrument] += fill.Quantity
	if e.holdings[order.Instrument] == 0 {
		delete(e.holdings, order.Instrument)
	}
	e.lastPrices[order.Instrument] = fill.Price
}

// snapshot marks the book at state using only prices available at or
// before it: the handler read is lookahead-checked, and an unresolvable
// mark falls back to the last known price.
func (e *Engine) snapshot(state State) {
	holdings := make(map[Instrument]float64, len(e.holdings))
	performance := e.cash

	for inst, qty := range e.holdings {
		holdings[inst] = qty

		price, err := e.handler.GetData(state, inst, ValuationPrice)
		if err != nil {
			last, ok := e.lastPrices[inst]
			if !ok {
				log.Warn().Str("instrument", inst.Name).Str("state", state.String()).
					Msg("No resolvable mark for holding, excluding from performance")
				continue
			}
			price = last
		} else {
			e.lastPrices[inst] = price
		}
		performance += price * qty
	}

	weights := make(map[Instrument]float64, len(holdings))
	if performance != 0 {
		for inst, qty := range holdings {
			weights[inst] = e.lastPrices[inst] * qty / performance
		}
	}

	e.snapshots = append(e.snapshots, Snapshot{
		State:       state,
		Cash:        e.cash,
		Holdings:    holdings,
		Weights:     weights,
		Performance: performance,
	})
}

func (e *Engine) recordRisk(measure string, state State, value float64) {
	if e.risk[measure] == nil {
		e.risk[measure] = make(map[time.Time]float64)
	}
	e.risk[measure][state.Time()] = value
}

// ============================================================================
// READ-ONLY VIEW
// ============================================================================

// runView is the BacktestView handed to triggers and actions. It exposes
// copies and scalars only; the ledger stays single-writer.
type runView struct {
	e *Engine
}

func (e *Engine) view() BacktestView { return runView{e: e} }

func (v runView) PositionCount() int {
	count := 0
	for _, qty := range v.e.holdings {
		if qty != 0 {
			count++
		}
	}
	return count
}

func (v runView) Holding(inst Instrument) float64 { return v.e.holdings[inst] }

func (v runView) Holdings() map[Instrument]float64 {
	out := make(map[Instrument]float64, len(v.e.holdings))
	for inst, qty := range v.e.holdings {
		out[inst] = qty
	}
	return out
}

func (v runView) Cash() float64 { return v.e.cash }

func (v runView) NAV() float64 {
	if len(v.e.snapshots) == 0 {
		return v.e.initialCash
	}
	return v.e.snapshots[len(v.e.snapshots)-1].Performance
}

func (v runView) RiskValue(measure string, state State) (float64, bool) {
	values, ok := v.e.risk[measure]
	if !ok {
		return 0, false
	}
	value, ok := values[state.Time()]
	return value, ok
}
