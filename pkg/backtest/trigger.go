// Trigger contract and aggregate composition
package backtest

// ============================================================================
// TRIGGER CONTRACT
// ============================================================================

// TriggerDirection orients a threshold comparison.
type TriggerDirection string

const (
	Above TriggerDirection = "above"
	Below TriggerDirection = "below"
	Equal TriggerDirection = "equal"
)

func (d TriggerDirection) compare(value, level float64) bool {
	switch d {
	case Above:
		return value > level
	case Below:
		return value < level
	case Equal:
		return value == level
	}
	return false
}

// CalcType signals whether a trigger needs access to state produced
// earlier in the same backtest.
type CalcType string

const (
	// CalcSimple triggers depend only on the state and pre-loaded data.
	CalcSimple CalcType = "simple"
	// CalcPathDependent triggers consult values the run itself recorded.
	CalcPathDependent CalcType = "path_dependent"
)

// BacktestView is the read-only window triggers and actions get onto the
// in-progress run. Mutation flows only through fills applied by the
// driver.
type BacktestView interface {
	// PositionCount is the number of non-cash holdings with a non-zero
	// quantity.
	PositionCount() int
	// Holding returns the current quantity held of an instrument.
	Holding(inst Instrument) float64
	// Holdings returns a copy of the non-cash holdings.
	Holdings() map[Instrument]float64
	// Cash returns the current cash balance.
	Cash() float64
	// NAV is the most recently snapshotted performance value, or the
	// initial cash before the first snapshot.
	NAV() float64
	// RiskValue returns a path-dependent risk value recorded for state.
	RiskValue(measure string, state State) (float64, bool)
}

// Trigger decides, once per axis step, whether its actions should fire.
// HasTriggered must be side-effect-free apart from internal memoization of
// precomputed schedules.
type Trigger interface {
	HasTriggered(state State, view BacktestView) (bool, error)
	Actions() []Action
	CalcType() CalcType
}

// ============================================================================
// AGGREGATE
// ============================================================================

// AggregateTrigger fires only when every child fires (logical AND,
// short-circuiting). Its action list is the concatenation of the
// children's actions.
type AggregateTrigger struct {
	children []Trigger
}

// NewAggregateTrigger combines triggers into an AND.
func NewAggregateTrigger(children ...Trigger) *AggregateTrigger {
	return &AggregateTrigger{children: children}
}

func (t *AggregateTrigger) HasTriggered(state State, view BacktestView) (bool, error) {
	for _, child := range t.children {
		fired, err := child.HasTriggered(state, view)
		if err != nil {
			return false, err
		}
		if !fired {
			return false, nil
		}
	}
	return true, nil
}

func (t *AggregateTrigger) Actions() []Action {
	var actions []Action
	for _, child := range t.children {
		actions = append(actions, child.Actions()...)
	}
	return actions
}

func (t *AggregateTrigger) CalcType() CalcType {
	for _, child := range t.children {
		if child.CalcType() == CalcPathDependent {
			return CalcPathDependent
		}
	}
	return CalcSimple
}
