// Concrete trigger variants
package backtest

import (
	"fmt"
	"time"

	"github.com/cinar/indicator/v2/trend"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// ============================================================================
// PERIODIC
// ============================================================================

// PeriodicFrequency is the step of a PeriodicTrigger's date schedule.
type PeriodicFrequency string

const (
	EveryDay   PeriodicFrequency = "1d"
	EveryWeek  PeriodicFrequency = "1w"
	EveryMonth PeriodicFrequency = "1m"
)

// PeriodicTrigger fires on the dates generated from a start/end/frequency
// specification. The schedule is computed lazily once and cached; the
// requirements are immutable after construction.
type PeriodicTrigger struct {
	Start     time.Time
	End       time.Time
	Frequency PeriodicFrequency
	actions   []Action

	dates map[time.Time]struct{}
}

func NewPeriodicTrigger(start, end time.Time, freq PeriodicFrequency, actions ...Action) *PeriodicTrigger {
	return &PeriodicTrigger{Start: start, End: end, Frequency: freq, actions: actions}
}

func (t *PeriodicTrigger) HasTriggered(state State, _ BacktestView) (bool, error) {
	if t.dates == nil {
		dates, err := t.schedule()
		if err != nil {
			return false, err
		}
		t.dates = dates
	}
	_, ok := t.dates[state.DateStart()]
	return ok, nil
}

func (t *PeriodicTrigger) Actions() []Action  { return t.actions }
func (t *PeriodicTrigger) CalcType() CalcType { return CalcSimple }

func (t *PeriodicTrigger) schedule() (map[time.Time]struct{}, error) {
	dates := make(map[time.Time]struct{})
	for d := DateOf(t.Start).Time(); !d.After(t.End); {
		dates[d] = struct{}{}
		switch t.Frequency {
		case EveryDay:
			d = d.AddDate(0, 0, 1)
		case EveryWeek:
			d = d.AddDate(0, 0, 7)
		case EveryMonth:
			d = d.AddDate(0, 1, 0)
		default:
			return nil, fmt.Errorf("unknown periodic frequency %q", t.Frequency)
		}
	}
	return dates, nil
}

// ============================================================================
// INTRADAY PERIODIC
// ============================================================================

// TimeOfDay is a wall-clock time within a trading day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// IntradayPeriodicTrigger fires at the times of day produced by stepping
// from a start time to an end time at a fixed minute interval.
type IntradayPeriodicTrigger struct {
	Start           TimeOfDay
	End             TimeOfDay
	IntervalMinutes int
	actions         []Action

	times map[TimeOfDay]struct{}
}

func NewIntradayPeriodicTrigger(start, end TimeOfDay, intervalMinutes int, actions ...Action) *IntradayPeriodicTrigger {
	return &IntradayPeriodicTrigger{Start: start, End: end, IntervalMinutes: intervalMinutes, actions: actions}
}

func (t *IntradayPeriodicTrigger) HasTriggered(state State, _ BacktestView) (bool, error) {
	if state.IsDate() {
		return false, nil
	}
	if t.IntervalMinutes <= 0 {
		return false, fmt.Errorf("intraday interval must be positive, got %d", t.IntervalMinutes)
	}
	if t.times == nil {
		t.times = make(map[TimeOfDay]struct{})
		endMinute := t.End.Hour*60 + t.End.Minute
		for m := t.Start.Hour*60 + t.Start.Minute; m <= endMinute; m += t.IntervalMinutes {
			t.times[TimeOfDay{Hour: m / 60, Minute: m % 60}] = struct{}{}
		}
	}
	at := state.Time()
	_, ok := t.times[TimeOfDay{Hour: at.Hour(), Minute: at.Minute()}]
	return ok, nil
}

func (t *IntradayPeriodicTrigger) Actions() []Action  { return t.actions }
func (t *IntradayPeriodicTrigger) CalcType() CalcType { return CalcSimple }

// ============================================================================
// DATE LIST
// ============================================================================

// DateListTrigger fires exactly on an enumerated set of states. With
// EntireDay set, entries match any state falling on the same date, so a
// datetime list also serves a pure-date axis.
type DateListTrigger struct {
	Dates     []State
	EntireDay bool
	actions   []Action
}

func NewDateListTrigger(dates []State, actions ...Action) *DateListTrigger {
	return &DateListTrigger{Dates: dates, actions: actions}
}

func NewEntireDayDateListTrigger(dates []State, actions ...Action) *DateListTrigger {
	return &DateListTrigger{Dates: dates, EntireDay: true, actions: actions}
}

func (t *DateListTrigger) HasTriggered(state State, _ BacktestView) (bool, error) {
	for _, d := range t.Dates {
		if t.EntireDay {
			if d.DateStart().Equal(state.DateStart()) {
				return true, nil
			}
			continue
		}
		if d.IsDate() == state.IsDate() && d.Time().Equal(state.Time()) {
			return true, nil
		}
	}
	return false, nil
}

func (t *DateListTrigger) Actions() []Action  { return t.actions }
func (t *DateListTrigger) CalcType() CalcType { return CalcSimple }

// ============================================================================
// MARKET LEVEL
// ============================================================================

// MarketLevelTrigger fires when an instrument's value, read through the
// lookahead-safe handler, compares against a threshold.
type MarketLevelTrigger struct {
	Handler    *DataHandler
	Instrument Instrument
	Valuation  ValuationType
	Level      float64
	Direction  TriggerDirection
	actions    []Action
}

func NewMarketLevelTrigger(h *DataHandler, inst Instrument, valuation ValuationType, level float64, direction TriggerDirection, actions ...Action) *MarketLevelTrigger {
	return &MarketLevelTrigger{Handler: h, Instrument: inst, Valuation: valuation, Level: level, Direction: direction, actions: actions}
}

func (t *MarketLevelTrigger) HasTriggered(state State, _ BacktestView) (bool, error) {
	value, err := t.Handler.GetData(state, t.Instrument, t.Valuation)
	if err != nil {
		return false, fmt.Errorf("market level trigger for %q: %w", t.Instrument.Name, err)
	}
	return t.Direction.compare(value, t.Level), nil
}

func (t *MarketLevelTrigger) Actions() []Action  { return t.actions }
func (t *MarketLevelTrigger) CalcType() CalcType { return CalcSimple }

// ============================================================================
// PORTFOLIO LENGTH
// ============================================================================

// PortfolioLenTrigger fires when the number of open positions compares
// against a threshold. Combined with a date trigger inside an aggregate it
// gates signals on flatness: trade in only when flat, out only when
// holding.
type PortfolioLenTrigger struct {
	Level     int
	Direction TriggerDirection
	actions   []Action
}

func NewPortfolioLenTrigger(level int, direction TriggerDirection, actions ...Action) *PortfolioLenTrigger {
	return &PortfolioLenTrigger{Level: level, Direction: direction, actions: actions}
}

func (t *PortfolioLenTrigger) HasTriggered(_ State, view BacktestView) (bool, error) {
	return t.Direction.compare(float64(view.PositionCount()), float64(t.Level)), nil
}

func (t *PortfolioLenTrigger) Actions() []Action  { return t.actions }
func (t *PortfolioLenTrigger) CalcType() CalcType { return CalcSimple }

// ============================================================================
// STRATEGY RISK
// ============================================================================

// StrategyRiskTrigger fires when a risk value recorded earlier in the same
// run compares against a threshold. It is path-dependent by definition.
type StrategyRiskTrigger struct {
	Measure   string
	Level     float64
	Direction TriggerDirection
	actions   []Action
}

func NewStrategyRiskTrigger(measure string, level float64, direction TriggerDirection, actions ...Action) *StrategyRiskTrigger {
	return &StrategyRiskTrigger{Measure: measure, Level: level, Direction: direction, actions: actions}
}

func (t *StrategyRiskTrigger) HasTriggered(state State, view BacktestView) (bool, error) {
	value, ok := view.RiskValue(t.Measure, state)
	if !ok {
		return false, nil
	}
	return t.Direction.compare(value, t.Level), nil
}

func (t *StrategyRiskTrigger) Actions() []Action  { return t.actions }
func (t *StrategyRiskTrigger) CalcType() CalcType { return CalcPathDependent }

// ============================================================================
// CRON SCHEDULE
// ============================================================================

// CronScheduleTrigger fires on the instants a cron expression produces
// between Start and End. The expansion happens once, on first use.
type CronScheduleTrigger struct {
	Expression string
	Start      time.Time
	End        time.Time
	actions    []Action

	instants map[time.Time]struct{}
	days     map[time.Time]struct{}
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func NewCronScheduleTrigger(expression string, start, end time.Time, actions ...Action) *CronScheduleTrigger {
	return &CronScheduleTrigger{Expression: expression, Start: start.UTC(), End: end.UTC(), actions: actions}
}

func (t *CronScheduleTrigger) HasTriggered(state State, _ BacktestView) (bool, error) {
	if t.instants == nil {
		if err := t.expand(); err != nil {
			return false, err
		}
	}
	if state.IsDate() {
		_, ok := t.days[state.DateStart()]
		return ok, nil
	}
	_, ok := t.instants[state.Time().Truncate(time.Minute)]
	return ok, nil
}

func (t *CronScheduleTrigger) Actions() []Action  { return t.actions }
func (t *CronScheduleTrigger) CalcType() CalcType { return CalcSimple }

func (t *CronScheduleTrigger) expand() error {
	schedule, err := cronParser.Parse(t.Expression)
	if err != nil {
		return fmt.Errorf("failed to parse cron expression %q: %w", t.Expression, err)
	}
	t.instants = make(map[time.Time]struct{})
	t.days = make(map[time.Time]struct{})
	for at := schedule.Next(t.Start.Add(-time.Minute)); !at.IsZero() && !at.After(t.End); at = schedule.Next(at) {
		at = at.UTC()
		t.instants[at.Truncate(time.Minute)] = struct{}{}
		t.days[DateOf(at).Time()] = struct{}{}
	}
	log.Debug().Str("expression", t.Expression).Int("instants", len(t.instants)).
		Msg("Expanded cron schedule")
	return nil
}

// ============================================================================
// MOVING AVERAGE
// ============================================================================

// MovingAverageKind selects the average applied to trailing fixings.
type MovingAverageKind string

const (
	SimpleMovingAverage      MovingAverageKind = "sma"
	ExponentialMovingAverage MovingAverageKind = "ema"
)

// MovingAverageTrigger fires when the moving average of the last Period
// fixings compares against a threshold. History is read through the
// handler, so the average can never include future fixings. With fewer
// than Period fixings available the trigger stays quiet.
type MovingAverageTrigger struct {
	Handler    *DataHandler
	Instrument Instrument
	Kind       MovingAverageKind
	Period     int
	Level      float64
	Direction  TriggerDirection
	actions    []Action
}

func NewMovingAverageTrigger(h *DataHandler, inst Instrument, kind MovingAverageKind, period int, level float64, direction TriggerDirection, actions ...Action) *MovingAverageTrigger {
	return &MovingAverageTrigger{Handler: h, Instrument: inst, Kind: kind, Period: period, Level: level, Direction: direction, actions: actions}
}

func (t *MovingAverageTrigger) HasTriggered(state State, _ BacktestView) (bool, error) {
	if t.Period < 1 {
		return false, fmt.Errorf("moving average period must be positive, got %d", t.Period)
	}
	points, err := t.Handler.GetDataLast(state, t.Period, t.Instrument, ValuationPrice)
	if err != nil {
		return false, fmt.Errorf("moving average trigger for %q: %w", t.Instrument.Name, err)
	}
	if len(points) < t.Period {
		return false, nil
	}

	values := make(chan float64, len(points))
	for _, p := range points {
		values <- p.Value
	}
	close(values)

	var computed <-chan float64
	switch t.Kind {
	case SimpleMovingAverage:
		computed = trend.NewSmaWithPeriod[float64](t.Period).Compute(values)
	case ExponentialMovingAverage:
		computed = trend.NewEmaWithPeriod[float64](t.Period).Compute(values)
	default:
		return false, fmt.Errorf("unknown moving average kind %q", t.Kind)
	}

	average, ok := 0.0, false
	for v := range computed {
		average, ok = v, true
	}
	if !ok {
		return false, nil
	}
	return t.Direction.compare(average, t.Level), nil
}

func (t *MovingAverageTrigger) Actions() []Action  { return t.actions }
func (t *MovingAverageTrigger) CalcType() CalcType { return CalcSimple }
