// Scenario files: declarative backtest definitions
package scenario

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/marketsim/pkg/backtest"
)

// Scenario is the YAML shape of a declarative backtest: instruments, their
// fixing series, the time axis and the trigger/action strategy wiring.
type Scenario struct {
	Name        string       `yaml:"name"`
	InitialCash float64      `yaml:"initial_cash"`
	Currency    string       `yaml:"currency"`
	Axis        AxisSpec     `yaml:"axis"`
	Instruments []Instrument `yaml:"instruments"`
	Series      []SeriesSpec `yaml:"series"`
	Triggers    []Trigger    `yaml:"triggers"`
}

// AxisSpec describes the simulation axis: either an explicit list of
// states, or a daily start/end range.
type AxisSpec struct {
	Start           string   `yaml:"start"`
	End             string   `yaml:"end"`
	IncludeWeekends bool     `yaml:"include_weekends"`
	States          []string `yaml:"states"`
}

// Instrument declares a tradable asset.
type Instrument struct {
	Name     string `yaml:"name"`
	Currency string `yaml:"currency"`
	DataKey  string `yaml:"data_key"` // defaults to name
}

// SeriesSpec attaches a fixing series to an instrument.
type SeriesSpec struct {
	Instrument string             `yaml:"instrument"`
	Frequency  string             `yaml:"frequency"` // daily, real_time
	Valuation  string             `yaml:"valuation"` // price, nav, risk
	Missing    string             `yaml:"missing"`   // fail, fill_forward, interpolate
	Points     map[string]float64 `yaml:"points"`
}

// Trigger declares one strategy rule.
type Trigger struct {
	Type string `yaml:"type"`

	// date_list / entire_day_date_list
	Dates []string `yaml:"dates"`

	// periodic
	Start     string `yaml:"start"`
	End       string `yaml:"end"`
	Frequency string `yaml:"frequency"` // day, week, month

	// cron
	Expression string `yaml:"expression"`

	// market_level / moving_average
	Instrument string  `yaml:"instrument"`
	Valuation  string  `yaml:"valuation"`
	Level      float64 `yaml:"level"`
	Direction  string  `yaml:"direction"` // above, below, equal
	Average    string  `yaml:"average"`   // sma, ema
	Period     int     `yaml:"period"`

	// portfolio_len
	Positions int `yaml:"positions"`

	Actions []Action `yaml:"actions"`
}

// Action declares what a trigger does when it fires.
type Action struct {
	Type        string        `yaml:"type"`
	Instrument  string        `yaml:"instrument"`
	Quantity    float64       `yaml:"quantity"`
	Scaling     string        `yaml:"scaling"` // quantity, nav
	Kind        string        `yaml:"kind"`    // order kind for add_trade
	WindowStart time.Duration `yaml:"window_start"`
	WindowEnd   time.Duration `yaml:"window_end"`
	Target      string        `yaml:"target"` // hedge
	Ratio       float64       `yaml:"ratio"`  // hedge
	Amount      float64       `yaml:"amount"` // fee
	Source      string        `yaml:"source"`
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(raw)
}

// Parse parses scenario YAML.
func Parse(raw []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario has no name")
	}
	if sc.InitialCash <= 0 {
		return nil, fmt.Errorf("scenario %q: initial_cash must be positive", sc.Name)
	}
	if len(sc.Instruments) == 0 {
		return nil, fmt.Errorf("scenario %q: no instruments", sc.Name)
	}
	return &sc, nil
}

// Build assembles a runnable engine and its axis from the scenario.
func (sc *Scenario) Build() (*backtest.Engine, []backtest.State, error) {
	instruments := make(map[string]backtest.Instrument, len(sc.Instruments))
	for _, spec := range sc.Instruments {
		inst := backtest.NewInstrument(spec.Name, spec.Currency)
		if spec.DataKey != "" {
			inst.DataKey = spec.DataKey
		}
		instruments[spec.Name] = inst
	}

	dm := backtest.NewDataManager()
	for _, spec := range sc.Series {
		inst, ok := instruments[spec.Instrument]
		if !ok {
			return nil, nil, fmt.Errorf("series references unknown instrument %q", spec.Instrument)
		}
		series, err := parseSeries(spec)
		if err != nil {
			return nil, nil, err
		}
		strategy, err := parseMissing(spec.Missing)
		if err != nil {
			return nil, nil, err
		}
		freq, err := parseFrequency(spec.Frequency)
		if err != nil {
			return nil, nil, err
		}
		valuation, err := parseValuation(spec.Valuation)
		if err != nil {
			return nil, nil, err
		}
		if err := dm.AddSeries(series, strategy, freq, inst, valuation); err != nil {
			return nil, nil, fmt.Errorf("series for %q: %w", spec.Instrument, err)
		}
	}

	engine := backtest.NewEngine(backtest.NewDataHandler(dm, nil), backtest.EngineConfig{
		InitialCash: sc.InitialCash,
		Currency:    sc.Currency,
	})

	for i, spec := range sc.Triggers {
		trigger, err := sc.buildTrigger(engine, instruments, spec)
		if err != nil {
			return nil, nil, fmt.Errorf("trigger %d (%s): %w", i, spec.Type, err)
		}
		engine.AddTrigger(trigger)
	}

	axis, err := sc.Axis.expand()
	if err != nil {
		return nil, nil, err
	}

	log.Info().Str("scenario", sc.Name).Int("instruments", len(instruments)).
		Int("triggers", len(sc.Triggers)).Int("steps", len(axis)).
		Msg("Scenario assembled")
	return engine, axis, nil
}

// ============================================================================
// AXIS
// ============================================================================

func (a AxisSpec) expand() ([]backtest.State, error) {
	if len(a.States) > 0 {
		axis := make([]backtest.State, len(a.States))
		for i, raw := range a.States {
			state, err := backtest.ParseState(raw)
			if err != nil {
				return nil, fmt.Errorf("axis state %d: %w", i, err)
			}
			axis[i] = state
		}
		return axis, nil
	}

	start, err := time.Parse("2006-01-02", a.Start)
	if err != nil {
		return nil, fmt.Errorf("axis start: %w", err)
	}
	end, err := time.Parse("2006-01-02", a.End)
	if err != nil {
		return nil, fmt.Errorf("axis end: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("axis end %s before start %s", a.End, a.Start)
	}

	var axis []backtest.State
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !a.IncludeWeekends {
			if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
		}
		axis = append(axis, backtest.DateOf(d))
	}
	return axis, nil
}

// ============================================================================
// PARSERS
// ============================================================================

func parseSeries(spec SeriesSpec) (backtest.Series, error) {
	points := make([]backtest.Point, 0, len(spec.Points))
	for raw, value := range spec.Points {
		state, err := backtest.ParseState(raw)
		if err != nil {
			return backtest.Series{}, fmt.Errorf("series for %q: %w", spec.Instrument, err)
		}
		points = append(points, backtest.Point{Time: state.Time(), Value: value})
	}
	return backtest.NewSeries(points), nil
}

func parseMissing(raw string) (backtest.MissingDataStrategy, error) {
	switch raw {
	case "fail", "":
		return backtest.MissingFail, nil
	case "fill_forward":
		return backtest.MissingFillForward, nil
	case "interpolate":
		return backtest.MissingInterpolate, nil
	}
	return "", fmt.Errorf("unknown missing data strategy %q", raw)
}

func parseFrequency(raw string) (backtest.Frequency, error) {
	switch raw {
	case "daily", "":
		return backtest.FreqDaily, nil
	case "real_time":
		return backtest.FreqRealTime, nil
	}
	return "", fmt.Errorf("unknown frequency %q", raw)
}

func parseValuation(raw string) (backtest.ValuationType, error) {
	switch raw {
	case "price", "":
		return backtest.ValuationPrice, nil
	case "nav":
		return backtest.ValuationNAV, nil
	case "risk":
		return backtest.ValuationRisk, nil
	}
	return "", fmt.Errorf("unknown valuation %q", raw)
}

func parseDirection(raw string) (backtest.TriggerDirection, error) {
	switch raw {
	case "above":
		return backtest.Above, nil
	case "below":
		return backtest.Below, nil
	case "equal":
		return backtest.Equal, nil
	}
	return "", fmt.Errorf("unknown direction %q", raw)
}

func parseStates(raws []string) ([]backtest.State, error) {
	states := make([]backtest.State, len(raws))
	for i, raw := range raws {
		state, err := backtest.ParseState(raw)
		if err != nil {
			return nil, err
		}
		states[i] = state
	}
	return states, nil
}

// ============================================================================
// TRIGGERS AND ACTIONS
// ============================================================================

func (sc *Scenario) buildTrigger(engine *backtest.Engine, instruments map[string]backtest.Instrument, spec Trigger) (backtest.Trigger, error) {
	actions, err := sc.buildActions(engine, instruments, spec.Actions)
	if err != nil {
		return nil, err
	}

	switch spec.Type {
	case "date_list":
		dates, err := parseStates(spec.Dates)
		if err != nil {
			return nil, err
		}
		return backtest.NewDateListTrigger(dates, actions...), nil

	case "entire_day_date_list":
		dates, err := parseStates(spec.Dates)
		if err != nil {
			return nil, err
		}
		return backtest.NewEntireDayDateListTrigger(dates, actions...), nil

	case "periodic":
		start, err := time.Parse("2006-01-02", spec.Start)
		if err != nil {
			return nil, fmt.Errorf("periodic start: %w", err)
		}
		end, err := time.Parse("2006-01-02", spec.End)
		if err != nil {
			return nil, fmt.Errorf("periodic end: %w", err)
		}
		freq, err := parsePeriodicFrequency(spec.Frequency)
		if err != nil {
			return nil, err
		}
		return backtest.NewPeriodicTrigger(start, end, freq, actions...), nil

	case "cron":
		start, err := time.Parse("2006-01-02", spec.Start)
		if err != nil {
			return nil, fmt.Errorf("cron start: %w", err)
		}
		end, err := time.Parse("2006-01-02", spec.End)
		if err != nil {
			return nil, fmt.Errorf("cron end: %w", err)
		}
		return backtest.NewCronScheduleTrigger(spec.Expression, start, end, actions...), nil

	case "market_level":
		inst, ok := instruments[spec.Instrument]
		if !ok {
			return nil, fmt.Errorf("unknown instrument %q", spec.Instrument)
		}
		valuation, err := parseValuation(spec.Valuation)
		if err != nil {
			return nil, err
		}
		direction, err := parseDirection(spec.Direction)
		if err != nil {
			return nil, err
		}
		return backtest.NewMarketLevelTrigger(engine.Handler(), inst, valuation, spec.Level, direction, actions...), nil

	case "portfolio_len":
		direction, err := parseDirection(spec.Direction)
		if err != nil {
			return nil, err
		}
		return backtest.NewPortfolioLenTrigger(spec.Positions, direction, actions...), nil

	case "moving_average":
		inst, ok := instruments[spec.Instrument]
		if !ok {
			return nil, fmt.Errorf("unknown instrument %q", spec.Instrument)
		}
		direction, err := parseDirection(spec.Direction)
		if err != nil {
			return nil, err
		}
		kind, err := parseAverage(spec.Average)
		if err != nil {
			return nil, err
		}
		if spec.Period <= 0 {
			return nil, fmt.Errorf("moving average period must be positive, got %d", spec.Period)
		}
		return backtest.NewMovingAverageTrigger(engine.Handler(), inst, kind, spec.Period, spec.Level, direction, actions...), nil
	}
	return nil, fmt.Errorf("unknown trigger type %q", spec.Type)
}

func parsePeriodicFrequency(raw string) (backtest.PeriodicFrequency, error) {
	switch raw {
	case "day":
		return backtest.EveryDay, nil
	case "week":
		return backtest.EveryWeek, nil
	case "month":
		return backtest.EveryMonth, nil
	}
	return "", fmt.Errorf("unknown periodic frequency %q", raw)
}

func parseAverage(raw string) (backtest.MovingAverageKind, error) {
	switch raw {
	case "sma", "":
		return backtest.SimpleMovingAverage, nil
	case "ema":
		return backtest.ExponentialMovingAverage, nil
	}
	return "", fmt.Errorf("unknown moving average kind %q", raw)
}

func (sc *Scenario) buildActions(engine *backtest.Engine, instruments map[string]backtest.Instrument, specs []Action) ([]backtest.Action, error) {
	actions := make([]backtest.Action, 0, len(specs))
	for i, spec := range specs {
		action, err := sc.buildAction(engine, instruments, spec)
		if err != nil {
			return nil, fmt.Errorf("action %d (%s): %w", i, spec.Type, err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func (sc *Scenario) buildAction(engine *backtest.Engine, instruments map[string]backtest.Instrument, spec Action) (backtest.Action, error) {
	scaling, err := parseScaling(spec.Scaling)
	if err != nil {
		return nil, err
	}

	switch spec.Type {
	case "enter_position":
		inst, ok := instruments[spec.Instrument]
		if !ok {
			return nil, fmt.Errorf("unknown instrument %q", spec.Instrument)
		}
		return &backtest.EnterPositionAction{
			Instrument: inst, Quantity: spec.Quantity, Scaling: scaling, Source: spec.Source,
		}, nil

	case "exit_position":
		return &backtest.ExitPositionAction{Source: spec.Source}, nil

	case "exit_trade":
		inst, ok := instruments[spec.Instrument]
		if !ok {
			return nil, fmt.Errorf("unknown instrument %q", spec.Instrument)
		}
		return &backtest.ExitTradeAction{Instrument: inst, Source: spec.Source}, nil

	case "add_trade":
		inst, ok := instruments[spec.Instrument]
		if !ok {
			return nil, fmt.Errorf("unknown instrument %q", spec.Instrument)
		}
		return &backtest.AddTradeAction{
			Instrument: inst, Quantity: spec.Quantity, Scaling: scaling,
			Kind:        backtest.OrderKind(spec.Kind),
			WindowStart: spec.WindowStart, WindowEnd: spec.WindowEnd,
			Source: spec.Source,
		}, nil

	case "add_scaled_trade":
		inst, ok := instruments[spec.Instrument]
		if !ok {
			return nil, fmt.Errorf("unknown instrument %q", spec.Instrument)
		}
		return &backtest.AddScaledTradeAction{
			Instrument: inst, Fraction: spec.Quantity,
			Kind:        backtest.OrderKind(spec.Kind),
			WindowStart: spec.WindowStart, WindowEnd: spec.WindowEnd,
			Source: spec.Source,
		}, nil

	case "hedge":
		target, ok := instruments[spec.Target]
		if !ok {
			return nil, fmt.Errorf("unknown target instrument %q", spec.Target)
		}
		hedge, ok := instruments[spec.Instrument]
		if !ok {
			return nil, fmt.Errorf("unknown hedge instrument %q", spec.Instrument)
		}
		return &backtest.HedgeAction{
			Target: target, Hedge: hedge, Ratio: spec.Ratio, Source: spec.Source,
		}, nil

	case "fee":
		return &backtest.FeeAction{
			Cash: engine.CashAsset(), Amount: spec.Amount, Source: spec.Source,
		}, nil
	}
	return nil, fmt.Errorf("unknown action type %q", spec.Type)
}

func parseScaling(raw string) (backtest.Scaling, error) {
	switch raw {
	case "quantity", "":
		return backtest.ScaleQuantity, nil
	case "nav":
		return backtest.ScaleNAV, nil
	}
	return "", fmt.Errorf("unknown scaling %q", raw)
}
