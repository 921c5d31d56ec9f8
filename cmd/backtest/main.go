// Backtest Runner CLI
// Runs a declarative scenario against historical fixings and reports
// performance
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/marketsim/internal/config"
	"github.com/ajitpratap0/marketsim/internal/scenario"
	"github.com/ajitpratap0/marketsim/internal/store"
	"github.com/ajitpratap0/marketsim/pkg/backtest"
)

// ============================================================================
// CLI FLAGS
// ============================================================================

var (
	scenarioFile = flag.String("scenario", "", "Scenario YAML file (required)")
	configFile   = flag.String("config", "", "Config file (optional)")

	// Data loading
	useDB = flag.Bool("db", false, "Load missing fixing series from PostgreSQL")

	// Output
	outputFile = flag.String("output", "", "Output file for the report (optional)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
)

// ============================================================================
// MAIN
// ============================================================================

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *scenarioFile == "" {
		fmt.Fprintln(os.Stderr, "Error: -scenario flag is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()
	if err := runBacktest(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Backtest failed")
	}

	log.Info().Msg("Backtest completed successfully")
}

// ============================================================================
// BACKTEST EXECUTION
// ============================================================================

func runBacktest(ctx context.Context, cfg *config.Config) error {
	sc, err := scenario.Load(*scenarioFile)
	if err != nil {
		return fmt.Errorf("failed to load scenario: %w", err)
	}
	applyDefaults(sc, cfg)

	if *useDB {
		if err := hydrateFromStore(ctx, sc, cfg); err != nil {
			return fmt.Errorf("failed to load fixings from database: %w", err)
		}
	}

	engine, axis, err := sc.Build()
	if err != nil {
		return fmt.Errorf("failed to assemble scenario: %w", err)
	}

	result, err := engine.Run(ctx, axis)
	if err != nil {
		return fmt.Errorf("backtest execution failed: %w", err)
	}

	metrics, err := backtest.CalculateMetrics(result)
	if err != nil {
		return fmt.Errorf("failed to calculate metrics: %w", err)
	}

	report := backtest.GenerateReport(metrics)
	fmt.Println(report)

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, []byte(report), 0644); err != nil {
			log.Warn().Err(err).Str("file", *outputFile).Msg("Failed to write output file")
		} else {
			log.Info().Str("file", *outputFile).Msg("Report written to file")
		}
	}

	return nil
}

// applyDefaults fills run parameters the scenario left unset.
func applyDefaults(sc *scenario.Scenario, cfg *config.Config) {
	if sc.Currency == "" {
		sc.Currency = cfg.Backtest.Currency
	}
	if sc.InitialCash == 0 {
		sc.InitialCash = cfg.Backtest.InitialCash
	}
}

// ============================================================================
// DATA LOADING
// ============================================================================

// hydrateFromStore fills in fixing series for every scenario instrument
// that has none inline, querying the fixing store over the axis span.
func hydrateFromStore(ctx context.Context, sc *scenario.Scenario, cfg *config.Config) error {
	start, end, err := axisSpan(sc)
	if err != nil {
		return err
	}

	db, err := store.New(ctx, cfg.Database.GetDSN(), cfg.Database.PoolSize)
	if err != nil {
		return err
	}
	defer db.Close()
	fixings := store.NewFixingStore(db.Pool())

	inline := make(map[string]bool, len(sc.Series))
	for _, s := range sc.Series {
		inline[s.Instrument] = true
	}

	for _, inst := range sc.Instruments {
		if inline[inst.Name] {
			continue
		}
		dataKey := inst.DataKey
		if dataKey == "" {
			dataKey = inst.Name
		}

		series, err := fixings.LoadSeries(ctx, dataKey,
			backtest.FreqDaily, backtest.ValuationPrice, start, end)
		if err != nil {
			return fmt.Errorf("load %q: %w", inst.Name, err)
		}

		points := make(map[string]float64, series.Len())
		for _, p := range series.Points() {
			points[p.Time.Format("2006-01-02")] = p.Value
		}
		sc.Series = append(sc.Series, scenario.SeriesSpec{
			Instrument: inst.Name,
			Frequency:  "daily",
			Valuation:  "price",
			Points:     points,
		})
	}

	return nil
}

// axisSpan returns the [start, end] instants the scenario's axis covers.
func axisSpan(sc *scenario.Scenario) (time.Time, time.Time, error) {
	if len(sc.Axis.States) > 0 {
		var start, end time.Time
		for _, raw := range sc.Axis.States {
			state, err := backtest.ParseState(raw)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			t := state.Time()
			if start.IsZero() || t.Before(start) {
				start = t
			}
			if t.After(end) {
				end = t
			}
		}
		return start, end.Add(24 * time.Hour), nil
	}

	start, err := time.Parse("2006-01-02", sc.Axis.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("axis start: %w", err)
	}
	end, err := time.Parse("2006-01-02", sc.Axis.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("axis end: %w", err)
	}
	return start, end.Add(24 * time.Hour), nil
}
