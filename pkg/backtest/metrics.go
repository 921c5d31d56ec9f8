// Performance metrics calculation for backtest runs
package backtest

import (
	"fmt"
	"math"
	"time"
)

// ============================================================================
// PERFORMANCE METRICS
// ============================================================================

// Metrics holds the performance statistics of one run.
type Metrics struct {
	// Returns
	TotalReturn      float64 `json:"total_return"`
	TotalReturnPct   float64 `json:"total_return_pct"`
	AnnualizedReturn float64 `json:"annualized_return"`

	// Risk
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Volatility     float64 `json:"volatility"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	CalmarRatio    float64 `json:"calmar_ratio"`

	// Activity
	Fills    int `json:"fills"`
	Failures int `json:"failures"`

	// Run shape
	InitialPerformance float64       `json:"initial_performance"`
	FinalPerformance   float64       `json:"final_performance"`
	PeakPerformance    float64       `json:"peak_performance"`
	Start              time.Time     `json:"start"`
	End                time.Time     `json:"end"`
	Duration           time.Duration `json:"duration"`
}

// CalculateMetrics computes metrics over a run's performance curve.
func CalculateMetrics(result *RunResult) (*Metrics, error) {
	if len(result.Snapshots) == 0 {
		return nil, fmt.Errorf("no snapshots recorded")
	}

	first := result.Snapshots[0]
	last := result.Snapshots[len(result.Snapshots)-1]

	m := &Metrics{
		Fills:              len(result.Fills),
		Failures:           len(result.Failures),
		InitialPerformance: first.Performance,
		FinalPerformance:   last.Performance,
		Start:              first.State.Time(),
		End:                last.State.Time(),
	}
	m.Duration = m.End.Sub(m.Start)

	m.TotalReturn = m.FinalPerformance - m.InitialPerformance
	if m.InitialPerformance != 0 {
		m.TotalReturnPct = m.TotalReturn / m.InitialPerformance * 100.0
	}

	years := m.Duration.Hours() / (24 * 365.25)
	if years > 0 && m.InitialPerformance > 0 && m.FinalPerformance > 0 {
		m.AnnualizedReturn = (math.Pow(m.FinalPerformance/m.InitialPerformance, 1/years) - 1) * 100.0
	}

	m.PeakPerformance, m.MaxDrawdown, m.MaxDrawdownPct = drawdown(result.Snapshots)

	returns := stepReturns(result.Snapshots)
	m.Volatility = stddev(returns)
	if m.Volatility > 0 {
		m.SharpeRatio = mean(returns) / m.Volatility * math.Sqrt(252)
	}
	if down := downsideDev(returns); down > 0 {
		m.SortinoRatio = mean(returns) / down * math.Sqrt(252)
	}
	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = m.AnnualizedReturn / m.MaxDrawdownPct
	}

	return m, nil
}

// drawdown walks the curve tracking the running peak.
func drawdown(snapshots []Snapshot) (peak, maxDD, maxDDPct float64) {
	peak = snapshots[0].Performance
	for _, s := range snapshots {
		if s.Performance > peak {
			peak = s.Performance
		}
		dd := peak - s.Performance
		if dd > maxDD {
			maxDD = dd
			if peak != 0 {
				maxDDPct = dd / peak * 100.0
			}
		}
	}
	return peak, maxDD, maxDDPct
}

// stepReturns converts the performance curve into simple per-step returns.
func stepReturns(snapshots []Snapshot) []float64 {
	var returns []float64
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].Performance
		if prev == 0 {
			continue
		}
		returns = append(returns, (snapshots[i].Performance-prev)/prev)
	}
	return returns
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func downsideDev(values []float64) float64 {
	var negatives []float64
	for _, v := range values {
		if v < 0 {
			negatives = append(negatives, v)
		}
	}
	if len(negatives) < 2 {
		return 0
	}
	return stddev(negatives)
}
