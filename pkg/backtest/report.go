// Text report generation for backtest results
package backtest

import (
	"fmt"
	"strings"
)

// GenerateReport renders a run's metrics as a human-readable text report.
func GenerateReport(m *Metrics) string {
	var b strings.Builder

	line := strings.Repeat("=", 60)
	b.WriteString(line + "\n")
	b.WriteString("BACKTEST RESULTS\n")
	b.WriteString(line + "\n\n")

	b.WriteString(fmt.Sprintf("Period:              %s to %s (%s)\n",
		m.Start.Format("2006-01-02"), m.End.Format("2006-01-02"), m.Duration))
	b.WriteString(fmt.Sprintf("Initial performance: %.2f\n", m.InitialPerformance))
	b.WriteString(fmt.Sprintf("Final performance:   %.2f\n", m.FinalPerformance))
	b.WriteString(fmt.Sprintf("Peak performance:    %.2f\n\n", m.PeakPerformance))

	b.WriteString("RETURNS\n")
	b.WriteString(fmt.Sprintf("  Total return:      %.2f (%.2f%%)\n", m.TotalReturn, m.TotalReturnPct))
	b.WriteString(fmt.Sprintf("  Annualized return: %.2f%%\n\n", m.AnnualizedReturn))

	b.WriteString("RISK\n")
	b.WriteString(fmt.Sprintf("  Max drawdown:      %.2f (%.2f%%)\n", m.MaxDrawdown, m.MaxDrawdownPct))
	b.WriteString(fmt.Sprintf("  Volatility:        %.4f\n", m.Volatility))
	b.WriteString(fmt.Sprintf("  Sharpe ratio:      %.2f\n", m.SharpeRatio))
	b.WriteString(fmt.Sprintf("  Sortino ratio:     %.2f\n", m.SortinoRatio))
	b.WriteString(fmt.Sprintf("  Calmar ratio:      %.2f\n\n", m.CalmarRatio))

	b.WriteString("EXECUTION\n")
	b.WriteString(fmt.Sprintf("  Fills:             %d\n", m.Fills))
	b.WriteString(fmt.Sprintf("  Failures:          %d\n", m.Failures))
	b.WriteString(line + "\n")

	return b.String()
}
