package backtest

import (
	"math"
)

// computeStats folds the equity curve and the closed trades into the
// run summary. Sharpe is computed on per-step equity returns and
// annualization is left to the reader since step cadence varies.
func computeStats(initial float64, curve []EquityPoint, trades []Trade) RunStats {
	stats := RunStats{
		FinalBalance: initial,
		EquityPeak:   initial,
		EquityValley: initial,
	}
	if len(curve) > 0 {
		stats.FinalBalance = curve[len(curve)-1].Equity
	}
	stats.Profit = stats.FinalBalance - initial
	if initial > 0 {
		stats.ReturnPct = stats.Profit / initial
	}

	peak := initial
	var maxDD float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if p.Equity > stats.EquityPeak {
			stats.EquityPeak = p.Equity
		}
		if p.Equity < stats.EquityValley {
			stats.EquityValley = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	stats.MaxDrawdownPct = maxDD
	stats.Sharpe = sharpe(returnsOf(initial, curve))

	var grossWin, grossLoss float64
	for _, tr := range trades {
		stats.Trades++
		if tr.PnL > 0 {
			stats.Wins++
			grossWin += tr.PnL
		} else {
			stats.Losses++
			grossLoss += -tr.PnL
		}
	}
	if stats.Trades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Trades)
	}
	// zero when there are no losing trades: the ratio is undefined and
	// Inf does not survive JSON encoding
	if grossLoss > 0 {
		stats.ProfitFactor = grossWin / grossLoss
	}
	return stats
}

func returnsOf(initial float64, curve []EquityPoint) []float64 {
	if len(curve) == 0 {
		return nil
	}
	out := make([]float64, 0, len(curve))
	prev := initial
	for _, p := range curve {
		if prev > 0 {
			out = append(out, p.Equity/prev-1)
		}
		prev = p.Equity
	}
	return out
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
