package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Metrics 记录回测绩效指标。
type Metrics struct {
	TotalReturnPct decimal.Decimal
	MaxDrawdownPct decimal.Decimal
	SharpeRatio    float64
}

// calculateMetrics 从净值曲线推导绩效。step 为单根K线的时间跨度，
// 用于把夏普比率折算成年化。
func calculateMetrics(curve []decimal.Decimal, step time.Duration) Metrics {
	if len(curve) == 0 {
		return Metrics{}
	}

	initial := curve[0]
	final := curve[len(curve)-1]
	totalReturn := decimal.Zero
	if initial.IsPositive() {
		totalReturn = final.Div(initial).Sub(one)
	}

	return Metrics{
		TotalReturnPct: totalReturn,
		MaxDrawdownPct: computeDrawdown(curve),
		SharpeRatio:    computeSharpe(stepReturns(curve), step),
	}
}

func computeDrawdown(curve []decimal.Decimal) decimal.Decimal {
	peak := decimal.Zero
	maxDD := decimal.Zero
	for _, v := range curve {
		if v.GreaterThan(peak) {
			peak = v
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(v).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

func stepReturns(curve []decimal.Decimal) []float64 {
	returns := make([]float64, 0, len(curve))
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Float64()
		cur, _ := curve[i].Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, cur/prev-1)
	}
	return returns
}

func computeSharpe(returns []float64, step time.Duration) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	if len(returns) > 1 {
		variance /= float64(len(returns) - 1)
	}
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return (mean / std) * annualFactor(step)
}

// annualFactor 按单步时长换算年化倍率。
func annualFactor(step time.Duration) float64 {
	if step <= 0 {
		return 1
	}
	periods := float64(365*24*time.Hour) / float64(step)
	if periods <= 0 {
		return 1
	}
	return math.Sqrt(periods)
}
