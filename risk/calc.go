package risk

import "math"

// PositionSize converts the per-symbol budget into base units. Confidence
// scales the budget linearly between 0.5x and 1x; volatility damps it by
// 1/(1+10*vol).
func (v *Validator) PositionSize(capital, entryPrice, confidence, volatility float64) float64 {
	if entryPrice <= 0 || capital <= 0 {
		return 0
	}
	confidence = math.Max(0, math.Min(1, confidence))
	if volatility < 0 {
		volatility = 0
	}

	value := capital * v.Policy.MaxPositionPerSymbol
	value *= 0.5 + confidence*0.5
	value *= 1.0 / (1.0 + volatility*10)
	return value / entryPrice
}

// StopLoss is entry*(1-pct) for longs and entry*(1+pct) for shorts.
func (v *Validator) StopLoss(entryPrice float64, isLong bool) float64 {
	if isLong {
		return entryPrice * (1 - v.Policy.StopLossPct)
	}
	return entryPrice * (1 + v.Policy.StopLossPct)
}

// TakeProfit mirrors StopLoss with TakeProfitPct.
func (v *Validator) TakeProfit(entryPrice float64, isLong bool) float64 {
	if isLong {
		return entryPrice * (1 + v.Policy.TakeProfitPct)
	}
	return entryPrice * (1 - v.Policy.TakeProfitPct)
}

// RewardRisk is |tp-entry| / |entry-stop|, 0 when the stop sits on entry.
func RewardRisk(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(takeProfit-entry) / risk
}

// Leverage picks the requested leverage or the policy default.
func (v *Validator) Leverage(requested *int) int {
	if requested == nil || *requested < 1 {
		return v.Policy.DefaultLeverage
	}
	return *requested
}
