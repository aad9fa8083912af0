package risk

import "fmt"

// Unbounded disables the leverage cap when used as MaxLeverage.
const Unbounded = 0

type Policy struct {
	// Exposure limits, as fractions of current capital.
	MaxPositionPerSymbol float64 // 0.20
	MaxTotalPosition     float64 // 0.80

	DefaultLeverage int // 3
	MaxLeverage     int // 5, or Unbounded

	// Protective levels, as fractions of entry price.
	StopLossPct   float64 // 0.05
	TakeProfitPct float64 // 0.10
}

func DefaultPolicy() Policy {
	return Policy{
		MaxPositionPerSymbol: 0.20,
		MaxTotalPosition:     0.80,
		DefaultLeverage:      3,
		MaxLeverage:          5,
		StopLossPct:          0.05,
		TakeProfitPct:        0.10,
	}
}

func (p Policy) Validate() error {
	if p.MaxPositionPerSymbol <= 0 || p.MaxPositionPerSymbol > 1 {
		return fmt.Errorf("max_position_per_symbol must be in (0, 1]")
	}
	if p.MaxTotalPosition <= 0 {
		return fmt.Errorf("max_total_position must be positive")
	}
	if p.MaxTotalPosition < p.MaxPositionPerSymbol {
		return fmt.Errorf("max_total_position must be >= max_position_per_symbol")
	}
	if p.MaxLeverage < 0 {
		return fmt.Errorf("max_leverage must be >= 0 (0 means unbounded)")
	}
	if p.DefaultLeverage < 1 {
		return fmt.Errorf("default_leverage must be >= 1")
	}
	if p.MaxLeverage != Unbounded && p.DefaultLeverage > p.MaxLeverage {
		return fmt.Errorf("default_leverage %d exceeds max_leverage %d", p.DefaultLeverage, p.MaxLeverage)
	}
	if p.StopLossPct <= 0 || p.StopLossPct >= 1 {
		return fmt.Errorf("stop_loss_pct must be in (0, 1)")
	}
	if p.TakeProfitPct <= 0 {
		return fmt.Errorf("take_profit_pct must be positive")
	}
	return nil
}

// TradeIntent is a proposed entry.
type TradeIntent struct {
	Symbol   string
	Size     float64
	Price    float64
	Leverage int
}

// Notional is size * price.
func (t TradeIntent) Notional() float64 {
	return t.Size * t.Price
}

// Exposure is the ledger/capital state a trade is checked against.
type Exposure struct {
	CurrentCapital float64
	OpenNotional   float64
	TradingEnabled bool
}
