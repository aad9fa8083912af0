// Package capital tracks initial, current and peak capital, realized PnL and
// the daily-loss window, and owns the trading-enabled latch.
package capital

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/perptrader/position"
)

// Limits are the capital-preservation thresholds, as fractions.
type Limits struct {
	MaxDrawdown  float64 // of peak capital, e.g. 0.20
	MaxDailyLoss float64 // of initial capital, e.g. 0.10
}

// State is a point-in-time copy of the tracker.
type State struct {
	InitialCapital   float64
	CurrentCapital   float64
	PeakCapital      float64
	RealizedPnL      float64
	DailyPnL         float64
	DailyWindowStart time.Time
	TradingEnabled   bool
	Drawdown         float64
}

// Valuation is the result of marking open positions to market.
type Valuation struct {
	Capital       float64
	UnrealizedPnL float64
	TotalNotional float64
	Drawdown      float64
	// Missing lists symbols that had no price. They contribute no PnL and
	// the valuation neither raises the peak nor trips the drawdown latch.
	Missing []string
	// Tripped is true only when this call latched trading off.
	Tripped bool
}

type Tracker struct {
	limits Limits
	now    func() time.Time
	log    zerolog.Logger

	initial     float64
	current     float64
	peak        float64
	realized    float64
	daily       float64
	windowStart time.Time
	enabled     bool
}

type Option func(*Tracker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

func NewTracker(limits Limits, opts ...Option) *Tracker {
	t := &Tracker{
		limits: limits,
		now:    time.Now,
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(t)
	}
	t.log = t.log.With().Str("component", "capital").Logger()
	return t
}

// Initialize sets initial = current = peak = capital and enables trading.
func (t *Tracker) Initialize(capital float64) {
	t.initial = capital
	t.current = capital
	t.peak = capital
	t.realized = 0
	t.daily = 0
	t.windowStart = startOfDay(t.now())
	t.enabled = true
	t.log.Info().Float64("capital", capital).Msg("capital initialized")
}

// Recompute marks every position at its current price. Calling it again
// with the same inputs yields the same capital and leaves peak unchanged.
// A valuation with unpriced positions is partial: capital is reported but
// peak and the drawdown latch are left alone.
func (t *Tracker) Recompute(positions []position.Position, prices map[string]float64) Valuation {
	var v Valuation
	for _, p := range positions {
		v.TotalNotional += p.Notional()
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			v.Missing = append(v.Missing, p.Symbol)
			continue
		}
		v.UnrealizedPnL += p.PnL(price)
	}

	t.current = t.initial + t.realized + v.UnrealizedPnL
	partial := len(v.Missing) > 0
	if t.current > t.peak && !partial {
		t.peak = t.current
	}

	v.Capital = t.current
	v.Drawdown = t.Drawdown()

	if v.Drawdown > t.limits.MaxDrawdown && t.enabled && !partial {
		t.enabled = false
		v.Tripped = true
		t.log.Error().
			Bool("critical", true).
			Float64("drawdown", v.Drawdown).
			Float64("max_drawdown", t.limits.MaxDrawdown).
			Msg("maximum drawdown exceeded, trading disabled")
	}
	return v
}

// RecordRealized books a closed position's PnL and checks the daily loss
// limit. It reports whether this call latched trading off.
func (t *Tracker) RecordRealized(pnl float64) bool {
	t.rollWindow()

	t.realized += pnl
	t.daily += pnl

	limit := t.initial * t.limits.MaxDailyLoss
	if t.daily < 0 && -t.daily > limit && t.enabled {
		t.enabled = false
		t.log.Error().
			Bool("critical", true).
			Float64("daily_pnl", t.daily).
			Float64("limit", -limit).
			Msg("daily loss limit exceeded, trading disabled")
		return true
	}
	return false
}

func (t *Tracker) rollWindow() {
	now := t.now()
	if !now.Before(t.windowStart.Add(24 * time.Hour)) {
		t.log.Info().Float64("daily_pnl", t.daily).Msg("daily window rolled")
		t.daily = 0
		t.windowStart = startOfDay(now)
	}
}

// Drawdown is the fractional decline from peak, never negative.
func (t *Tracker) Drawdown() float64 {
	if t.peak <= 0 {
		return 0
	}
	dd := (t.peak - t.current) / t.peak
	if dd < 0 {
		return 0
	}
	return dd
}

func (t *Tracker) TradingEnabled() bool {
	return t.enabled
}

func (t *Tracker) CurrentCapital() float64 {
	return t.current
}

// ResetLatch re-enables trading after a breach. Nothing inside the engine
// calls it; it exists for an operator.
func (t *Tracker) ResetLatch() {
	if t.enabled {
		return
	}
	t.enabled = true
	t.log.Warn().Float64("drawdown", t.Drawdown()).Msg("trading latch reset")
}

func (t *Tracker) State() State {
	return State{
		InitialCapital:   t.initial,
		CurrentCapital:   t.current,
		PeakCapital:      t.peak,
		RealizedPnL:      t.realized,
		DailyPnL:         t.daily,
		DailyWindowStart: t.windowStart,
		TradingEnabled:   t.enabled,
		Drawdown:         t.Drawdown(),
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
