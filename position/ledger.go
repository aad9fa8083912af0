package position

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Ledger maps symbol to its open position. It is not safe for concurrent
// use; the engine serialises access.
type Ledger struct {
	positions map[string]Position
	log       zerolog.Logger
}

func NewLedger(log zerolog.Logger) *Ledger {
	return &Ledger{
		positions: make(map[string]Position),
		log:       log.With().Str("component", "ledger").Logger(),
	}
}

// Open records a new position. A second position for the same symbol is
// refused; callers close before reversing direction.
func (l *Ledger) Open(p Position) error {
	if err := p.validate(); err != nil {
		return fmt.Errorf("open %s: %w", p.Symbol, err)
	}
	if _, ok := l.positions[p.Symbol]; ok {
		l.log.Warn().Str("symbol", p.Symbol).Msg("position already open, ignoring")
		return fmt.Errorf("open %s: %w", p.Symbol, ErrPositionExists)
	}
	if p.Leverage < 1 {
		p.Leverage = 1
	}

	l.positions[p.Symbol] = p
	l.log.Debug().
		Str("symbol", p.Symbol).
		Str("side", p.Side()).
		Float64("size", p.Size).
		Float64("entry", p.EntryPrice).
		Int("leverage", p.Leverage).
		Float64("stop_loss", p.StopLoss).
		Float64("take_profit", p.TakeProfit).
		Msg("position added")
	return nil
}

// Close removes and returns the position for symbol. Closing a symbol with
// no position is a logged no-op.
func (l *Ledger) Close(symbol string) (Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		l.log.Warn().Str("symbol", symbol).Msg("close requested for unknown position")
		return Position{}, false
	}
	delete(l.positions, symbol)
	l.log.Info().Str("symbol", symbol).Msg("position removed")
	return p, true
}

func (l *Ledger) Get(symbol string) (Position, bool) {
	p, ok := l.positions[symbol]
	return p, ok
}

// All returns a copy of the open positions ordered by symbol.
func (l *Ledger) All() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (l *Ledger) Len() int {
	return len(l.positions)
}

// TotalNotional sums size*entry over every open position.
func (l *Ledger) TotalNotional() float64 {
	var total float64
	for _, p := range l.positions {
		total += p.Notional()
	}
	return total
}

// Monitor compares price against the stored protective levels. It never
// mutates the ledger; the caller acts on the returned trigger. The stop is
// checked first so a gap through both levels reports the stop.
func (l *Ledger) Monitor(symbol string, price float64) Trigger {
	p, ok := l.positions[symbol]
	if !ok {
		return TriggerNone
	}

	switch {
	case hitStopLoss(p, price):
		l.log.Warn().
			Str("symbol", symbol).
			Float64("price", price).
			Float64("stop_loss", p.StopLoss).
			Msg("stop loss triggered")
		return TriggerStopLoss
	case hitTakeProfit(p, price):
		l.log.Info().
			Str("symbol", symbol).
			Float64("price", price).
			Float64("take_profit", p.TakeProfit).
			Msg("take profit triggered")
		return TriggerTakeProfit
	}
	return TriggerNone
}
