// Package position keeps the authoritative ledger of open positions, one per
// symbol, together with their protective stop-loss and take-profit levels.
package position

import (
	"errors"
	"time"
)

var (
	ErrPositionExists  = errors.New("position already open")
	ErrInvalidPosition = errors.New("invalid position")
)

type Position struct {
	Symbol     string
	Size       float64 // base-asset units, always positive
	EntryPrice float64
	IsLong     bool
	Leverage   int

	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time
}

// Side returns "long" or "short".
func (p Position) Side() string {
	if p.IsLong {
		return "long"
	}
	return "short"
}

// Notional is the unleveraged value at entry.
func (p Position) Notional() float64 {
	return p.Size * p.EntryPrice
}

// PnL is the leveraged profit or loss if the position were marked at price.
func (p Position) PnL(price float64) float64 {
	lev := p.Leverage
	if lev < 1 {
		lev = 1
	}
	move := price - p.EntryPrice
	if !p.IsLong {
		move = -move
	}
	return move * p.Size * float64(lev)
}

func (p Position) validate() error {
	if p.Symbol == "" {
		return errors.Join(ErrInvalidPosition, errors.New("symbol is required"))
	}
	if p.Size <= 0 {
		return errors.Join(ErrInvalidPosition, errors.New("size must be positive"))
	}
	if p.EntryPrice <= 0 {
		return errors.Join(ErrInvalidPosition, errors.New("entry price must be positive"))
	}
	return nil
}
