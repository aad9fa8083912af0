package journal

import (
	"errors"
	"time"
)

// TradeRecord is one closed position.
type TradeRecord struct {
	TradeID     string    `db:"trade_id"`
	Symbol      string    `db:"symbol"`
	Side        string    `db:"side"`
	Size        float64   `db:"size"`
	Leverage    int       `db:"leverage"`
	EntryPrice  float64   `db:"entry_price"`
	ExitPrice   float64   `db:"exit_price"`
	OpenTime    time.Time `db:"open_time"`
	CloseTime   time.Time `db:"close_time"`
	RealizedPnL float64   `db:"realized_pnl"`
	Reason      string    `db:"reason"`
}

// EquitySnapshot is the account state after a monitoring pass.
type EquitySnapshot struct {
	Time               time.Time `db:"time"`
	Capital            float64   `db:"capital"`
	UnrealizedPnL      float64   `db:"unrealized_pnl"`
	RealizedPnL        float64   `db:"realized_pnl"`
	Drawdown           float64   `db:"drawdown"`
	NumPositions       int       `db:"num_positions"`
	TotalPositionValue float64   `db:"total_position_value"`
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// Reader is implemented by the journals that can be queried back.
type Reader interface {
	GetTrade(tradeID string) (TradeRecord, error)
	ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error)
	ListEquityBetween(start, end time.Time) ([]EquitySnapshot, error)
}

var (
	ErrTradeNotFound  = errors.New("trade not found")
	ErrDuplicateTrade = errors.New("duplicate trade")
)

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTrade(TradeRecord) error     { return nil }
func (Nop) RecordEquity(EquitySnapshot) error { return nil }
func (Nop) Close() error                      { return nil }

// Summary aggregates a set of closed trades.
type Summary struct {
	Trades       int
	Wins         int
	Losses       int
	GrossProfit  float64
	GrossLoss    float64
	NetPnL       float64
	ProfitFactor float64 // 0 when there were no losing trades
}

func Summarize(trades []TradeRecord) Summary {
	var s Summary
	for _, t := range trades {
		s.Trades++
		s.NetPnL += t.RealizedPnL
		switch {
		case t.RealizedPnL > 0:
			s.Wins++
			s.GrossProfit += t.RealizedPnL
		case t.RealizedPnL < 0:
			s.Losses++
			s.GrossLoss -= t.RealizedPnL
		}
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
	return s
}
