package position

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func btcLong() Position {
	return Position{
		Symbol:     "BTC",
		Size:       0.1,
		EntryPrice: 50000,
		IsLong:     true,
		Leverage:   5,
		StopLoss:   47500,
		TakeProfit: 55000,
		OpenedAt:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestLedgerOpenClose(t *testing.T) {
	t.Parallel()

	l := NewLedger(zerolog.Nop())
	require.NoError(t, l.Open(btcLong()))
	assert.Equal(t, 1, l.Len())

	p, ok := l.Get("BTC")
	require.True(t, ok)
	assert.InDelta(t, 5000.0, p.Notional(), 1e-9)

	closed, ok := l.Close("BTC")
	require.True(t, ok)
	assert.Equal(t, "BTC", closed.Symbol)
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.All())
}

func TestLedgerOpenLogsAtDebug(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewLedger(zerolog.New(&buf).Level(zerolog.InfoLevel))
	require.NoError(t, l.Open(btcLong()))
	assert.Empty(t, buf.String())

	buf.Reset()
	l = NewLedger(zerolog.New(&buf).Level(zerolog.DebugLevel))
	require.NoError(t, l.Open(btcLong()))
	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), "position added")
}

func TestLedgerRejectsDuplicateSymbol(t *testing.T) {
	t.Parallel()

	l := NewLedger(zerolog.Nop())
	require.NoError(t, l.Open(btcLong()))

	short := btcLong()
	short.IsLong = false
	err := l.Open(short)
	assert.ErrorIs(t, err, ErrPositionExists)

	p, _ := l.Get("BTC")
	assert.True(t, p.IsLong, "existing position must be untouched")
}

func TestLedgerRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mut  func(*Position)
	}{
		{"no symbol", func(p *Position) { p.Symbol = "" }},
		{"zero size", func(p *Position) { p.Size = 0 }},
		{"negative entry", func(p *Position) { p.EntryPrice = -1 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := NewLedger(zerolog.Nop())
			p := btcLong()
			tt.mut(&p)
			assert.ErrorIs(t, l.Open(p), ErrInvalidPosition)
			assert.Equal(t, 0, l.Len())
		})
	}
}

func TestLedgerCloseUnknownIsNoop(t *testing.T) {
	t.Parallel()

	l := NewLedger(zerolog.Nop())
	_, ok := l.Close("ETH")
	assert.False(t, ok)
}

func TestLedgerAllSortedAndTotal(t *testing.T) {
	t.Parallel()

	l := NewLedger(zerolog.Nop())
	require.NoError(t, l.Open(Position{Symbol: "SOL", Size: 10, EntryPrice: 100, IsLong: true, Leverage: 1}))
	require.NoError(t, l.Open(btcLong()))
	require.NoError(t, l.Open(Position{Symbol: "ETH", Size: 1, EntryPrice: 3000, Leverage: 0}))

	all := l.All()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, []string{all[0].Symbol, all[1].Symbol, all[2].Symbol})
	assert.Equal(t, 1, all[1].Leverage, "leverage floors at 1")
	assert.InDelta(t, 5000.0+3000.0+1000.0, l.TotalNotional(), 1e-9)
}

func TestLedgerMonitor(t *testing.T) {
	t.Parallel()

	long := btcLong()
	short := Position{Symbol: "ETH", Size: 1, EntryPrice: 3000, Leverage: 2, StopLoss: 3150, TakeProfit: 2700}

	tests := []struct {
		name  string
		pos   Position
		price float64
		want  Trigger
	}{
		{"long inside band", long, 50000, TriggerNone},
		{"long at stop", long, 47500, TriggerStopLoss},
		{"long below stop", long, 40000, TriggerStopLoss},
		{"long at target", long, 55000, TriggerTakeProfit},
		{"short inside band", short, 3000, TriggerNone},
		{"short at stop", short, 3150, TriggerStopLoss},
		{"short above stop", short, 3500, TriggerStopLoss},
		{"short at target", short, 2700, TriggerTakeProfit},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := NewLedger(zerolog.Nop())
			require.NoError(t, l.Open(tt.pos))
			assert.Equal(t, tt.want, l.Monitor(tt.pos.Symbol, tt.price))
			assert.Equal(t, 1, l.Len(), "monitor must not close")
		})
	}
}

func TestLedgerMonitorUnknownSymbol(t *testing.T) {
	t.Parallel()

	l := NewLedger(zerolog.Nop())
	assert.Equal(t, TriggerNone, l.Monitor("DOGE", 0.1))
}

func TestPositionPnL(t *testing.T) {
	t.Parallel()

	long := btcLong()
	assert.InDelta(t, 500.0, long.PnL(51000), 1e-9)
	assert.InDelta(t, -2500.0, long.PnL(45000), 1e-9)

	short := long
	short.IsLong = false
	assert.InDelta(t, -500.0, short.PnL(51000), 1e-9)
	assert.InDelta(t, 2500.0, short.PnL(45000), 1e-9)
	assert.Equal(t, "short", short.Side())
}
