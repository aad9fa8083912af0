package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/perptrader/broker"
	"github.com/rustyeddy/perptrader/capital"
	"github.com/rustyeddy/perptrader/journal"
	"github.com/rustyeddy/perptrader/market"
	"github.com/rustyeddy/perptrader/position"
	"github.com/rustyeddy/perptrader/risk"
	"github.com/rustyeddy/perptrader/signal"
)

type memJournal struct {
	mu     sync.Mutex
	trades []journal.TradeRecord
	equity []journal.EquitySnapshot
}

func (j *memJournal) RecordTrade(t journal.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, t)
	return nil
}

func (j *memJournal) RecordEquity(e journal.EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.equity = append(j.equity, e)
	return nil
}

func (j *memJournal) Close() error { return nil }

type failingVenue struct{}

func (failingVenue) SubmitOrder(context.Context, broker.OrderIntent) (int64, error) {
	return 0, errors.New("insufficient margin")
}
func (failingVenue) CancelOrder(context.Context, string, int64) error { return nil }
func (failingVenue) ModifyOrder(context.Context, string, int64, float64, float64) error {
	return nil
}
func (failingVenue) UpdateLeverage(context.Context, string, int, bool) error { return nil }

type fixture struct {
	eng     *Engine
	feed    *market.StaticFeed
	journal *memJournal
	metrics *Metrics
}

func newFixture(t *testing.T, mutate func(*Deps)) fixture {
	t.Helper()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	feed := market.NewStaticFeed(map[string]float64{"BTC": 50000, "ETH": 3000, "SOL": 100})
	j := &memJournal{}
	m := NewMetrics()

	d := Deps{
		Policy:         risk.DefaultPolicy(),
		Limits:         capital.Limits{MaxDrawdown: 0.20, MaxDailyLoss: 0.10},
		InitialCapital: 10000,
		Executor:       broker.NewExecutor(broker.ModePaper, nil),
		Prices:         feed,
		Journal:        j,
		Metrics:        m,
		Logger:         zerolog.Nop(),
		Clock:          func() time.Time { return now },
		MaxSizeRetries: 2,
	}
	if mutate != nil {
		mutate(&d)
	}
	e, err := New(d)
	require.NoError(t, err)
	return fixture{eng: e, feed: feed, journal: j, metrics: m}
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.WithLabelValues(labels...).Write(&m))
	return m.GetCounter().GetValue()
}

func ptr[T any](v T) *T { return &v }

func TestNewRejectsBadDeps(t *testing.T) {
	t.Parallel()

	exec := broker.NewExecutor(broker.ModePaper, nil)
	feed := market.NewStaticFeed(nil)

	_, err := New(Deps{Policy: risk.DefaultPolicy(), InitialCapital: 0, Executor: exec, Prices: feed})
	assert.Error(t, err)

	_, err = New(Deps{Policy: risk.Policy{}, InitialCapital: 1000, Executor: exec, Prices: feed})
	assert.Error(t, err)

	_, err = New(Deps{Policy: risk.DefaultPolicy(), InitialCapital: 1000, Prices: feed})
	assert.Error(t, err)

	e, err := New(Deps{Policy: risk.DefaultPolicy(), InitialCapital: 1000, Executor: exec, Prices: feed})
	require.NoError(t, err)
	assert.NotEmpty(t, e.SessionID())
	assert.Equal(t, broker.ModePaper, e.Mode())
}

func TestTickMarksLeveragedGain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.eng.AddPosition("BTC", 0.1, 50000, true, 5)
	require.NoError(t, err)

	f.feed.Set("BTC", 51000)
	rep := f.eng.Tick(context.Background())

	assert.Empty(t, rep.Closed)
	assert.InDelta(t, 500, rep.Valuation.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10500, rep.Valuation.Capital, 1e-9)

	m := f.eng.RiskMetrics()
	assert.InDelta(t, 10500, m.CurrentCapital, 1e-9)
	assert.InDelta(t, 10500, m.PeakCapital, 1e-9)
	assert.Equal(t, 1, m.NumPositions)
	assert.InDelta(t, 5000, m.TotalPositionValue, 1e-9)
	assert.True(t, m.TradingEnabled)

	require.Len(t, f.journal.equity, 1)
	snap := f.journal.equity[0]
	assert.InDelta(t, 10500, snap.Capital, 1e-9)
	assert.InDelta(t, 500, snap.UnrealizedPnL, 1e-9)
	assert.Equal(t, 1, snap.NumPositions)
	assert.InDelta(t, 5000, snap.TotalPositionValue, 1e-9)

	assert.InDelta(t, 10500, gaugeValue(t, f.metrics.Capital), 1e-9)
	assert.Equal(t, 1.0, gaugeValue(t, f.metrics.OpenPositions))

	// a second pass at the same price changes nothing
	rep2 := f.eng.Tick(context.Background())
	assert.Equal(t, rep.Valuation.Capital, rep2.Valuation.Capital)
	assert.InDelta(t, 10500, f.eng.RiskMetrics().PeakCapital, 1e-9)
}

func TestTickDrawdownLatchesAndStopCloses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.eng.AddPosition("BTC", 0.1, 50000, true, 5)
	require.NoError(t, err)

	f.feed.Set("BTC", 51000)
	f.eng.Tick(context.Background())

	f.feed.Set("BTC", 45000)
	rep := f.eng.Tick(context.Background())

	require.Len(t, rep.Closed, 1)
	c := rep.Closed[0]
	assert.True(t, c.Closed)
	assert.Equal(t, string(position.TriggerStopLoss), c.Reason)
	assert.InDelta(t, -2500, c.RealizedPnL, 1e-9)

	m := f.eng.RiskMetrics()
	assert.False(t, m.TradingEnabled)
	assert.InDelta(t, 7500, m.CurrentCapital, 1e-9)
	assert.InDelta(t, 10500, m.PeakCapital, 1e-9)
	assert.InDelta(t, (10500.0-7500.0)/10500.0, m.Drawdown, 1e-9)
	assert.Zero(t, m.NumPositions)

	d := f.eng.ValidateTrade("ETH", 0.01, 3000, 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, risk.CodeTradingDisabled, d.Code)
	assert.Contains(t, d.Reason, "risk limits active")

	assert.Equal(t, 1.0, counterValue(t, f.metrics.LatchTrips, "drawdown"))
	assert.Equal(t, 0.0, gaugeValue(t, f.metrics.TradingEnabled))

	require.Len(t, f.journal.trades, 1)
	tr := f.journal.trades[0]
	assert.Equal(t, "BTC", tr.Symbol)
	assert.Equal(t, "LONG", tr.Side)
	assert.Equal(t, 5, tr.Leverage)
	assert.Equal(t, "close_stop_loss", tr.Reason)
	assert.Len(t, tr.TradeID, 26)

	f.eng.ResetLatch()
	assert.True(t, f.eng.RiskMetrics().TradingEnabled)
	assert.True(t, f.eng.ValidateTrade("ETH", 0.01, 3000, 1).Allowed)
}

func TestTickTakeProfitShort(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	p, err := f.eng.AddPosition("ETH", 1, 3000, false, 2)
	require.NoError(t, err)
	assert.InDelta(t, 2700, p.TakeProfit, 1e-9)
	assert.InDelta(t, 3150, p.StopLoss, 1e-9)

	f.feed.Set("ETH", 2650)
	rep := f.eng.Tick(context.Background())
	require.Len(t, rep.Closed, 1)
	assert.Equal(t, string(position.TriggerTakeProfit), rep.Closed[0].Reason)
	assert.InDelta(t, 700, rep.Closed[0].RealizedPnL, 1e-9)
	assert.InDelta(t, 10700, rep.Valuation.Capital, 1e-9)
	assert.Equal(t, 1.0, counterValue(t, f.metrics.Closes, "close_take_profit"))
}

func TestTickMissingPriceUsesLastMark(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.eng.AddPosition("SOL", 10, 100, true, 1)
	require.NoError(t, err)
	f.feed.Set("SOL", 104)
	f.eng.Tick(context.Background())

	f.feed.Delete("SOL")
	rep := f.eng.Tick(context.Background())
	assert.Equal(t, []string{"SOL"}, rep.Missing)
	assert.Equal(t, []string{"SOL"}, rep.Valuation.Missing)
	assert.Empty(t, rep.Closed)
	assert.InDelta(t, 40, rep.Valuation.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10040, rep.Valuation.Capital, 1e-9)
	assert.Equal(t, 1.0, counterValue(t, f.metrics.MissingMark, "SOL"))
	_, ok := f.eng.Position("SOL")
	assert.True(t, ok)
}

func TestTickNeverMarkedValuedAtEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.feed.Delete("SOL")
	_, err := f.eng.AddPosition("SOL", 10, 100, true, 1)
	require.NoError(t, err)

	rep := f.eng.Tick(context.Background())
	assert.Equal(t, []string{"SOL"}, rep.Missing)
	assert.Zero(t, rep.Valuation.UnrealizedPnL)
	assert.InDelta(t, 10000, rep.Valuation.Capital, 1e-9)
}

func TestTickFeedOutageKeepsTradingEnabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.eng.AddPosition("BTC", 0.2, 50000, true, 5)
	require.NoError(t, err)

	f.feed.Set("BTC", 54000)
	rep := f.eng.Tick(ctx)
	require.InDelta(t, 14000, rep.Valuation.Capital, 1e-9)

	f.feed.Delete("BTC")
	rep = f.eng.Tick(ctx)
	assert.InDelta(t, 14000, rep.Valuation.Capital, 1e-9)
	assert.Zero(t, rep.Valuation.Drawdown)
	assert.False(t, rep.Valuation.Tripped)
	assert.True(t, f.eng.RiskMetrics().TradingEnabled)

	f.feed.Set("BTC", 54000)
	rep = f.eng.Tick(ctx)
	assert.InDelta(t, 14000, rep.Valuation.Capital, 1e-9)
	assert.Empty(t, rep.Missing)

	m := f.eng.RiskMetrics()
	assert.True(t, m.TradingEnabled)
	assert.InDelta(t, 14000, m.PeakCapital, 1e-9)
	assert.Zero(t, m.Drawdown)
	assert.Equal(t, 0.0, counterValue(t, f.metrics.LatchTrips, "drawdown"))
}

func TestValidateTradePerSymbolLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *Deps) { d.Policy.MaxPositionPerSymbol = 0.40 })

	d := f.eng.ValidateTrade("BTC", 1.0, 50000, 5)
	assert.False(t, d.Allowed)
	assert.Equal(t, risk.CodePositionTooBig, d.Code)
	assert.Equal(t, 1.0, counterValue(t, f.metrics.Rejections, risk.CodePositionTooBig))

	d = f.eng.ValidateTrade("BTC", 0.08, 50000, 5)
	assert.True(t, d.Allowed)
	assert.Equal(t, "validated", d.Reason)
}

func TestOpenThenCloseRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.eng.OpenPosition(ctx, OpenRequest{Symbol: "btc", IsLong: true, Confidence: 0.5})
	require.NoError(t, err)
	require.True(t, res.Opened)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int64(1), res.Order.OrderID)
	assert.InDelta(t, 0.03, res.Position.Size, 1e-12)
	assert.Equal(t, 3, res.Position.Leverage)
	assert.InDelta(t, 47500, res.Position.StopLoss, 1e-9)
	assert.InDelta(t, 55000, res.Position.TakeProfit, 1e-9)

	f.feed.Set("BTC", 51000)
	c, err := f.eng.ClosePosition(ctx, "BTC", "manual")
	require.NoError(t, err)
	require.True(t, c.Closed)
	assert.Equal(t, int64(2), c.Order.OrderID)

	want := (51000.0 - 50000.0) * 0.03 * 3
	assert.InDelta(t, want, c.RealizedPnL, 1e-9)

	m := f.eng.RiskMetrics()
	assert.Zero(t, m.NumPositions)
	assert.InDelta(t, want, m.RealizedPnL, 1e-9)
	assert.InDelta(t, 10000+want, m.CurrentCapital, 1e-9)

	_, err = f.eng.ClosePosition(ctx, "BTC", "manual")
	assert.ErrorIs(t, err, ErrNoPosition)
	assert.Equal(t, 2.0, counterValue(t, f.metrics.Orders, "PAPER", "ok"))
}

func TestOpenPositionRejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.eng.OpenPosition(ctx, OpenRequest{Symbol: "BTC", IsLong: true, Confidence: 1, Leverage: ptr(10)})
	require.NoError(t, err)
	assert.False(t, res.Opened)
	assert.Equal(t, risk.CodeLeverageTooHigh, res.Decision.Code)
	assert.Equal(t, 1, res.Attempts)

	_, err = f.eng.OpenPosition(ctx, OpenRequest{Symbol: "PEPE", IsLong: true, Confidence: 1})
	assert.ErrorIs(t, err, ErrSymbolNotAllowed)

	_, err = f.eng.OpenPosition(ctx, OpenRequest{Symbol: "DOGE", IsLong: true, Confidence: 1})
	assert.ErrorIs(t, err, market.ErrPriceUnavailable)

	_, err = f.eng.AddPosition("SOL", 1, 100, true, 1)
	require.NoError(t, err)
	_, err = f.eng.OpenPosition(ctx, OpenRequest{Symbol: "SOL", IsLong: false, Confidence: 1})
	assert.ErrorIs(t, err, ErrPositionOpen)

	_, err = f.eng.AddPosition("SOL", 1, 100, true, 1)
	assert.ErrorIs(t, err, position.ErrPositionExists)
}

func TestOpenPositionShrinksOnExposure(t *testing.T) {
	t.Parallel()

	setup := func(retries int) fixture {
		f := newFixture(t, func(d *Deps) { d.MaxSizeRetries = retries })
		_, err := f.eng.AddPosition("ETH", 2, 3000, true, 1)
		require.NoError(t, err)
		_, err = f.eng.AddPosition("SOL", 12, 100, true, 1)
		require.NoError(t, err)
		return f
	}

	// 7200 already open against an 8000 total limit; 1900 and 950 do not fit, 475 does.
	f := setup(2)
	res, err := f.eng.OpenPosition(context.Background(), OpenRequest{Symbol: "BTC", IsLong: true, Confidence: 0.9})
	require.NoError(t, err)
	require.True(t, res.Opened)
	assert.Equal(t, 3, res.Attempts)
	assert.InDelta(t, 0.0095, res.Position.Size, 1e-12)

	f = setup(1)
	res, err = f.eng.OpenPosition(context.Background(), OpenRequest{Symbol: "BTC", IsLong: true, Confidence: 0.9})
	require.NoError(t, err)
	assert.False(t, res.Opened)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, risk.CodeExposureTooHigh, res.Decision.Code)
	assert.Equal(t, 2.0, counterValue(t, f.metrics.Rejections, risk.CodeExposureTooHigh))
}

func TestLiveOrderFailureLeavesLedgerUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *Deps) {
		d.Executor = broker.NewExecutor(broker.ModeLive, failingVenue{})
	})

	res, err := f.eng.OpenPosition(context.Background(), OpenRequest{Symbol: "BTC", IsLong: true, Confidence: 0.5})
	require.NoError(t, err)
	assert.True(t, res.Decision.Allowed)
	assert.False(t, res.Opened)
	assert.Equal(t, broker.StatusError, res.Order.Status)
	assert.Contains(t, res.Order.Error(), "insufficient margin")
	assert.Empty(t, f.eng.Positions())
	assert.Equal(t, 1.0, counterValue(t, f.metrics.Orders, "LIVE", "error"))

	_, err = f.eng.AddPosition("BTC", 0.01, 50000, true, 1)
	require.NoError(t, err)
	c, err := f.eng.ClosePosition(context.Background(), "BTC", "manual")
	require.NoError(t, err)
	assert.False(t, c.Closed)
	_, ok := f.eng.Position("BTC")
	assert.True(t, ok, "failed close keeps the position")
}

func TestDailyLossLatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.eng.AddPosition("BTC", 0.1, 50000, true, 5)
	require.NoError(t, err)

	f.feed.Set("BTC", 47600)
	c, err := f.eng.ClosePosition(context.Background(), "BTC", "manual")
	require.NoError(t, err)
	assert.InDelta(t, -1200, c.RealizedPnL, 1e-9)
	assert.True(t, c.Tripped)

	m := f.eng.RiskMetrics()
	assert.False(t, m.TradingEnabled)
	assert.InDelta(t, -1200, m.DailyPnL, 1e-9)
	assert.InDelta(t, 8800, m.CurrentCapital, 1e-9)
	assert.Equal(t, 1.0, counterValue(t, f.metrics.LatchTrips, "daily_loss"))
}

func TestRemovePosition(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.eng.AddPosition("SOL", 3, 110, false, 2)
	require.NoError(t, err)

	m := f.eng.RiskMetrics()
	assert.InDelta(t, 60, m.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10060, m.CurrentCapital, 1e-9)
	assert.InDelta(t, 330, m.TotalPositionValue, 1e-9)
	assert.Equal(t, 1, m.NumPositions)

	p, ok := f.eng.RemovePosition("SOL")
	require.True(t, ok)
	assert.Equal(t, "SOL", p.Symbol)

	m = f.eng.RiskMetrics()
	assert.Zero(t, m.UnrealizedPnL)
	assert.InDelta(t, 10000, m.CurrentCapital, 1e-9)
	assert.Zero(t, m.NumPositions)
	assert.InDelta(t, 10000, gaugeValue(t, f.metrics.Capital), 1e-9)

	_, ok = f.eng.RemovePosition("SOL")
	assert.False(t, ok)
	assert.Empty(t, f.journal.trades, "remove does not realize")
}

func TestApplyDecisions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	buy := signal.Buy{Trade: signal.Trade{Asset: "BTC", Confidence: 0.8, Leverage: ptr(2)}}
	sell := signal.Sell{Trade: signal.Trade{Asset: "BTC", Confidence: 0.8}}

	got := f.eng.ApplyDecisions(ctx, []signal.Decision{
		buy,
		signal.Hold{Asset: "ETH"},
		signal.Buy{Trade: signal.Trade{Asset: "PEPE", Confidence: 1}},
	})
	require.Len(t, got, 3)
	assert.Equal(t, OutcomeOpened, got[0].Outcome)
	assert.Equal(t, OutcomeSkipped, got[1].Outcome)
	assert.Equal(t, OutcomeSkipped, got[2].Outcome)

	p, ok := f.eng.Position("BTC")
	require.True(t, ok)
	assert.True(t, p.IsLong)
	assert.Equal(t, 2, p.Leverage)

	got = f.eng.ApplyDecisions(ctx, []signal.Decision{buy})
	assert.Equal(t, OutcomeSkipped, got[0].Outcome)
	assert.Contains(t, got[0].Detail, "already long")

	got = f.eng.ApplyDecisions(ctx, []signal.Decision{sell})
	assert.Equal(t, OutcomeClosed, got[0].Outcome)
	_, ok = f.eng.Position("BTC")
	assert.False(t, ok, "opposite signal closes without reversing")
	require.Len(t, f.journal.trades, 1)
	assert.Equal(t, "signal_sell", f.journal.trades[0].Reason)

	got = f.eng.ApplyDecisions(ctx, []signal.Decision{sell})
	assert.Equal(t, OutcomeOpened, got[0].Outcome)
	p, ok = f.eng.Position("BTC")
	require.True(t, ok)
	assert.False(t, p.IsLong)
}

func TestApplyDecisionsWhileLatchedOnlyCloses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.eng.AddPosition("ETH", 1, 3000, false, 1)
	require.NoError(t, err)
	_, err = f.eng.AddPosition("BTC", 0.1, 50000, true, 5)
	require.NoError(t, err)
	f.feed.Set("BTC", 47600)
	_, err = f.eng.ClosePosition(ctx, "BTC", "manual")
	require.NoError(t, err)
	require.False(t, f.eng.RiskMetrics().TradingEnabled)

	got := f.eng.ApplyDecisions(ctx, []signal.Decision{
		signal.Buy{Trade: signal.Trade{Asset: "SOL", Confidence: 1}},
		signal.Sell{Trade: signal.Trade{Asset: "ETH", Confidence: 1}},
		signal.Buy{Trade: signal.Trade{Asset: "ETH", Confidence: 1}},
		signal.Buy{Trade: signal.Trade{Asset: "ETH", Confidence: 1}},
	})
	require.Len(t, got, 4)
	assert.Equal(t, OutcomeSkipped, got[0].Outcome)
	assert.Equal(t, "trading disabled", got[0].Detail)
	assert.Equal(t, OutcomeSkipped, got[1].Outcome, "same side never adds")
	assert.Equal(t, "trading disabled", got[1].Detail)
	assert.Equal(t, OutcomeClosed, got[2].Outcome)
	assert.Equal(t, OutcomeSkipped, got[3].Outcome, "flat after the close, no new entry")

	assert.Empty(t, f.eng.Positions())
	require.Len(t, f.journal.trades, 2)
	assert.Equal(t, "signal_buy", f.journal.trades[1].Reason)
	assert.False(t, f.eng.RiskMetrics().TradingEnabled)
}

func TestApplyDecisionsReportsRejection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	got := f.eng.ApplyDecisions(context.Background(), []signal.Decision{
		signal.Buy{Trade: signal.Trade{Asset: "ETH", Confidence: 1, Leverage: ptr(20)}},
	})
	require.Len(t, got, 1)
	assert.Equal(t, OutcomeRejected, got[0].Outcome)
	assert.Equal(t, risk.CodeLeverageTooHigh, got[0].Detail)
}

func TestCloseAll(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.eng.AddPosition("BTC", 0.01, 50000, true, 1)
	require.NoError(t, err)
	_, err = f.eng.AddPosition("ETH", 0.5, 3000, false, 1)
	require.NoError(t, err)
	_, err = f.eng.AddPosition("SOL", 1, 100, true, 1)
	require.NoError(t, err)
	f.feed.Delete("SOL")

	res, err := f.eng.CloseAll(context.Background(), "shutdown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOL")
	assert.Len(t, res, 2)

	left := f.eng.Positions()
	require.Len(t, left, 1)
	assert.Equal(t, "SOL", left[0].Symbol)
	assert.Len(t, f.journal.trades, 2)
	assert.NotEmpty(t, f.journal.equity)
}

func TestMetricsRegister(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg), "double registration")

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.order("PAPER", "ok")
		nilMetrics.tick()
		nilMetrics.observeState(capital.State{}, 0, 0, 0)
	})
}

func TestVolatilityDampsSizing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *Deps) {
		d.Volatility = market.NewVolatility(2)
		d.Watch = []string{"btc"}
	})
	ctx := context.Background()

	for _, p := range []float64{50000, 55000, 49500} {
		f.feed.Set("BTC", p)
		f.eng.Tick(ctx)
	}

	res, err := f.eng.OpenPosition(ctx, OpenRequest{Symbol: "BTC", IsLong: true, Confidence: 1})
	require.NoError(t, err)
	require.True(t, res.Opened)

	vol := 0.14142135623730953 // sample stddev of +10% and -10%
	want := 10000 * 0.20 / (1 + 10*vol) / 49500
	assert.InDelta(t, want, res.Position.Size, 1e-9)

	// an explicit estimate wins
	_, err = f.eng.ClosePosition(ctx, "BTC", "manual")
	require.NoError(t, err)
	res, err = f.eng.OpenPosition(ctx, OpenRequest{Symbol: "BTC", IsLong: true, Confidence: 0.5, Volatility: ptr(0.0)})
	require.NoError(t, err)
	require.True(t, res.Opened)
	assert.InDelta(t, 10000*0.20*0.75/49500, res.Position.Size, 1e-9)
}
