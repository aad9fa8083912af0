package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rustyeddy/perptrader/capital"
	"github.com/rustyeddy/perptrader/journal"
	"github.com/rustyeddy/perptrader/market"
	"github.com/rustyeddy/perptrader/position"
	"github.com/rustyeddy/perptrader/signal"
)

type TickReport struct {
	Valuation capital.Valuation
	Closed    []CloseResult
	Missing   []string
}

// Tick is one monitoring pass: mark every open position, close the ones
// whose stop-loss or take-profit was hit, re-mark and snapshot equity.
func (e *Engine) Tick(ctx context.Context) TickReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.metrics.tick()

	open := e.ledger.All()
	symbols := make([]string, len(open))
	for i, p := range open {
		symbols[i] = p.Symbol
	}
	prices, missing := market.Prices(ctx, e.prices, symbols)
	e.missingLocked(missing)
	e.recomputeLocked(open, prices)
	e.observeVolatilityLocked(ctx, prices)

	var rep TickReport
	rep.Missing = missing
	for _, p := range open {
		price, ok := prices[p.Symbol]
		if !ok {
			continue
		}
		trig := e.ledger.Monitor(p.Symbol, price)
		if trig == position.TriggerNone {
			continue
		}
		rep.Closed = append(rep.Closed, e.closeLocked(ctx, p.Symbol, string(trig), price))
	}

	rep.Valuation = e.recomputeLocked(e.ledger.All(), prices)
	e.snapshotLocked(rep.Valuation)
	return rep
}

// observeVolatilityLocked feeds this tick's marks, plus prices for watched
// symbols without a position, to the volatility estimator.
func (e *Engine) observeVolatilityLocked(ctx context.Context, marks map[string]float64) {
	if e.vol == nil {
		return
	}
	var extra []string
	for _, s := range e.watch {
		s = strings.ToUpper(s)
		if _, ok := marks[s]; !ok {
			extra = append(extra, s)
		}
	}
	watched, _ := market.Prices(ctx, e.prices, extra)
	for s, p := range marks {
		e.vol.Update(s, p)
	}
	for s, p := range watched {
		e.vol.Update(s, p)
	}
}

func (e *Engine) snapshotLocked(v capital.Valuation) {
	s := e.tracker.State()
	err := e.journal.RecordEquity(journal.EquitySnapshot{
		Time:               e.now(),
		Capital:            v.Capital,
		UnrealizedPnL:      v.UnrealizedPnL,
		RealizedPnL:        s.RealizedPnL,
		Drawdown:           v.Drawdown,
		NumPositions:       e.ledger.Len(),
		TotalPositionValue: v.TotalNotional,
	})
	if err != nil {
		e.log.Error().Err(err).Msg("journal equity failed")
	}
}

// Outcome values reported by ApplyDecisions.
const (
	OutcomeOpened   = "opened"
	OutcomeClosed   = "closed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
)

type Applied struct {
	Symbol  string
	Action  signal.Action
	Outcome string
	Detail  string
}

// ApplyDecisions executes a batch of decisions. While trading is disabled
// only decisions that close an open position run. A position is never
// reversed in one step: an opposite decision closes it and a later decision
// may open the other side.
func (e *Engine) ApplyDecisions(ctx context.Context, ds []signal.Decision) []Applied {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Applied, 0, len(ds))
	for _, d := range ds {
		if !e.tracker.TradingEnabled() && !e.closesLocked(d) {
			e.log.Warn().Str("symbol", d.Symbol()).Stringer("action", d.Action()).Msg("trading disabled, decision skipped")
			out = append(out, Applied{Symbol: d.Symbol(), Action: d.Action(), Outcome: OutcomeSkipped, Detail: "trading disabled"})
			continue
		}
		out = append(out, e.applyLocked(ctx, d))
	}
	return out
}

// closesLocked reports whether d is opposite to an open position.
func (e *Engine) closesLocked(d signal.Decision) bool {
	var isLong bool
	switch d.(type) {
	case signal.Buy:
		isLong = true
	case signal.Sell:
	default:
		return false
	}
	p, ok := e.ledger.Get(d.Symbol())
	return ok && p.IsLong != isLong
}

func (e *Engine) applyLocked(ctx context.Context, d signal.Decision) Applied {
	a := Applied{Symbol: d.Symbol(), Action: d.Action()}

	if !market.IsAllowed(d.Symbol()) {
		a.Outcome, a.Detail = OutcomeSkipped, "symbol not allowed"
		return a
	}

	var (
		t      signal.Trade
		isLong bool
	)
	switch v := d.(type) {
	case signal.Hold:
		a.Outcome, a.Detail = OutcomeSkipped, "hold"
		return a
	case signal.Buy:
		t, isLong = v.Trade, true
	case signal.Sell:
		t, isLong = v.Trade, false
	default:
		a.Outcome, a.Detail = OutcomeSkipped, fmt.Sprintf("unknown decision %T", d)
		return a
	}

	if p, ok := e.ledger.Get(t.Asset); ok {
		if p.IsLong == isLong {
			a.Outcome, a.Detail = OutcomeSkipped, "already "+p.Side()
			return a
		}
		price, err := e.prices.CurrentPrice(ctx, t.Asset)
		if err != nil {
			a.Outcome, a.Detail = OutcomeFailed, err.Error()
			return a
		}
		res := e.closeLocked(ctx, t.Asset, "signal_"+signalReason(d.Action()), price)
		e.markLocked(ctx)
		if !res.Closed {
			a.Outcome, a.Detail = OutcomeFailed, res.Order.Error()
			return a
		}
		a.Outcome = OutcomeClosed
		return a
	}

	res, err := e.openLocked(ctx, OpenRequest{
		Symbol:     t.Asset,
		IsLong:     isLong,
		Confidence: t.Confidence,
		Leverage:   t.Leverage,
		Price:      t.Price,
	})
	switch {
	case err != nil:
		a.Outcome, a.Detail = OutcomeFailed, err.Error()
	case !res.Decision.Allowed:
		a.Outcome, a.Detail = OutcomeRejected, res.Decision.Code
	case !res.Opened:
		a.Outcome, a.Detail = OutcomeFailed, res.Order.Error()
	default:
		a.Outcome = OutcomeOpened
	}
	return a
}

func signalReason(a signal.Action) string {
	if a == signal.ActionBuy {
		return "buy"
	}
	return "sell"
}

// CloseAll closes every open position, for shutdown or an operator.
// Positions whose price or order failed stay open and are reported.
func (e *Engine) CloseAll(ctx context.Context, reason string) ([]CloseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		out  []CloseResult
		errs []error
	)
	for _, p := range e.ledger.All() {
		price, err := e.prices.CurrentPrice(ctx, p.Symbol)
		if err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Symbol, err))
			continue
		}
		res := e.closeLocked(ctx, p.Symbol, reason, price)
		if !res.Closed {
			errs = append(errs, fmt.Errorf("close %s: %s", p.Symbol, res.Order.Error()))
		}
		out = append(out, res)
	}

	v := e.markLocked(ctx)
	e.snapshotLocked(v)
	e.log.Info().Int("closed", len(out)).Str("reason", reason).Msg("close all finished")
	return out, errors.Join(errs...)
}
