// Package engine wires the ledger, the capital tracker, the risk checks and
// the execution adapter into one object that opens and closes positions,
// runs the monitoring pass and executes signal decisions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/perptrader/broker"
	"github.com/rustyeddy/perptrader/capital"
	"github.com/rustyeddy/perptrader/journal"
	"github.com/rustyeddy/perptrader/market"
	"github.com/rustyeddy/perptrader/pkg/id"
	"github.com/rustyeddy/perptrader/position"
	"github.com/rustyeddy/perptrader/risk"
)

var (
	ErrPositionOpen     = errors.New("position already open for symbol")
	ErrNoPosition       = errors.New("no open position for symbol")
	ErrSymbolNotAllowed = errors.New("symbol not in whitelist")
)

type Deps struct {
	Policy         risk.Policy
	Limits         capital.Limits
	InitialCapital float64

	Executor *broker.Executor
	Prices   market.PriceFeed
	Journal  journal.Journal // nil: journal.Nop
	Metrics  *Metrics        // nil: no metrics
	Logger   zerolog.Logger
	Clock    func() time.Time

	// DefaultVolatility damps position sizing when neither the caller nor
	// Volatility has an estimate.
	DefaultVolatility float64
	// Volatility, when set, is fed every mark and Watch symbol each tick.
	Volatility *market.Volatility
	Watch      []string
	// MaxSizeRetries is how many times a size or exposure rejection is
	// retried at half the size.
	MaxSizeRetries int
}

type Engine struct {
	mu sync.Mutex

	session   string
	validator *risk.Validator
	ledger    *position.Ledger
	tracker   *capital.Tracker
	exec      *broker.Executor
	prices    market.PriceFeed
	journal   journal.Journal
	metrics   *Metrics
	log       zerolog.Logger
	now       func() time.Time

	volatility float64
	vol        *market.Volatility
	watch      []string
	retries    int
	lastMark   capital.Valuation
	// marks is the last good price per open symbol.
	marks map[string]float64
}

func New(d Deps) (*Engine, error) {
	if err := d.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("risk policy: %w", err)
	}
	if d.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %v", d.InitialCapital)
	}
	if d.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if d.Prices == nil {
		return nil, errors.New("price feed is required")
	}
	if d.Journal == nil {
		d.Journal = journal.Nop{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}

	session := uuid.NewString()
	log := d.Logger.With().Str("session", session).Logger()

	e := &Engine{
		session:    session,
		validator:  risk.NewValidator(d.Policy),
		ledger:     position.NewLedger(log),
		tracker:    capital.NewTracker(d.Limits, capital.WithClock(d.Clock), capital.WithLogger(log)),
		exec:       d.Executor,
		prices:     d.Prices,
		journal:    d.Journal,
		metrics:    d.Metrics,
		log:        log.With().Str("component", "engine").Logger(),
		now:        d.Clock,
		volatility: d.DefaultVolatility,
		vol:        d.Volatility,
		watch:      d.Watch,
		retries:    d.MaxSizeRetries,
		marks:      make(map[string]float64),
	}
	e.tracker.Initialize(d.InitialCapital)
	e.observeLocked()

	e.log.Info().
		Str("mode", string(d.Executor.Mode())).
		Float64("capital", d.InitialCapital).
		Float64("max_drawdown", d.Limits.MaxDrawdown).
		Float64("max_daily_loss", d.Limits.MaxDailyLoss).
		Msg("risk engine started")
	return e, nil
}

func (e *Engine) SessionID() string { return e.session }

func (e *Engine) Mode() broker.Mode { return e.exec.Mode() }

// ValidateTrade checks a prospective trade against current exposure.
func (e *Engine) ValidateTrade(symbol string, size, price float64, leverage int) risk.Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validateLocked(symbol, size, price, leverage)
}

func (e *Engine) validateLocked(symbol string, size, price float64, leverage int) risk.Decision {
	d := e.validator.Validate(
		risk.TradeIntent{Symbol: symbol, Size: size, Price: price, Leverage: leverage},
		risk.Exposure{
			CurrentCapital: e.tracker.CurrentCapital(),
			OpenNotional:   e.ledger.TotalNotional(),
			TradingEnabled: e.tracker.TradingEnabled(),
		},
	)
	if !d.Allowed {
		e.metrics.rejection(d.Code)
		e.log.Warn().Str("symbol", symbol).Str("code", d.Code).Msg(d.Reason)
	}
	return d
}

// AddPosition records a filled position with protective levels derived from
// the policy and re-marks capital. It does not place an order.
func (e *Engine) AddPosition(symbol string, size, entry float64, isLong bool, leverage int) (position.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.addLocked(symbol, size, entry, isLong, leverage)
	if err != nil {
		return p, err
	}
	e.markLocked(context.Background())
	return p, nil
}

func (e *Engine) addLocked(symbol string, size, entry float64, isLong bool, leverage int) (position.Position, error) {
	p := position.Position{
		Symbol:     symbol,
		Size:       size,
		EntryPrice: entry,
		IsLong:     isLong,
		Leverage:   leverage,
		StopLoss:   e.validator.StopLoss(entry, isLong),
		TakeProfit: e.validator.TakeProfit(entry, isLong),
		OpenedAt:   e.now(),
	}
	if err := e.ledger.Open(p); err != nil {
		return position.Position{}, err
	}
	e.log.Info().
		Str("symbol", symbol).
		Str("side", p.Side()).
		Float64("size", size).
		Float64("entry", entry).
		Int("leverage", leverage).
		Float64("stop_loss", p.StopLoss).
		Float64("take_profit", p.TakeProfit).
		Float64("reward_risk", risk.RewardRisk(entry, p.StopLoss, p.TakeProfit)).
		Msg("position opened")
	return p, nil
}

// RemovePosition drops a position from the ledger without trading or
// realizing anything, then re-marks capital.
func (e *Engine) RemovePosition(symbol string) (position.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.ledger.Close(symbol)
	if ok {
		delete(e.marks, symbol)
		e.markLocked(context.Background())
	}
	return p, ok
}

func (e *Engine) Position(symbol string) (position.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Get(symbol)
}

func (e *Engine) Positions() []position.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.All()
}

type OpenRequest struct {
	Symbol     string
	IsLong     bool
	Confidence float64
	Leverage   *int     // nil: policy default
	Price      *float64 // nil: market order at the feed price
	Volatility *float64 // nil: Deps.DefaultVolatility
}

type OpenResult struct {
	Opened   bool
	Decision risk.Decision
	Order    broker.Result
	Position position.Position
	Attempts int
}

// OpenPosition sizes, validates and places an entry order. A size or
// exposure rejection is retried at half the size. Risk rejections and venue
// failures are reported in the result, not as errors.
func (e *Engine) OpenPosition(ctx context.Context, req OpenRequest) (OpenResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openLocked(ctx, req)
}

func (e *Engine) openLocked(ctx context.Context, req OpenRequest) (OpenResult, error) {
	sym := strings.ToUpper(req.Symbol)
	if !market.IsAllowed(sym) {
		return OpenResult{}, fmt.Errorf("%w: %s", ErrSymbolNotAllowed, sym)
	}
	if _, ok := e.ledger.Get(sym); ok {
		return OpenResult{}, fmt.Errorf("%w: %s", ErrPositionOpen, sym)
	}

	var price float64
	if req.Price != nil {
		price = *req.Price
	} else {
		p, err := e.prices.CurrentPrice(ctx, sym)
		if err != nil {
			return OpenResult{}, fmt.Errorf("open %s: %w", sym, err)
		}
		price = p
	}

	vol := e.volatility
	if req.Volatility != nil {
		vol = *req.Volatility
	} else if e.vol != nil {
		if v, ok := e.vol.Value(sym); ok {
			vol = v
		}
	}
	lev := e.validator.Leverage(req.Leverage)
	size := e.validator.PositionSize(e.tracker.CurrentCapital(), price, req.Confidence, vol)

	var res OpenResult
	for {
		res.Attempts++
		res.Decision = e.validateLocked(sym, size, price, lev)
		if res.Decision.Allowed {
			break
		}
		if !res.Decision.Shrinkable() || res.Attempts > e.retries {
			return res, nil
		}
		size /= 2
		e.log.Debug().Str("symbol", sym).Float64("size", size).Msg("retrying at reduced size")
	}

	res.Order = e.exec.PlaceOrder(ctx, broker.OrderIntent{
		Symbol:   sym,
		IsBuy:    req.IsLong,
		Size:     size,
		Price:    req.Price,
		Leverage: &lev,
	})
	e.metrics.order(string(e.exec.Mode()), string(res.Order.Status))
	if !res.Order.OK() {
		e.log.Error().Err(res.Order.Err).Str("symbol", sym).Msg("entry order failed")
		return res, nil
	}

	p, err := e.addLocked(sym, size, price, req.IsLong, lev)
	if err != nil {
		return res, err
	}
	res.Opened = true
	res.Position = p
	e.markLocked(ctx)
	return res, nil
}

type CloseResult struct {
	Closed      bool
	Symbol      string
	Reason      string
	ExitPrice   float64
	RealizedPnL float64
	Order       broker.Result
	TradeID     string
	Tripped     bool // the realized loss latched trading off
}

// ClosePosition sends a reduce-only market order for the whole position and,
// once the adapter accepts it, realizes PnL at the current price and journals
// the trade. A failed order leaves the position open.
func (e *Engine) ClosePosition(ctx context.Context, symbol, reason string) (CloseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sym := strings.ToUpper(symbol)
	if _, ok := e.ledger.Get(sym); !ok {
		return CloseResult{Symbol: sym, Reason: reason}, fmt.Errorf("%w: %s", ErrNoPosition, sym)
	}
	price, err := e.prices.CurrentPrice(ctx, sym)
	if err != nil {
		return CloseResult{Symbol: sym, Reason: reason}, fmt.Errorf("close %s: %w", sym, err)
	}
	res := e.closeLocked(ctx, sym, reason, price)
	e.markLocked(ctx)
	return res, nil
}

func (e *Engine) closeLocked(ctx context.Context, sym, reason string, price float64) CloseResult {
	res := CloseResult{Symbol: sym, Reason: reason, ExitPrice: price}

	p, ok := e.ledger.Get(sym)
	if !ok {
		return res
	}

	res.Order = e.exec.PlaceOrder(ctx, broker.OrderIntent{
		Symbol:     sym,
		IsBuy:      !p.IsLong,
		Size:       p.Size,
		ReduceOnly: true,
	})
	e.metrics.order(string(e.exec.Mode()), string(res.Order.Status))
	if !res.Order.OK() {
		e.log.Error().Err(res.Order.Err).Str("symbol", sym).Str("reason", reason).Msg("close order failed, position kept")
		return res
	}

	e.ledger.Close(sym)
	delete(e.marks, sym)
	closedAt := e.now()
	res.Closed = true
	res.RealizedPnL = p.PnL(price)
	res.Tripped = e.tracker.RecordRealized(res.RealizedPnL)
	if res.Tripped {
		e.metrics.tripped("daily_loss")
	}
	e.metrics.closed(reason)

	res.TradeID = id.NewAt(closedAt)
	err := e.journal.RecordTrade(journal.TradeRecord{
		TradeID:     res.TradeID,
		Symbol:      sym,
		Side:        strings.ToUpper(p.Side()),
		Size:        p.Size,
		Leverage:    p.Leverage,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   price,
		OpenTime:    p.OpenedAt,
		CloseTime:   closedAt,
		RealizedPnL: res.RealizedPnL,
		Reason:      reason,
	})
	if err != nil {
		e.log.Error().Err(err).Str("trade_id", res.TradeID).Msg("journal trade failed")
	}

	e.log.Info().
		Str("symbol", sym).
		Str("side", p.Side()).
		Str("reason", reason).
		Float64("entry", p.EntryPrice).
		Float64("exit", price).
		Float64("pnl", res.RealizedPnL).
		Msg("position closed")
	return res
}

// markLocked fetches prices for open positions and recomputes capital.
func (e *Engine) markLocked(ctx context.Context) capital.Valuation {
	open := e.ledger.All()
	symbols := make([]string, len(open))
	for i, p := range open {
		symbols[i] = p.Symbol
	}
	prices, missing := market.Prices(ctx, e.prices, symbols)
	e.missingLocked(missing)
	return e.recomputeLocked(open, prices)
}

func (e *Engine) missingLocked(symbols []string) {
	for _, s := range symbols {
		e.metrics.missing(s)
		e.log.Warn().Str("symbol", s).Msg("no price, position valued at last mark")
	}
}

// recomputeLocked values open positions at prices. A symbol without a price
// is valued at its last good mark, or at entry if it was never marked.
func (e *Engine) recomputeLocked(open []position.Position, prices map[string]float64) capital.Valuation {
	valued := make(map[string]float64, len(open))
	var stale []string
	for _, p := range open {
		if price, ok := prices[p.Symbol]; ok && price > 0 {
			e.marks[p.Symbol] = price
			valued[p.Symbol] = price
			continue
		}
		mark, ok := e.marks[p.Symbol]
		if !ok {
			mark = p.EntryPrice
		}
		valued[p.Symbol] = mark
		stale = append(stale, p.Symbol)
	}

	v := e.tracker.Recompute(open, valued)
	v.Missing = stale
	if v.Tripped {
		e.metrics.tripped("drawdown")
	}
	e.lastMark = v
	e.observeLocked()
	return v
}

func (e *Engine) observeLocked() {
	e.metrics.observeState(e.tracker.State(), e.lastMark.UnrealizedPnL, e.ledger.Len(), e.ledger.TotalNotional())
}

// RiskMetrics is a snapshot of the account's risk state.
type RiskMetrics struct {
	Session            string    `json:"session"`
	Mode               string    `json:"mode"`
	InitialCapital     float64   `json:"initial_capital"`
	CurrentCapital     float64   `json:"current_capital"`
	PeakCapital        float64   `json:"peak_capital"`
	Drawdown           float64   `json:"drawdown"`
	RealizedPnL        float64   `json:"realized_pnl"`
	UnrealizedPnL      float64   `json:"unrealized_pnl"`
	DailyPnL           float64   `json:"daily_pnl"`
	NumPositions       int       `json:"num_positions"`
	TradingEnabled     bool      `json:"trading_enabled"`
	TotalPositionValue float64   `json:"total_position_value"`
	AsOf               time.Time `json:"as_of"`
}

func (e *Engine) RiskMetrics() RiskMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.tracker.State()
	return RiskMetrics{
		Session:            e.session,
		Mode:               string(e.exec.Mode()),
		InitialCapital:     s.InitialCapital,
		CurrentCapital:     s.CurrentCapital,
		PeakCapital:        s.PeakCapital,
		Drawdown:           s.Drawdown,
		RealizedPnL:        s.RealizedPnL,
		UnrealizedPnL:      e.lastMark.UnrealizedPnL,
		DailyPnL:           s.DailyPnL,
		NumPositions:       e.ledger.Len(),
		TradingEnabled:     s.TradingEnabled,
		TotalPositionValue: e.ledger.TotalNotional(),
		AsOf:               e.now(),
	}
}

// ResetLatch re-enables trading after a risk limit tripped. It is only
// reachable from outside the engine.
func (e *Engine) ResetLatch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracker.ResetLatch()
	e.observeLocked()
}
