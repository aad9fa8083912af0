package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const DefaultVenueTimeout = 10 * time.Second

// Executor is the dual-mode execution adapter. Its mode is fixed when it is
// built.
type Executor struct {
	mode     Mode
	fellBack bool

	paper *PaperBook
	venue Venue

	timeout  time.Duration
	leverage map[string]int
	live     map[string][]int64 // order ids placed per symbol in LIVE mode
	log      zerolog.Logger
	now      func() time.Time
}

type Option func(*Executor)

func WithLogger(log zerolog.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// WithVenueTimeout bounds every live venue call.
func WithVenueTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor builds an adapter in the requested mode. LIVE without a venue
// (no usable credentials) falls back to PAPER and says so.
func NewExecutor(requested Mode, venue Venue, opts ...Option) *Executor {
	e := &Executor{
		mode:     requested,
		venue:    venue,
		timeout:  DefaultVenueTimeout,
		leverage: make(map[string]int),
		live:     make(map[string][]int64),
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With().Str("component", "executor").Logger()

	if e.mode != ModeLive {
		e.mode = ModePaper
	}
	if e.mode == ModeLive && venue == nil {
		e.mode = ModePaper
		e.fellBack = true
		e.log.Warn().Msg("live mode requested without venue credentials, falling back to paper trading")
	}
	if e.mode == ModePaper {
		e.paper = NewPaperBook(e.now)
	}

	e.log.Info().Str("mode", string(e.mode)).Msg("execution adapter initialized")
	return e
}

func (e *Executor) Mode() Mode { return e.mode }

// FellBack reports whether LIVE was requested but PAPER is in use.
func (e *Executor) FellBack() bool { return e.fellBack }

func (e *Executor) PlaceOrder(ctx context.Context, o OrderIntent) Result {
	if o.Symbol == "" || o.Size <= 0 {
		return errResult(fmt.Errorf("invalid order: symbol %q size %v", o.Symbol, o.Size))
	}

	if e.mode == ModePaper {
		po := e.paper.Place(o)
		e.log.Info().
			Bool("paper", true).
			Int64("order_id", po.ID).
			Str("symbol", o.Symbol).
			Str("side", o.side()).
			Float64("size", o.Size).
			Bool("market", po.Market).
			Bool("reduce_only", o.ReduceOnly).
			Msg("order placed")
		return okResult(po.ID)
	}

	if o.Leverage != nil && e.leverage[o.Symbol] != *o.Leverage {
		err := e.call(ctx, func(ctx context.Context) error {
			return e.venue.UpdateLeverage(ctx, o.Symbol, *o.Leverage, true)
		})
		if err != nil {
			// The order still goes out at whatever leverage the venue holds.
			e.log.Error().Err(err).Str("symbol", o.Symbol).Int("leverage", *o.Leverage).Msg("leverage update failed")
		} else {
			e.leverage[o.Symbol] = *o.Leverage
			e.log.Info().Str("symbol", o.Symbol).Int("leverage", *o.Leverage).Msg("leverage updated")
		}
	}

	var id int64
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		id, err = e.venue.SubmitOrder(ctx, o)
		return err
	})
	if err != nil {
		e.log.Error().Err(err).Str("symbol", o.Symbol).Str("side", o.side()).Msg("order placement failed")
		return errResult(err)
	}
	e.live[o.Symbol] = append(e.live[o.Symbol], id)

	e.log.Info().
		Int64("order_id", id).
		Str("symbol", o.Symbol).
		Str("side", o.side()).
		Float64("size", o.Size).
		Bool("reduce_only", o.ReduceOnly).
		Msg("order placed")
	return okResult(id)
}

func (e *Executor) CancelOrder(ctx context.Context, symbol string, orderID int64) Result {
	if e.mode == ModePaper {
		if err := e.paper.Cancel(orderID); err != nil {
			return errResult(err)
		}
		e.log.Info().Bool("paper", true).Int64("order_id", orderID).Msg("order canceled")
		return okResult(orderID)
	}

	err := e.call(ctx, func(ctx context.Context) error {
		return e.venue.CancelOrder(ctx, symbol, orderID)
	})
	if err != nil {
		e.log.Error().Err(err).Int64("order_id", orderID).Msg("cancel failed")
		return errResult(err)
	}
	e.forget(symbol, orderID)
	e.log.Info().Int64("order_id", orderID).Msg("order canceled")
	return okResult(orderID)
}

func (e *Executor) ModifyOrder(ctx context.Context, symbol string, orderID int64, price, size float64) Result {
	if price <= 0 || size <= 0 {
		return errResult(fmt.Errorf("invalid modification: price %v size %v", price, size))
	}

	if e.mode == ModePaper {
		if err := e.paper.Modify(orderID, price, size); err != nil {
			return errResult(err)
		}
		e.log.Info().Bool("paper", true).Int64("order_id", orderID).Msg("order modified")
		return okResult(orderID)
	}

	err := e.call(ctx, func(ctx context.Context) error {
		return e.venue.ModifyOrder(ctx, symbol, orderID, price, size)
	})
	if err != nil {
		e.log.Error().Err(err).Int64("order_id", orderID).Msg("modify failed")
		return errResult(err)
	}
	e.log.Info().Int64("order_id", orderID).Msg("order modified")
	return okResult(orderID)
}

// CancelAll cancels the orders this adapter placed for symbol, or for every
// symbol when symbol is empty.
func (e *Executor) CancelAll(ctx context.Context, symbol string) Result {
	if e.mode == ModePaper {
		n := e.paper.CancelAll(symbol)
		e.log.Info().Bool("paper", true).Str("symbol", symbol).Int("count", n).Msg("orders canceled")
		return okResult(0)
	}

	var errs []error
	for sym, ids := range e.live {
		if symbol != "" && sym != symbol {
			continue
		}
		for _, id := range append([]int64(nil), ids...) {
			if r := e.CancelOrder(ctx, sym, id); !r.OK() {
				errs = append(errs, r.Err)
			}
		}
	}
	if len(errs) > 0 {
		return errResult(errors.Join(errs...))
	}
	return okResult(0)
}

// OpenOrders lists the paper book's open orders; it is empty in LIVE mode.
func (e *Executor) OpenOrders() []PaperOrder {
	if e.paper == nil {
		return nil
	}
	return e.paper.Open()
}

func (e *Executor) forget(symbol string, id int64) {
	ids := e.live[symbol]
	for i, v := range ids {
		if v == id {
			e.live[symbol] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// call runs fn under the venue timeout and turns panics from the venue
// client into errors so nothing crosses this boundary unconverted.
func (e *Executor) call(ctx context.Context, fn func(context.Context) error) (err error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("venue panic: %v", r)
		}
	}()
	return fn(ctx)
}
