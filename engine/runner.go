package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/perptrader/signal"
)

// Runner drives the engine on a fixed interval. Each cycle is a monitoring
// pass followed by whatever decisions the source has. Cycles run on one
// goroutine so they never overlap.
type Runner struct {
	Engine   *Engine
	Source   signal.Source // may be nil: monitoring only
	Interval time.Duration
	Log      zerolog.Logger

	// ShutdownTimeout bounds the close-all on exit.
	ShutdownTimeout time.Duration
}

// Run blocks until ctx is canceled, then closes every open position.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	log := r.Log.With().Str("component", "runner").Logger()
	log.Info().Dur("interval", interval).Msg("runner started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.cycle(ctx, log)
	for {
		select {
		case <-ctx.Done():
			return r.shutdown(log)
		case <-ticker.C:
			r.cycle(ctx, log)
		}
	}
}

func (r *Runner) cycle(ctx context.Context, log zerolog.Logger) {
	rep := r.Engine.Tick(ctx)
	log.Debug().
		Float64("capital", rep.Valuation.Capital).
		Float64("drawdown", rep.Valuation.Drawdown).
		Int("closed", len(rep.Closed)).
		Msg("tick")

	if r.Source == nil || ctx.Err() != nil {
		return
	}
	ds, err := r.Source.Next(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("signal source failed")
		return
	}
	if len(ds) == 0 {
		return
	}
	for _, a := range r.Engine.ApplyDecisions(ctx, ds) {
		log.Info().
			Str("symbol", a.Symbol).
			Str("action", a.Action.String()).
			Str("outcome", a.Outcome).
			Str("detail", a.Detail).
			Msg("decision applied")
	}
}

func (r *Runner) shutdown(log zerolog.Logger) error {
	timeout := r.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info().Msg("shutting down, closing all positions")
	_, err := r.Engine.CloseAll(ctx, "shutdown")
	if err != nil {
		log.Error().Err(err).Msg("some positions could not be closed")
	}
	return err
}
