package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/perptrader/broker"
	"github.com/rustyeddy/perptrader/broker/venue"
	"github.com/rustyeddy/perptrader/config"
	"github.com/rustyeddy/perptrader/journal"
	"github.com/rustyeddy/perptrader/market"
	"github.com/rustyeddy/perptrader/signal"
)

// buildExecutor returns a LIVE adapter when credentials are configured and a
// PAPER one otherwise. Malformed credentials are an error, missing ones are
// not.
func buildExecutor(cfg *config.Config, log zerolog.Logger) (*broker.Executor, error) {
	mode, err := broker.ParseMode(cfg.Trading.Mode)
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Venue.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	var v broker.Venue
	if mode == broker.ModeLive {
		creds, err := venue.ParseCredentials(cfg.Venue.Address, cfg.Venue.Secret)
		switch {
		case errors.Is(err, venue.ErrNoCredentials):
		case err != nil:
			return nil, err
		default:
			c, err := venue.New(venue.Config{
				BaseURL: cfg.Venue.BaseURL,
				Timeout: timeout,
				RPS:     cfg.Venue.RPS,
				Burst:   cfg.Venue.Burst,
			}, creds, venue.WithLogger(log))
			if err != nil {
				return nil, err
			}
			v = c
		}
	}

	return broker.NewExecutor(mode, v,
		broker.WithLogger(log),
		broker.WithVenueTimeout(timeout),
	), nil
}

// buildPrices returns the configured feed and a func releasing whatever it
// holds open.
func buildPrices(ctx context.Context, cfg *config.Config, log zerolog.Logger) (market.PriceFeed, func() error, error) {
	noop := func() error { return nil }

	if cfg.Prices.Type == "static" {
		return market.NewStaticFeed(cfg.Prices.Static), noop, nil
	}

	timeout, err := cfg.Prices.TimeoutDuration()
	if err != nil {
		return nil, noop, err
	}
	var feed market.PriceFeed = market.NewHTTPFeed(cfg.Prices.BaseURL, cfg.Prices.RPS, timeout)

	ttl, err := cfg.Prices.CacheTTLDuration()
	if err != nil {
		return nil, noop, err
	}
	switch cfg.Prices.Cache {
	case "memory":
		return market.NewCachedFeed(feed, market.NewMemoryCache(time.Now), ttl, log), noop, nil
	case "redis":
		rc, err := market.NewRedisCache(ctx, cfg.Prices.RedisAddr, cfg.Prices.RedisPassword, cfg.Prices.RedisDB)
		if err != nil {
			return nil, noop, err
		}
		return market.NewCachedFeed(feed, rc, ttl, log), rc.Close, nil
	}
	return feed, noop, nil
}

func buildJournal(ctx context.Context, cfg *config.Config) (journal.Journal, error) {
	switch cfg.Journal.Type {
	case "csv":
		return journal.NewCSV(cfg.Journal.TradesFile, cfg.Journal.EquityFile)
	case "sqlite":
		return journal.NewSQLite(cfg.Journal.DBPath)
	case "postgres":
		return journal.NewPostgres(ctx, cfg.Journal.DSN, 5*time.Second)
	case "", "none":
		return journal.Nop{}, nil
	}
	return nil, fmt.Errorf("unknown journal type %q", cfg.Journal.Type)
}

// openReader opens a queryable journal: the --db path when set, otherwise
// the configured SQLite or PostgreSQL journal.
func openReader(ctx context.Context, dbPath string) (journal.Reader, func() error, error) {
	if dbPath != "" {
		j, err := journal.NewSQLite(dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		return j, j.Close, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Journal.Type {
	case "sqlite":
		j, err := journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		return j, j.Close, nil
	case "postgres":
		j, err := journal.NewPostgres(ctx, cfg.Journal.DSN, 5*time.Second)
		if err != nil {
			return nil, nil, err
		}
		return j, j.Close, nil
	}
	return nil, nil, fmt.Errorf("journal type %q cannot be queried; pass --db", cfg.Journal.Type)
}

// buildSource returns nil when no signals are configured. The returned func
// stops any background reader.
func buildSource(ctx context.Context, cfg *config.Config, log zerolog.Logger) (signal.Source, func()) {
	var (
		src  signal.Source
		stop = func() {}
	)
	switch cfg.Signals.Type {
	case "file":
		src = signal.NewFileSource(cfg.Signals.Path, log)
	case "ws":
		ws := signal.NewWSSource(cfg.Signals.URL, log)
		ws.Start(ctx)
		src, stop = ws, ws.Close
	default:
		return nil, stop
	}
	if len(cfg.Trading.Symbols) > 0 {
		src = symbolFilter{Source: src, allow: symbolSet(cfg.Trading.Symbols)}
	}
	return src, stop
}

// symbolFilter drops decisions for symbols this deployment does not trade.
type symbolFilter struct {
	signal.Source
	allow map[string]bool
}

func (f symbolFilter) Next(ctx context.Context) ([]signal.Decision, error) {
	ds, err := f.Source.Next(ctx)
	out := ds[:0]
	for _, d := range ds {
		if f.allow[strings.ToUpper(d.Symbol())] {
			out = append(out, d)
		}
	}
	return out, err
}

func symbolSet(symbols []string) map[string]bool {
	m := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		m[strings.ToUpper(s)] = true
	}
	return m
}
