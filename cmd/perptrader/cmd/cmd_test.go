package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/perptrader/broker"
	"github.com/rustyeddy/perptrader/config"
	"github.com/rustyeddy/perptrader/journal"
	"github.com/rustyeddy/perptrader/market"
	"github.com/rustyeddy/perptrader/signal"
)

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	start, end, err := dayBounds(loc, "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, loc), end)

	_, _, err = dayBounds(loc, "10/03/2025")
	assert.Error(t, err)
}

func TestBuildExecutor(t *testing.T) {
	log := zerolog.Nop()

	cfg := config.Default()
	exec, err := buildExecutor(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, broker.ModePaper, exec.Mode())
	assert.False(t, exec.FellBack())

	cfg.Trading.Mode = "LIVE"
	exec, err = buildExecutor(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, broker.ModePaper, exec.Mode())
	assert.True(t, exec.FellBack())

	cfg.Venue.Secret = "not-hex"
	_, err = buildExecutor(cfg, log)
	assert.Error(t, err)

	cfg.Venue.Secret = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	cfg.Venue.BaseURL = "http://127.0.0.1:1"
	exec, err = buildExecutor(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, broker.ModeLive, exec.Mode())
}

func TestBuildPricesStatic(t *testing.T) {
	cfg := config.Default()
	cfg.Prices.Static = map[string]float64{"BTC": 50000}

	feed, closeFn, err := buildPrices(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer closeFn()

	p, err := feed.CurrentPrice(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, p)

	_, err = feed.CurrentPrice(context.Background(), "ETH")
	assert.ErrorIs(t, err, market.ErrPriceUnavailable)
}

func TestBuildPricesHTTPWithMemoryCache(t *testing.T) {
	cfg := config.Default()
	cfg.Prices.Type = "http"
	cfg.Prices.BaseURL = "http://127.0.0.1:1"

	feed, closeFn, err := buildPrices(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &market.CachedFeed{}, feed)
}

func TestBuildJournal(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Journal.TradesFile = filepath.Join(dir, "trades.csv")
	cfg.Journal.EquityFile = filepath.Join(dir, "equity.csv")

	j, err := buildJournal(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &journal.CSVJournal{}, j)
	require.NoError(t, j.Close())

	cfg.Journal.Type = "sqlite"
	cfg.Journal.DBPath = filepath.Join(dir, "journal.db")
	j, err = buildJournal(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &journal.SQLite{}, j)
	require.NoError(t, j.Close())

	cfg.Journal.Type = "none"
	j, err = buildJournal(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, journal.Nop{}, j)

	cfg.Journal.Type = "mongo"
	_, err = buildJournal(context.Background(), cfg)
	assert.Error(t, err)
}

type staticSource []signal.Decision

func (s staticSource) Next(context.Context) ([]signal.Decision, error) {
	return append([]signal.Decision(nil), s...), nil
}

func TestSymbolFilter(t *testing.T) {
	f := symbolFilter{
		Source: staticSource{
			signal.Buy{Trade: signal.Trade{Asset: "BTC", Confidence: 1}},
			signal.Sell{Trade: signal.Trade{Asset: "DOGE", Confidence: 1}},
			signal.Hold{Asset: "eth"},
		},
		allow: symbolSet([]string{"btc", "ETH"}),
	}

	ds, err := f.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "BTC", ds[0].Symbol())
	assert.Equal(t, "eth", ds[1].Symbol())
}

func TestBuildSourceNone(t *testing.T) {
	src, stop := buildSource(context.Background(), config.Default(), zerolog.Nop())
	defer stop()
	assert.Nil(t, src)
}

func TestDashedFlags(t *testing.T) {
	assert.Equal(t, "shutdown-timeout", string(dashedFlags(nil, "shutdown_timeout")))
	assert.Equal(t, "db", string(dashedFlags(nil, "db")))
}
