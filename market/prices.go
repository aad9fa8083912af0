// Package market supplies current prices for the risk engine: a feed
// contract, a fixed feed for paper runs and tests, an HTTP feed, and a TTL
// cache that sits in front of either.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrPriceUnavailable = errors.New("price unavailable")

type PriceFeed interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Prices fetches every symbol it can. Symbols whose price could not be
// fetched are left out of the map and listed in missing.
func Prices(ctx context.Context, feed PriceFeed, symbols []string) (prices map[string]float64, missing []string) {
	prices = make(map[string]float64, len(symbols))
	for _, s := range symbols {
		p, err := feed.CurrentPrice(ctx, s)
		if err != nil || p <= 0 {
			missing = append(missing, s)
			continue
		}
		prices[s] = p
	}
	return prices, missing
}

// StaticFeed serves prices that are set by hand.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]float64
}

func NewStaticFeed(prices map[string]float64) *StaticFeed {
	f := &StaticFeed{prices: make(map[string]float64, len(prices))}
	for k, v := range prices {
		f.prices[strings.ToUpper(k)] = v
	}
	return f
}

func (f *StaticFeed) Set(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[strings.ToUpper(symbol)] = price
}

func (f *StaticFeed) Delete(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, strings.ToUpper(symbol))
}

func (f *StaticFeed) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[strings.ToUpper(symbol)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	return p, nil
}
