package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Cache stores prices for a limited time.
type Cache interface {
	Get(ctx context.Context, symbol string) (float64, bool, error)
	Set(ctx context.Context, symbol string, price float64, ttl time.Duration) error
}

type memEntry struct {
	price   float64
	expires time.Time
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: make(map[string]memEntry), now: now}
}

func (c *MemoryCache) Get(_ context.Context, symbol string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok || !c.now().Before(e.expires) {
		delete(c.entries, symbol)
		return 0, false, nil
	}
	return e.price, true, nil
}

func (c *MemoryCache) Set(_ context.Context, symbol string, price float64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbol] = memEntry{price: price, expires: c.now().Add(ttl)}
	return nil
}

const redisKeyPrefix = "perptrader:price:"

// RedisCache shares prices between processes. Values are decimal strings.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisCache{client: rdb}, nil
}

func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, symbol string) (float64, bool, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+symbol).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get: %w", err)
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return 0, false, fmt.Errorf("redis get %s: %w", symbol, err)
	}
	p, _ := d.Float64()
	return p, true, nil
}

func (r *RedisCache) Set(ctx context.Context, symbol string, price float64, ttl time.Duration) error {
	if err := r.client.Set(ctx, redisKeyPrefix+symbol, decimal.NewFromFloat(price).String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCache) Close() error { return r.client.Close() }

// CachedFeed answers from the cache when it can and fills it from the
// underlying feed otherwise. Cache failures fall through to the feed.
type CachedFeed struct {
	feed  PriceFeed
	cache Cache
	ttl   time.Duration
	log   zerolog.Logger
}

func NewCachedFeed(feed PriceFeed, cache Cache, ttl time.Duration, log zerolog.Logger) *CachedFeed {
	return &CachedFeed{feed: feed, cache: cache, ttl: ttl, log: log.With().Str("component", "prices").Logger()}
}

func (f *CachedFeed) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(symbol)

	p, ok, err := f.cache.Get(ctx, symbol)
	if err != nil {
		f.log.Warn().Err(err).Str("symbol", symbol).Msg("price cache read failed")
	}
	if ok {
		return p, nil
	}

	p, err = f.feed.CurrentPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if err := f.cache.Set(ctx, symbol, p, f.ttl); err != nil {
		f.log.Warn().Err(err).Str("symbol", symbol).Msg("price cache write failed")
	}
	return p, nil
}
