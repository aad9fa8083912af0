package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// HTTPFeed reads GET <base>/price/<symbol> returning {"price": "<decimal>"}.
type HTTPFeed struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPFeed(baseURL string, rps float64, timeout time.Duration) *HTTPFeed {
	if rps <= 0 {
		rps = 10
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPFeed{
		base:    strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type priceResponse struct {
	Price decimal.Decimal `json:"price"`
}

func (f *HTTPFeed) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	u := f.base + "/price/" + url.PathEscape(strings.ToUpper(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s: status %d", ErrPriceUnavailable, symbol, resp.StatusCode)
	}

	var pr priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, fmt.Errorf("%w: %s: decode: %v", ErrPriceUnavailable, symbol, err)
	}
	if !pr.Price.IsPositive() {
		return 0, fmt.Errorf("%w: %s: non-positive price %s", ErrPriceUnavailable, symbol, pr.Price)
	}
	p, _ := pr.Price.Float64()
	return p, nil
}
