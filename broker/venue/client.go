// Package venue is the signed HTTP client for a perpetuals venue. Every action
// is serialized to JSON, hashed with keccak256, signed with the account key
// and posted to /exchange inside a {action, nonce, signature} envelope.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/perptrader/broker"
)

// RejectedError is a venue-side refusal of a well-formed request. It does not
// count against the circuit breaker.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "venue rejected request: " + e.Reason }

type Config struct {
	BaseURL string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RPS <= 0 {
		c.RPS = 5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

type Client struct {
	base    string
	creds   *Credentials
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger

	mu        sync.Mutex
	lastNonce int64
	now       func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

var _ broker.Venue = (*Client)(nil)

func New(cfg Config, creds *Credentials, opts ...Option) (*Client, error) {
	if creds == nil {
		return nil, ErrNoCredentials
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("venue base url is required")
	}
	cfg = cfg.withDefaults()

	c := &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		creds:   creds,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With().Str("component", "venue").Str("account", creds.Address.Hex()).Logger()

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "venue",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			var rej *RejectedError
			return err == nil || errors.As(err, &rej)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return c, nil
}

func (c *Client) SubmitOrder(ctx context.Context, o broker.OrderIntent) (int64, error) {
	act := orderAction{
		Type:     "order",
		Orders:   []orderWire{toWire(o, "0x"+strings.ReplaceAll(uuid.NewString(), "-", ""))},
		Grouping: "na",
	}
	statuses, err := c.exchange(ctx, act)
	if err != nil {
		return 0, err
	}
	if len(statuses) == 0 {
		return 0, errors.New("no order status in response")
	}

	var st orderStatus
	if err := json.Unmarshal(statuses[0], &st); err != nil {
		return 0, fmt.Errorf("decode order status: %w", err)
	}
	switch {
	case st.Error != "":
		return 0, &RejectedError{Reason: st.Error}
	case st.Resting != nil:
		return st.Resting.OID, nil
	case st.Filled != nil:
		return st.Filled.OID, nil
	}
	return 0, fmt.Errorf("unrecognized order status %s", statuses[0])
}

func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	statuses, err := c.exchange(ctx, cancelAction{
		Type:    "cancel",
		Cancels: []cancelWire{{Coin: symbol, OID: orderID}},
	})
	if err != nil {
		return err
	}
	return firstStatusError(statuses)
}

func (c *Client) ModifyOrder(ctx context.Context, symbol string, orderID int64, price, size float64) error {
	statuses, err := c.exchange(ctx, modifyAction{
		Type: "modify",
		OID:  orderID,
		Order: toWire(broker.OrderIntent{
			Symbol: symbol,
			Size:   size,
			Price:  &price,
		}, ""),
	})
	if err != nil {
		return err
	}
	return firstStatusError(statuses)
}

func (c *Client) UpdateLeverage(ctx context.Context, symbol string, leverage int, cross bool) error {
	_, err := c.exchange(ctx, leverageAction{
		Type:     "updateLeverage",
		Coin:     symbol,
		IsCross:  cross,
		Leverage: leverage,
	})
	return err
}

// exchange signs and posts one action and returns the per-item statuses, if
// the response carries any.
func (c *Client) exchange(ctx context.Context, action any) ([]json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, action)
	})
	if err != nil {
		return nil, err
	}
	return out.([]json.RawMessage), nil
}

func (c *Client) post(ctx context.Context, action any) ([]json.RawMessage, error) {
	raw, err := json.Marshal(action)
	if err != nil {
		return nil, err
	}
	sig, err := c.creds.Sign(raw)
	if err != nil {
		return nil, fmt.Errorf("sign action: %w", err)
	}
	body, err := json.Marshal(envelope{Action: raw, Nonce: c.nonce(), Signature: sig})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/exchange", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	c.log.Debug().Int("status", resp.StatusCode).Dur("latency", c.now().Sub(start)).Msg("exchange call")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if r.Status != "ok" {
		var msg string
		if json.Unmarshal(r.Response, &msg) != nil {
			msg = string(r.Response)
		}
		return nil, &RejectedError{Reason: msg}
	}

	var p statusPayload
	if len(r.Response) > 0 && r.Response[0] == '{' {
		if err := json.Unmarshal(r.Response, &p); err != nil {
			return nil, fmt.Errorf("decode response payload: %w", err)
		}
	}
	return p.Data.Statuses, nil
}

// nonce is the current time in milliseconds, bumped so that it never repeats.
func (c *Client) nonce() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.now().UnixMilli()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

func firstStatusError(statuses []json.RawMessage) error {
	if len(statuses) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(statuses[0], &s) == nil {
		return nil
	}
	var st orderStatus
	if err := json.Unmarshal(statuses[0], &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	if st.Error != "" {
		return &RejectedError{Reason: st.Error}
	}
	return nil
}
