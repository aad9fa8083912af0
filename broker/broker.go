// Package broker is the execution adapter: it turns validated order intents
// into venue calls in LIVE mode, or into a simulated order book in PAPER
// mode. Venue failures never escape as Go errors; they come back as a Result
// with Status "error".
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeLive  Mode = "LIVE"
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "PAPER":
		return ModePaper, nil
	case "LIVE":
		return ModeLive, nil
	}
	return "", fmt.Errorf("unknown trading mode %q", s)
}

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderNotOpen  = errors.New("order not open")
)

// OrderIntent is a single order request. A nil Price is a market order.
type OrderIntent struct {
	Symbol     string
	IsBuy      bool
	Size       float64
	Price      *float64
	Leverage   *int
	ReduceOnly bool
}

func (o OrderIntent) side() string {
	if o.IsBuy {
		return "BUY"
	}
	return "SELL"
}

type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is what every adapter call returns. Err is set iff Status is
// StatusError. Transport failures and venue rejections look the same.
type Result struct {
	Status  Status
	OrderID int64
	Err     error
}

func (r Result) OK() bool { return r.Status == StatusOK }

// Error returns the failure message or "".
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func okResult(id int64) Result { return Result{Status: StatusOK, OrderID: id} }

func errResult(err error) Result { return Result{Status: StatusError, Err: err} }

// Venue is the live order-submission primitive. Implementations block until
// the venue answers or ctx ends.
type Venue interface {
	SubmitOrder(ctx context.Context, o OrderIntent) (int64, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	ModifyOrder(ctx context.Context, symbol string, orderID int64, price, size float64) error
	UpdateLeverage(ctx context.Context, symbol string, leverage int, cross bool) error
}
