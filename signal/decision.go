// Package signal turns externally produced trading recommendations into
// typed decisions. Generating them is somebody else's job.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Action int

const (
	ActionHold Action = iota
	ActionBuy
	ActionSell
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	default:
		return "HOLD"
	}
}

func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return ActionBuy, nil
	case "sell", "short":
		return ActionSell, nil
	case "hold", "":
		return ActionHold, nil
	}
	return ActionHold, fmt.Errorf("unknown action %q", s)
}

// Decision is one of Buy, Sell or Hold.
type Decision interface {
	Symbol() string
	Action() Action
	Reason() string
}

// Trade is the payload shared by Buy and Sell.
type Trade struct {
	Asset      string
	Confidence float64
	Leverage   *int     // nil: use the policy default
	Price      *float64 // nil: market
	Reasoning  string
}

func (t Trade) Symbol() string { return t.Asset }
func (t Trade) Reason() string { return t.Reasoning }

type Buy struct{ Trade }

func (Buy) Action() Action { return ActionBuy }

type Sell struct{ Trade }

func (Sell) Action() Action { return ActionSell }

type Hold struct {
	Asset     string
	Reasoning string
}

func (h Hold) Symbol() string { return h.Asset }
func (Hold) Action() Action   { return ActionHold }
func (h Hold) Reason() string { return h.Reasoning }

// Record is the JSON form a recommendation arrives in.
type Record struct {
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	Confidence float64  `json:"confidence"`
	Leverage   *int     `json:"leverage,omitempty"`
	EntryPrice *float64 `json:"entry_price,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

var ErrInvalidRecord = errors.New("invalid signal record")

func Parse(r Record) (Decision, error) {
	sym := strings.ToUpper(strings.TrimSpace(r.Symbol))
	if sym == "" {
		return nil, fmt.Errorf("%w: missing symbol", ErrInvalidRecord)
	}
	act, err := ParseAction(r.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, sym, err)
	}
	if act == ActionHold {
		return Hold{Asset: sym, Reasoning: r.Reasoning}, nil
	}

	if r.Confidence < 0 || r.Confidence > 1 {
		return nil, fmt.Errorf("%w: %s: confidence %v outside [0,1]", ErrInvalidRecord, sym, r.Confidence)
	}
	if r.Leverage != nil && *r.Leverage < 1 {
		return nil, fmt.Errorf("%w: %s: leverage %d below 1", ErrInvalidRecord, sym, *r.Leverage)
	}
	if r.EntryPrice != nil && *r.EntryPrice <= 0 {
		return nil, fmt.Errorf("%w: %s: entry price %v not positive", ErrInvalidRecord, sym, *r.EntryPrice)
	}

	t := Trade{
		Asset:      sym,
		Confidence: r.Confidence,
		Leverage:   r.Leverage,
		Price:      r.EntryPrice,
		Reasoning:  r.Reasoning,
	}
	if act == ActionBuy {
		return Buy{t}, nil
	}
	return Sell{t}, nil
}

// ParseBatch accepts either a JSON array of records or an object keyed by
// symbol. Object entries may omit "symbol". Results are ordered by symbol for
// objects and by position for arrays. Invalid records are reported together.
func ParseBatch(data []byte) ([]Decision, error) {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return nil, nil
	}

	var recs []Record
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("decode signal batch: %w", err)
		}
	case '{':
		var keyed map[string]Record
		if err := json.Unmarshal(data, &keyed); err != nil {
			return nil, fmt.Errorf("decode signal batch: %w", err)
		}
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			r := keyed[k]
			if r.Symbol == "" {
				r.Symbol = k
			}
			recs = append(recs, r)
		}
	default:
		return nil, fmt.Errorf("decode signal batch: expected array or object")
	}

	out := make([]Decision, 0, len(recs))
	var errs []error
	for _, r := range recs {
		d, err := Parse(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, d)
	}
	return out, errors.Join(errs...)
}
