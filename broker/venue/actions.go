package venue

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/perptrader/broker"
)

type orderType struct {
	Limit  *limitType `json:"limit,omitempty"`
	Market *struct{}  `json:"market,omitempty"`
}

type limitType struct {
	TIF string `json:"tif"`
}

type orderWire struct {
	Coin       string    `json:"coin"`
	IsBuy      bool      `json:"is_buy"`
	Size       string    `json:"sz"`
	LimitPx    string    `json:"limit_px,omitempty"`
	OrderType  orderType `json:"order_type"`
	ReduceOnly bool      `json:"reduce_only"`
	Cloid      string    `json:"cloid,omitempty"`
}

type orderAction struct {
	Type     string      `json:"type"`
	Orders   []orderWire `json:"orders"`
	Grouping string      `json:"grouping"`
}

type cancelWire struct {
	Coin string `json:"coin"`
	OID  int64  `json:"oid"`
}

type cancelAction struct {
	Type    string       `json:"type"`
	Cancels []cancelWire `json:"cancels"`
}

type modifyAction struct {
	Type  string    `json:"type"`
	OID   int64     `json:"oid"`
	Order orderWire `json:"order"`
}

type leverageAction struct {
	Type     string `json:"type"`
	Coin     string `json:"coin"`
	IsCross  bool   `json:"is_cross"`
	Leverage int    `json:"leverage"`
}

type envelope struct {
	Action    json.RawMessage `json:"action"`
	Nonce     int64           `json:"nonce"`
	Signature string          `json:"signature"`
}

// wireNumber renders a float the way the venue expects sizes and prices:
// a plain decimal string with no exponent and no trailing zeros.
func wireNumber(f float64) string {
	return decimal.NewFromFloat(f).Round(8).String()
}

func toWire(o broker.OrderIntent, cloid string) orderWire {
	w := orderWire{
		Coin:       o.Symbol,
		IsBuy:      o.IsBuy,
		Size:       wireNumber(o.Size),
		ReduceOnly: o.ReduceOnly,
		Cloid:      cloid,
	}
	if o.Price == nil {
		w.OrderType.Market = &struct{}{}
	} else {
		w.LimitPx = wireNumber(*o.Price)
		w.OrderType.Limit = &limitType{TIF: "Gtc"}
	}
	return w
}

type response struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type orderStatus struct {
	Resting *struct {
		OID int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		OID     int64  `json:"oid"`
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

type statusPayload struct {
	Type string `json:"type"`
	Data struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}
