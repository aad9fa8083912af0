package market

import "strings"

type InstrumentMeta struct {
	Name         string
	SizeDecimals int
	MaxLeverage  int
}

// Instruments is the tradable whitelist. Decisions for any other symbol are
// dropped before they reach the risk checks.
var Instruments = map[string]InstrumentMeta{
	"XRP":  {Name: "XRP", SizeDecimals: 0, MaxLeverage: 20},
	"DOGE": {Name: "DOGE", SizeDecimals: 0, MaxLeverage: 10},
	"BTC":  {Name: "BTC", SizeDecimals: 5, MaxLeverage: 40},
	"ETH":  {Name: "ETH", SizeDecimals: 4, MaxLeverage: 25},
	"SOL":  {Name: "SOL", SizeDecimals: 2, MaxLeverage: 20},
	"BNB":  {Name: "BNB", SizeDecimals: 3, MaxLeverage: 10},
}

// AllowedSymbols lists Instruments in a fixed order.
var AllowedSymbols = []string{"XRP", "DOGE", "BTC", "ETH", "SOL", "BNB"}

func IsAllowed(symbol string) bool {
	_, ok := Instruments[strings.ToUpper(symbol)]
	return ok
}
