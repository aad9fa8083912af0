package risk

import "fmt"

const (
	CodeTradingDisabled = "TRADING_DISABLED"
	CodeInvalidIntent   = "INVALID_INTENT"
	CodeLeverageTooHigh = "LEVERAGE_TOO_HIGH"
	CodePositionTooBig  = "POSITION_TOO_LARGE"
	CodeExposureTooHigh = "TOTAL_EXPOSURE_TOO_HIGH"
)

const reasonValidated = "validated"

type Decision struct {
	Allowed bool
	Code    string
	Reason  string

	Notional      float64
	TotalNotional float64
}

func reject(d Decision, code, msg string) Decision {
	d.Allowed = false
	d.Code = code
	d.Reason = msg
	return d
}

// Shrinkable reports whether a smaller size could turn this rejection into
// an admission.
func (d Decision) Shrinkable() bool {
	return d.Code == CodePositionTooBig || d.Code == CodeExposureTooHigh
}

type Validator struct {
	Policy Policy
}

func NewValidator(p Policy) *Validator {
	return &Validator{Policy: p}
}

// Validate is a pure check of intent against exp. It stops at the first
// failing rule.
func (v *Validator) Validate(intent TradeIntent, exp Exposure) Decision {
	p := v.Policy
	d := Decision{Notional: intent.Notional()}

	if !exp.TradingEnabled {
		return reject(d, CodeTradingDisabled, "trading disabled: risk limits active")
	}

	if intent.Size <= 0 || intent.Price <= 0 {
		return reject(d, CodeInvalidIntent,
			fmt.Sprintf("size %.8f and price %.8f must be positive", intent.Size, intent.Price))
	}
	if intent.Leverage < 1 {
		return reject(d, CodeInvalidIntent, fmt.Sprintf("leverage %dx must be at least 1x", intent.Leverage))
	}

	if p.MaxLeverage != Unbounded && intent.Leverage > p.MaxLeverage {
		return reject(d, CodeLeverageTooHigh,
			fmt.Sprintf("leverage %dx exceeds maximum %dx", intent.Leverage, p.MaxLeverage))
	}

	maxPosition := exp.CurrentCapital * p.MaxPositionPerSymbol
	if d.Notional > maxPosition {
		return reject(d, CodePositionTooBig,
			fmt.Sprintf("position size $%.2f exceeds limit $%.2f", d.Notional, maxPosition))
	}

	d.TotalNotional = exp.OpenNotional + d.Notional
	maxTotal := exp.CurrentCapital * p.MaxTotalPosition
	if d.TotalNotional > maxTotal {
		return reject(d, CodeExposureTooHigh,
			fmt.Sprintf("total position $%.2f exceeds limit $%.2f", d.TotalNotional, maxTotal))
	}

	d.Allowed = true
	d.Reason = reasonValidated
	return d
}
