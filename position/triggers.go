package position

// Trigger is the close instruction produced by a monitoring pass.
type Trigger string

const (
	TriggerNone       Trigger = ""
	TriggerStopLoss   Trigger = "close_stop_loss"
	TriggerTakeProfit Trigger = "close_take_profit"
)

func hitStopLoss(p Position, price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.IsLong {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

func hitTakeProfit(p Position, price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.IsLong {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}
