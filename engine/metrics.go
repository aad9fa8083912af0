package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rustyeddy/perptrader/capital"
)

// Metrics are the engine's Prometheus series. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Capital        prometheus.Gauge
	PeakCapital    prometheus.Gauge
	Drawdown       prometheus.Gauge
	DailyPnL       prometheus.Gauge
	RealizedPnL    prometheus.Gauge
	UnrealizedPnL  prometheus.Gauge
	TradingEnabled prometheus.Gauge
	OpenPositions  prometheus.Gauge
	Exposure       prometheus.Gauge

	Orders      *prometheus.CounterVec
	Rejections  *prometheus.CounterVec
	Closes      *prometheus.CounterVec
	LatchTrips  *prometheus.CounterVec
	Ticks       prometheus.Counter
	MissingMark *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: "perptrader_" + name, Help: help})
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "perptrader_" + name, Help: help}, labels)
	}

	return &Metrics{
		Capital:        gauge("capital_usd", "Current capital including unrealized PnL"),
		PeakCapital:    gauge("peak_capital_usd", "Highest capital seen this session"),
		Drawdown:       gauge("drawdown_ratio", "Fractional decline from peak capital"),
		DailyPnL:       gauge("daily_pnl_usd", "Realized PnL in the current daily window"),
		RealizedPnL:    gauge("realized_pnl_usd", "Realized PnL since start"),
		UnrealizedPnL:  gauge("unrealized_pnl_usd", "Leveraged PnL of open positions"),
		TradingEnabled: gauge("trading_enabled", "1 while new trades are allowed"),
		OpenPositions:  gauge("open_positions", "Number of open positions"),
		Exposure:       gauge("exposure_usd", "Sum of size*entry over open positions"),

		Orders:      counter("orders_total", "Orders sent to the execution adapter", "mode", "status"),
		Rejections:  counter("risk_rejections_total", "Trade intents refused by the risk checks", "code"),
		Closes:      counter("position_closes_total", "Positions closed", "reason"),
		LatchTrips:  counter("latch_trips_total", "Times trading was disabled by a risk limit", "limit"),
		Ticks:       prometheus.NewCounter(prometheus.CounterOpts{Name: "perptrader_ticks_total", Help: "Monitoring passes run"}),
		MissingMark: counter("missing_prices_total", "Open positions that could not be marked", "symbol"),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Capital, m.PeakCapital, m.Drawdown, m.DailyPnL, m.RealizedPnL, m.UnrealizedPnL,
		m.TradingEnabled, m.OpenPositions, m.Exposure,
		m.Orders, m.Rejections, m.Closes, m.LatchTrips, m.Ticks, m.MissingMark,
	}
}

// Register adds every series to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observeState(s capital.State, unrealized float64, positions int, exposure float64) {
	if m == nil {
		return
	}
	m.Capital.Set(s.CurrentCapital)
	m.PeakCapital.Set(s.PeakCapital)
	m.Drawdown.Set(s.Drawdown)
	m.DailyPnL.Set(s.DailyPnL)
	m.RealizedPnL.Set(s.RealizedPnL)
	m.UnrealizedPnL.Set(unrealized)
	m.OpenPositions.Set(float64(positions))
	m.Exposure.Set(exposure)
	if s.TradingEnabled {
		m.TradingEnabled.Set(1)
	} else {
		m.TradingEnabled.Set(0)
	}
}

func (m *Metrics) order(mode, status string) {
	if m != nil {
		m.Orders.WithLabelValues(mode, status).Inc()
	}
}

func (m *Metrics) rejection(code string) {
	if m != nil {
		m.Rejections.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) closed(reason string) {
	if m != nil {
		m.Closes.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) tripped(limit string) {
	if m != nil {
		m.LatchTrips.WithLabelValues(limit).Inc()
	}
}

func (m *Metrics) tick() {
	if m != nil {
		m.Ticks.Inc()
	}
}

func (m *Metrics) missing(symbol string) {
	if m != nil {
		m.MissingMark.WithLabelValues(symbol).Inc()
	}
}
