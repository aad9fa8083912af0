package market

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// Volatility is a streaming per-symbol estimate: the sample standard
// deviation of simple returns over the last Period marks. A symbol is Ready
// after Warmup marks.
type Volatility struct {
	mu     sync.Mutex
	period int
	marks  map[string][]float64
}

func NewVolatility(period int) *Volatility {
	if period < 2 {
		period = 2
	}
	return &Volatility{period: period, marks: make(map[string][]float64)}
}

func (v *Volatility) Name() string {
	return fmt.Sprintf("VOL(%d)", v.period)
}

// Warmup is the number of marks needed for period returns.
func (v *Volatility) Warmup() int {
	return v.period + 1
}

// Update consumes the next mark. Non-positive prices are ignored.
func (v *Volatility) Update(symbol string, price float64) {
	if price <= 0 {
		return
	}
	sym := strings.ToUpper(symbol)

	v.mu.Lock()
	defer v.mu.Unlock()
	m := append(v.marks[sym], price)
	if len(m) > v.Warmup() {
		m = m[len(m)-v.Warmup():]
	}
	v.marks[sym] = m
}

func (v *Volatility) Ready(symbol string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.marks[strings.ToUpper(symbol)]) >= v.Warmup()
}

// Value returns the estimate and whether the symbol has warmed up.
func (v *Volatility) Value(symbol string) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	m := v.marks[strings.ToUpper(symbol)]
	if len(m) < v.Warmup() {
		return 0, false
	}

	rets := make([]float64, len(m)-1)
	mean := 0.0
	for i := 1; i < len(m); i++ {
		rets[i-1] = m[i]/m[i-1] - 1
		mean += rets[i-1]
	}
	mean /= float64(len(rets))

	ss := 0.0
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss / float64(len(rets)-1)), true
}

// Reset clears one symbol, or every symbol when symbol is empty.
func (v *Volatility) Reset(symbol string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if symbol == "" {
		v.marks = make(map[string][]float64)
		return
	}
	delete(v.marks, strings.ToUpper(symbol))
}
