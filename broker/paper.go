package broker

import (
	"fmt"
	"sync"
	"time"
)

type OrderStatus string

const (
	OrderOpen     OrderStatus = "open"
	OrderCanceled OrderStatus = "canceled"
)

type PaperOrder struct {
	ID         int64
	Symbol     string
	IsBuy      bool
	Size       float64
	Price      float64 // 0 for market orders
	Market     bool
	Leverage   int
	ReduceOnly bool
	Status     OrderStatus
	PlacedAt   time.Time
}

// PaperBook is the in-process order book. Every placement succeeds and ids
// count up from 1, shared across symbols.
type PaperBook struct {
	mu     sync.Mutex
	orders []*PaperOrder
	nextID int64
	now    func() time.Time
}

func NewPaperBook(now func() time.Time) *PaperBook {
	if now == nil {
		now = time.Now
	}
	return &PaperBook{nextID: 1, now: now}
}

func (b *PaperBook) Place(o OrderIntent) PaperOrder {
	b.mu.Lock()
	defer b.mu.Unlock()

	po := &PaperOrder{
		ID:         b.nextID,
		Symbol:     o.Symbol,
		IsBuy:      o.IsBuy,
		Size:       o.Size,
		Market:     o.Price == nil,
		ReduceOnly: o.ReduceOnly,
		Status:     OrderOpen,
		PlacedAt:   b.now(),
	}
	if o.Price != nil {
		po.Price = *o.Price
	}
	if o.Leverage != nil {
		po.Leverage = *o.Leverage
	}
	b.nextID++
	b.orders = append(b.orders, po)
	return *po
}

func (b *PaperBook) find(id int64) (*PaperOrder, error) {
	for _, o := range b.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
}

func (b *PaperBook) Cancel(id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.find(id)
	if err != nil {
		return err
	}
	o.Status = OrderCanceled
	return nil
}

// Modify reprices an open order and makes it a limit order.
func (b *PaperBook) Modify(id int64, price, size float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.find(id)
	if err != nil {
		return err
	}
	if o.Status != OrderOpen {
		return fmt.Errorf("%w: %d is %s", ErrOrderNotOpen, id, o.Status)
	}
	o.Price = price
	o.Size = size
	o.Market = false
	return nil
}

// CancelAll cancels every open order for symbol, or for all symbols when
// symbol is empty, and returns how many it touched.
func (b *PaperBook) CancelAll(symbol string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, o := range b.orders {
		if o.Status != OrderOpen {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		o.Status = OrderCanceled
		n++
	}
	return n
}

// Open returns copies of the orders still open.
func (b *PaperBook) Open() []PaperOrder {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []PaperOrder
	for _, o := range b.orders {
		if o.Status == OrderOpen {
			out = append(out, *o)
		}
	}
	return out
}

// Get returns a copy of the order with id.
func (b *PaperBook) Get(id int64) (PaperOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.find(id)
	if err != nil {
		return PaperOrder{}, err
	}
	return *o, nil
}
