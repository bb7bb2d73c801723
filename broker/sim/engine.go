package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/rustyeddy/advisor/broker"
	"github.com/rustyeddy/advisor/internal/id"
	"github.com/rustyeddy/advisor/model"
)

// Engine is a deterministic in-memory broker. Market orders fill instantly
// at the stored price; limit and stop orders rest until canceled. It backs
// the package tests and the demo command.
type Engine struct {
	mu        sync.Mutex
	balance   float64
	prices    map[string]float64
	positions map[string]*broker.Position
	resting   map[string]*model.Order
}

func New(balance float64) *Engine {
	return &Engine{
		balance:   balance,
		prices:    make(map[string]float64),
		positions: make(map[string]*broker.Position),
		resting:   make(map[string]*model.Order),
	}
}

// SetPrice sets the current price for a symbol.
func (e *Engine) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// SetPosition seeds an account-scoped holding, for tests.
func (e *Engine) SetPosition(symbol string, quantity, avgPrice float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[symbol] = &broker.Position{Symbol: symbol, Quantity: quantity, AveragePrice: avgPrice}
}

func (e *Engine) Balance(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, nil
}

func (e *Engine) Positions(ctx context.Context) ([]broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]broker.Position, 0, len(e.positions))
	for _, p := range e.positions {
		if p.Quantity != 0 {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (e *Engine) Price(ctx context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.priceLocked(symbol)
}

func (e *Engine) Prices(ctx context.Context, symbols []string) (map[string]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		p, err := e.priceLocked(s)
		if err != nil {
			continue // unknown symbols are simply absent from the bulk answer
		}
		out[s] = p
	}
	return out, nil
}

func (e *Engine) priceLocked(symbol string) (float64, error) {
	p, ok := e.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("sim: no price for %q", symbol)
	}
	return p, nil
}

func (e *Engine) SubmitOrder(ctx context.Context, ord *model.Order) (*broker.Ack, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ord.Quantity <= 0 {
		return nil, fmt.Errorf("sim: order %s has no quantity", ord.ID)
	}

	brokerID := id.New()

	if ord.Kind != model.Market {
		rest := *ord
		rest.BrokerID = brokerID
		e.resting[brokerID] = &rest
		return &broker.Ack{BrokerID: brokerID, Status: model.OrderSubmitted}, nil
	}

	price, err := e.priceLocked(ord.Symbol)
	if err != nil {
		return nil, err
	}

	qty := ord.Quantity
	if ord.Side == model.Sell {
		qty = -qty
	}

	pos, ok := e.positions[ord.Symbol]
	if !ok {
		pos = &broker.Position{Symbol: ord.Symbol}
		e.positions[ord.Symbol] = pos
	}
	if next := pos.Quantity + qty; next != 0 {
		// Weighted entry price only moves when the position grows.
		if (pos.Quantity >= 0) == (qty >= 0) {
			pos.AveragePrice = (pos.AveragePrice*abs(pos.Quantity) + price*abs(qty)) / abs(next)
		}
		pos.Quantity = next
	} else {
		pos.Quantity = 0
		pos.AveragePrice = 0
	}
	e.balance -= qty * price

	return &broker.Ack{BrokerID: brokerID, Status: model.OrderFilled, FillPrice: price}, nil
}

func (e *Engine) CancelOrder(ctx context.Context, brokerID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.resting[brokerID]; ok {
		delete(e.resting, brokerID)
		return true, nil
	}
	return false, nil
}

func (e *Engine) SetOrderTakeProfit(ctx context.Context, brokerID string, price float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ord, ok := e.resting[brokerID]
	if !ok {
		return fmt.Errorf("sim: no resting order %q", brokerID)
	}
	ord.LimitPrice = &price
	return nil
}

// Resting returns the number of resting (non-market) orders, for tests.
func (e *Engine) Resting() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.resting)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
