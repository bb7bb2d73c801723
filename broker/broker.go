package broker

import (
	"context"

	"github.com/rustyeddy/advisor/model"
)

// Driver is the account-level broker contract the engine depends on.
// Implementations wrap a real brokerage API; broker/sim provides a
// deterministic in-memory implementation for tests and demo runs.
type Driver interface {
	Balance(ctx context.Context) (float64, error)
	Positions(ctx context.Context) ([]Position, error)

	// Price returns the current price for one symbol.
	Price(ctx context.Context, symbol string) (float64, error)
	// Prices is the bulk form; allocation passes must use it so one pass
	// costs a single round-trip regardless of order count.
	Prices(ctx context.Context, symbols []string) (map[string]float64, error)

	SubmitOrder(ctx context.Context, ord *model.Order) (*Ack, error)
	CancelOrder(ctx context.Context, brokerID string) (bool, error)
	SetOrderTakeProfit(ctx context.Context, brokerID string, price float64) error
}

// Position is an account-scoped holding as the broker reports it. This is
// distinct from an expert-scoped transaction: the account may hold units of
// a symbol no expert transaction covers.
type Position struct {
	Symbol       string
	Quantity     float64
	AveragePrice float64
}

// Ack is the broker's answer to an order submission.
type Ack struct {
	BrokerID  string
	Status    model.OrderStatus
	FillPrice float64
}
