package model

import (
	"fmt"
	"time"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderKind string

const (
	Market    OrderKind = "MARKET"
	Limit     OrderKind = "LIMIT"
	Stop      OrderKind = "STOP"
	StopLimit OrderKind = "STOP_LIMIT"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderWaitingTrigger  OrderStatus = "WAITING_TRIGGER"
	OrderSubmitted       OrderStatus = "SUBMITTED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderClosed          OrderStatus = "CLOSED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderExpired         OrderStatus = "EXPIRED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderStopped         OrderStatus = "STOPPED"
	OrderError           OrderStatus = "ERROR"
	OrderReplaced        OrderStatus = "REPLACED"
)

// Terminal reports whether the status can never change again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderClosed, OrderCanceled, OrderExpired, OrderRejected,
		OrderStopped, OrderError, OrderReplaced:
		return true
	}
	return false
}

// Executed reports whether the broker has filled at least part of the order.
func (s OrderStatus) Executed() bool {
	switch s {
	case OrderPartiallyFilled, OrderFilled, OrderClosed, OrderStopped:
		return true
	}
	return false
}

// Failed reports whether the order died without ever executing.
func (s OrderStatus) Failed() bool {
	return s == OrderRejected || s == OrderError
}

// Order is the unit of broker intent. Quantity 0 means "not yet sized";
// the capital allocator is the only component that turns 0 into a real
// quantity. Orders with DependsOn set start in WAITING_TRIGGER and must
// not reach the broker until the dependency hits DependsTrigger.
type Order struct {
	ID       string
	Symbol   string
	Side     Side
	Quantity float64
	Kind     OrderKind

	LimitPrice *float64
	StopPrice  *float64
	FillPrice  float64

	Status OrderStatus

	DependsOn      string
	DependsTrigger OrderStatus

	TransactionID    string
	RecommendationID string
	AccountID        string
	ExpertID         string
	BrokerID         string
	Comment          string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the structural invariants an order must satisfy before it
// is persisted. IDs are monotonic ULIDs, so the dependency graph stays a DAG
// as long as every dependency id sorts strictly before the order's own id.
func (o *Order) Validate() error {
	if o.ID == "" {
		return &ValidationError{Field: "id", Reason: "missing order id"}
	}
	if o.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "missing symbol"}
	}
	if o.Side != Buy && o.Side != Sell {
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("invalid side %q", o.Side)}
	}
	if o.Quantity < 0 {
		return &ValidationError{Field: "quantity", Reason: "quantity must be >= 0"}
	}
	if o.DependsOn != "" {
		if o.DependsOn >= o.ID {
			return &ValidationError{Field: "depends_on", Reason: "dependency must be created before the order"}
		}
		if o.DependsTrigger == "" {
			return &ValidationError{Field: "depends_trigger", Reason: "dependency requires a trigger status"}
		}
	}
	if o.Status == OrderWaitingTrigger && o.DependsOn == "" {
		return &ValidationError{Field: "depends_on", Reason: "waiting-trigger order requires a dependency"}
	}
	return nil
}

// ValidationError marks a malformed entity. It is always surfaced to the
// caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}
