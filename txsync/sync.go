// Package txsync keeps a transaction, its entry order and its dependent
// take-profit / stop-loss legs consistent as quantities and prices change.
// Brokers refuse to resize a resting bracket leg, so resizing is done by
// cancel-and-recreate with WAITING_TRIGGER sequencing; the transaction's
// own quantity is always the last write, so a crash mid-sequence never
// leaves it ahead of the order set.
package txsync

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/rustyeddy/advisor/broker"
	"github.com/rustyeddy/advisor/internal/id"
	"github.com/rustyeddy/advisor/model"
	"github.com/rustyeddy/advisor/store"
)

type Synchronizer struct {
	store  store.Store
	driver broker.Driver
	logger *log.Logger
}

func New(st store.Store, drv broker.Driver, logger *log.Logger) *Synchronizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Synchronizer{store: st, driver: drv, logger: logger}
}

// EnsureTransaction returns the order's transaction, creating one when the
// order has none yet. A transaction is created at most once per originating
// order.
func (s *Synchronizer) EnsureTransaction(ctx context.Context, ord *model.Order) (*model.Transaction, error) {
	if ord.TransactionID != "" {
		return s.store.Transaction(ctx, ord.TransactionID)
	}

	qty := ord.Quantity
	if ord.Side == model.Sell {
		qty = -qty
	}

	openPrice := ord.FillPrice
	if openPrice == 0 && ord.LimitPrice != nil {
		openPrice = *ord.LimitPrice
	}

	tx := &model.Transaction{
		ID:        id.New(),
		Symbol:    ord.Symbol,
		Quantity:  qty,
		OpenPrice: openPrice,
		Status:    model.TxWaiting,
		ExpertID:  ord.ExpertID,
		AccountID: ord.AccountID,
	}
	err := store.Routine.Do(ctx, func() error { return s.store.CreateTransaction(ctx, tx) })
	if err != nil {
		return nil, fmt.Errorf("create transaction for order %s: %w", ord.ID, err)
	}

	ord.TransactionID = tx.ID
	ord.Comment = model.TrackingComment(ord.AccountID, ord.ExpertID, tx.ID, ord.ID, "")
	err = store.Routine.Do(ctx, func() error { return s.store.UpdateOrder(ctx, ord) })
	if err != nil {
		return nil, fmt.Errorf("link order %s to transaction %s: %w", ord.ID, tx.ID, err)
	}
	return tx, nil
}

// AdjustQuantity sets the transaction and its live orders to the given
// magnitude. PENDING orders are resized directly; WAITING_TRIGGER
// dependents only receive a nonzero quantity once the entry has executed,
// so a zero-quantity order can never go live. The transaction row is
// written last. Calling it twice with the same quantity is a no-op.
func (s *Synchronizer) AdjustQuantity(ctx context.Context, tx *model.Transaction, qty float64) error {
	if qty < 0 {
		return &model.ValidationError{Field: "quantity", Reason: "quantity must be >= 0"}
	}

	orders, err := s.store.OrdersByTransaction(ctx, tx.ID)
	if err != nil {
		return fmt.Errorf("orders of transaction %s: %w", tx.ID, err)
	}

	entry := entryOrder(orders)
	entryExecuted := entry != nil && entry.Status.Executed()

	for i := range orders {
		ord := &orders[i]
		switch ord.Status {
		case model.OrderPending:
		case model.OrderWaitingTrigger:
			if ord.DependsOn != "" && !entryExecuted {
				continue
			}
		default:
			continue
		}
		if ord.Quantity == qty {
			continue
		}
		ord.Quantity = qty
		if err := store.Routine.Do(ctx, func() error { return s.store.UpdateOrder(ctx, ord) }); err != nil {
			return fmt.Errorf("resize order %s: %w", ord.ID, err)
		}
	}

	signed := qty
	if shortPosition(tx, orders) {
		signed = -qty
	}
	if tx.Quantity == signed {
		return nil
	}
	tx.Quantity = signed
	return store.Routine.Do(ctx, func() error { return s.store.UpdateTransaction(ctx, tx) })
}

// Adjustment reports the orders AdjustQuantityWithTPSL created and
// canceled.
type Adjustment struct {
	EntryOrder    *model.Order // close order on decrease, add order on increase
	TakeProfitLeg *model.Order
	StopLossLeg   *model.Order
	Canceled      []string
}

// AdjustQuantityWithTPSL changes the position magnitude by delta while
// re-bracketing the TP/SL legs. A decrease sequences close-after-cancel:
// the close order waits for the old legs' cancellation, and the new legs
// wait for the close order's fill. An increase submits the add order
// immediately and parks the new legs behind the cancellation. tp and sl
// override the bracket prices; nil carries the old ones over.
func (s *Synchronizer) AdjustQuantityWithTPSL(ctx context.Context, tx *model.Transaction, delta float64, tp, sl *float64) (*Adjustment, error) {
	if delta == 0 {
		return nil, &model.ValidationError{Field: "delta", Reason: "quantity change must be nonzero"}
	}

	curQty := math.Abs(tx.Quantity)
	newQty := curQty + delta
	if newQty < 0 {
		return nil, &model.ValidationError{
			Field:  "delta",
			Reason: fmt.Sprintf("cannot decrease %s by %.0f, only %.0f held", tx.Symbol, -delta, curQty),
		}
	}

	orders, err := s.store.OrdersByTransaction(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("orders of transaction %s: %w", tx.ID, err)
	}
	legs := bracketLegs(tx, orders)
	short := shortPosition(tx, orders)

	posSide, closeSide := model.Buy, model.Sell
	if short {
		posSide, closeSide = model.Sell, model.Buy
	}

	adj := &Adjustment{}

	// Phase 1: the quantity-changing order.
	if delta < 0 {
		closeOrd := s.newOrder(tx, closeSide, -delta, model.Market, nil, nil)
		if len(legs) > 0 {
			closeOrd.Status = model.OrderWaitingTrigger
			closeOrd.DependsOn = legs[0].ID
			closeOrd.DependsTrigger = model.OrderCanceled
		}
		if err := s.createOrder(ctx, closeOrd); err != nil {
			return nil, err
		}
		adj.EntryOrder = closeOrd
	} else {
		addOrd := s.newOrder(tx, posSide, delta, model.Market, nil, nil)
		if err := s.createOrder(ctx, addOrd); err != nil {
			return nil, err
		}
		adj.EntryOrder = addOrd
	}

	// Phase 2: cancel the old bracket legs.
	tpPrice, slPrice := tp, sl
	for i := range legs {
		leg := &legs[i]
		if tpPrice == nil && leg.Kind == model.Limit {
			tpPrice = leg.LimitPrice
		}
		if slPrice == nil && leg.Kind == model.Stop {
			slPrice = leg.StopPrice
		}
		if err := s.cancelOrder(ctx, leg); err != nil {
			return nil, err
		}
		adj.Canceled = append(adj.Canceled, leg.ID)
	}
	if tpPrice == nil {
		tpPrice = tx.TakeProfit
	}
	if slPrice == nil {
		slPrice = tx.StopLoss
	}

	// Phase 3: replacement legs for the remaining position.
	if newQty > 0 {
		trigger := adj.EntryOrder.ID
		status := model.OrderFilled
		if delta > 0 && len(legs) > 0 {
			// On increase the new legs follow the old legs' cancellation.
			trigger = legs[0].ID
			status = model.OrderCanceled
		}

		if tpPrice != nil {
			leg := s.newOrder(tx, closeSide, newQty, model.Limit, tpPrice, nil)
			leg.Status = model.OrderWaitingTrigger
			leg.DependsOn = trigger
			leg.DependsTrigger = status
			if err := s.createOrder(ctx, leg); err != nil {
				return nil, err
			}
			adj.TakeProfitLeg = leg
		}
		if slPrice != nil {
			leg := s.newOrder(tx, closeSide, newQty, model.Stop, nil, slPrice)
			leg.Status = model.OrderWaitingTrigger
			leg.DependsOn = trigger
			leg.DependsTrigger = status
			if err := s.createOrder(ctx, leg); err != nil {
				return nil, err
			}
			adj.StopLossLeg = leg
		}
	}

	// The transaction row is the last write.
	signed := newQty
	if short {
		signed = -newQty
	}
	tx.Quantity = signed
	tx.TakeProfit = tpPrice
	tx.StopLoss = slPrice
	err = store.Routine.Do(ctx, func() error { return s.store.UpdateTransaction(ctx, tx) })
	if err != nil {
		return nil, fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}
	return adj, nil
}

// AdjustTargets rewrites the transaction's TP/SL prices and pushes them to
// its resting legs. Legs already live at the broker get the new price via
// the driver; parked legs are just updated in the store.
func (s *Synchronizer) AdjustTargets(ctx context.Context, tx *model.Transaction, tp, sl *float64) error {
	orders, err := s.store.OrdersByTransaction(ctx, tx.ID)
	if err != nil {
		return fmt.Errorf("orders of transaction %s: %w", tx.ID, err)
	}

	for i := range orders {
		ord := &orders[i]
		if ord.Status.Terminal() {
			continue
		}
		switch {
		case tp != nil && ord.Kind == model.Limit && ord.Side != entrySide(tx):
			ord.LimitPrice = tp
			if ord.Status == model.OrderSubmitted && ord.BrokerID != "" {
				if err := s.driver.SetOrderTakeProfit(ctx, ord.BrokerID, *tp); err != nil {
					return fmt.Errorf("set take-profit on %s: %w", ord.ID, err)
				}
			}
		case sl != nil && ord.Kind == model.Stop && ord.Side != entrySide(tx):
			ord.StopPrice = sl
		default:
			continue
		}
		if err := store.Routine.Do(ctx, func() error { return s.store.UpdateOrder(ctx, ord) }); err != nil {
			return fmt.Errorf("update leg %s: %w", ord.ID, err)
		}
	}

	if tp != nil {
		tx.TakeProfit = tp
	}
	if sl != nil {
		tx.StopLoss = sl
	}
	return store.Routine.Do(ctx, func() error { return s.store.UpdateTransaction(ctx, tx) })
}

// Refresh applies the transaction status invariant against its current
// order set and persists any change.
func (s *Synchronizer) Refresh(ctx context.Context, tx *model.Transaction) error {
	orders, err := s.store.OrdersByTransaction(ctx, tx.ID)
	if err != nil {
		return fmt.Errorf("orders of transaction %s: %w", tx.ID, err)
	}
	if !tx.RefreshStatus(orders, time.Now().UTC()) {
		return nil
	}
	s.logger.Printf("transaction %s -> %s", tx.ID, tx.Status)
	return store.Critical.Do(ctx, func() error { return s.store.UpdateTransaction(ctx, tx) })
}

func (s *Synchronizer) newOrder(tx *model.Transaction, side model.Side, qty float64, kind model.OrderKind, limit, stop *float64) *model.Order {
	oid := id.New()
	return &model.Order{
		ID:            oid,
		Symbol:        tx.Symbol,
		Side:          side,
		Quantity:      qty,
		Kind:          kind,
		LimitPrice:    limit,
		StopPrice:     stop,
		Status:        model.OrderPending,
		TransactionID: tx.ID,
		ExpertID:      tx.ExpertID,
		AccountID:     tx.AccountID,
		Comment:       model.TrackingComment(tx.AccountID, tx.ExpertID, tx.ID, oid, ""),
	}
}

func (s *Synchronizer) createOrder(ctx context.Context, ord *model.Order) error {
	err := store.Routine.Do(ctx, func() error { return s.store.CreateOrder(ctx, ord) })
	if err != nil {
		return fmt.Errorf("create order %s: %w", ord.ID, err)
	}
	return nil
}

// cancelOrder cancels at the broker when the leg is live, then records the
// terminal status. The status write is critical: a missed cancellation
// strands every order waiting on it.
func (s *Synchronizer) cancelOrder(ctx context.Context, ord *model.Order) error {
	if ord.BrokerID != "" {
		if _, err := s.driver.CancelOrder(ctx, ord.BrokerID); err != nil {
			return fmt.Errorf("cancel order %s at broker: %w", ord.ID, err)
		}
	}
	ord.Status = model.OrderCanceled
	err := store.Critical.Do(ctx, func() error { return s.store.UpdateOrder(ctx, ord) })
	if err != nil {
		return fmt.Errorf("mark order %s canceled: %w", ord.ID, err)
	}
	return nil
}

// entryOrder returns the transaction's earliest independent order.
func entryOrder(orders []model.Order) *model.Order {
	for i := range orders {
		if orders[i].DependsOn == "" {
			return &orders[i]
		}
	}
	return nil
}

// shortPosition reports whether the transaction holds (or will hold) a
// short. A transaction created from an unsized SELL entry carries quantity
// 0, which Long() reads as long, so the entry order's side breaks the tie.
func shortPosition(tx *model.Transaction, orders []model.Order) bool {
	if tx.Quantity != 0 {
		return tx.Quantity < 0
	}
	entry := entryOrder(orders)
	return entry != nil && entry.Side == model.Sell
}

func entrySide(tx *model.Transaction) model.Side {
	if tx.Long() {
		return model.Buy
	}
	return model.Sell
}

// bracketLegs returns the transaction's live TP/SL legs: non-terminal
// limit/stop orders on the closing side.
func bracketLegs(tx *model.Transaction, orders []model.Order) []model.Order {
	var legs []model.Order
	for i := range orders {
		o := orders[i]
		if o.Status.Terminal() || o.Status.Executed() {
			continue
		}
		if o.Kind != model.Limit && o.Kind != model.Stop {
			continue
		}
		if o.Side == entrySide(tx) {
			continue
		}
		legs = append(legs, o)
	}
	return legs
}
