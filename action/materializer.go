// Package action turns satisfied rules into concrete, not-yet-submitted
// trade intents. Materialization reads market and position state but never
// writes: executing an intent is the rule engine's job. Every entry point
// returns a structured Result instead of an error, so one failed action
// never aborts its siblings.
package action

import (
	"context"
	"fmt"
	"math"

	"github.com/rustyeddy/advisor/broker"
	"github.com/rustyeddy/advisor/expert"
	"github.com/rustyeddy/advisor/internal/id"
	"github.com/rustyeddy/advisor/model"
	"github.com/rustyeddy/advisor/store"
)

// Intent is one materialized trade decision. Order is set for
// order-creating kinds; Price for TP/SL adjustments.
type Intent struct {
	Kind   model.ActionKind
	Symbol string

	Order *model.Order

	Price         float64
	TransactionID string
}

// CreatesOrder reports whether executing the intent persists a new order.
func (i *Intent) CreatesOrder() bool { return i.Order != nil }

// Priority orders intents for execution: entries first, closes second,
// adjustments last. Ties keep materialization order (stable sort).
func (i *Intent) Priority() int {
	switch i.Kind {
	case model.ActClose:
		return 2
	case model.ActAdjustTakeProfit, model.ActAdjustStopLoss:
		return 3
	default:
		return 1
	}
}

// Result is the structured outcome of one materialization or execution.
type Result struct {
	Success bool
	Message string

	Intent        *Intent
	OrderID       string
	TransactionID string
}

func failure(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

// Materializer builds intents for the closed set of action kinds.
type Materializer struct {
	store  store.Store
	driver broker.Driver
}

func New(st store.Store, drv broker.Driver) *Materializer {
	return &Materializer{store: st, driver: drv}
}

// Materialize builds the intent for one rule action. rec is the
// recommendation being evaluated; existing optionally names the order the
// rule operates on (its side decides the adjustment sign convention).
func (m *Materializer) Materialize(ctx context.Context, exp *expert.Instance, rec *model.Recommendation, existing *model.Order, act model.RuleAction) Result {
	switch act.Kind {
	case model.ActBuy:
		return m.openOrder(exp, rec, model.Buy, act.Params)
	case model.ActSell:
		return m.openOrder(exp, rec, model.Sell, act.Params)
	case model.ActClose:
		return m.closePosition(ctx, exp, rec, act.Params)
	case model.ActAdjustTakeProfit:
		return m.adjust(ctx, exp, rec, existing, act.Params, model.ActAdjustTakeProfit)
	case model.ActAdjustStopLoss:
		return m.adjust(ctx, exp, rec, existing, act.Params, model.ActAdjustStopLoss)
	case model.ActIncreaseShare:
		return m.resizeShare(ctx, exp, rec, act.Params, true)
	case model.ActDecreaseShare:
		return m.resizeShare(ctx, exp, rec, act.Params, false)
	}
	return failure("unknown action kind %q", act.Kind)
}

// openOrder creates a deliberately unsized entry: quantity 0, PENDING.
// Sizing is the capital allocator's job and nobody else's.
func (m *Materializer) openOrder(exp *expert.Instance, rec *model.Recommendation, side model.Side, params model.ActionParams) Result {
	if rec == nil {
		return failure("%s: no recommendation", side)
	}
	if !exp.Settings.AllowAutomatedTradeOpening {
		return failure("%s %s: automated trade opening disabled for expert %s", side, rec.Symbol, exp.ID)
	}
	if !exp.SideEnabled(side) {
		return failure("%s %s: side disabled for expert %s", side, rec.Symbol, exp.ID)
	}

	oid := id.New()
	ord := &model.Order{
		ID:               oid,
		Symbol:           rec.Symbol,
		Side:             side,
		Quantity:         0,
		Kind:             model.Market,
		Status:           model.OrderPending,
		RecommendationID: rec.ID,
		ExpertID:         exp.ID,
		AccountID:        exp.AccountID,
		Comment:          model.TrackingComment(exp.AccountID, exp.ID, "", oid, params.Comment),
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("%s %s pending allocation", side, rec.Symbol),
		OrderID: oid,
		Intent:  &Intent{Kind: actionKindForSide(side), Symbol: rec.Symbol, Order: ord},
	}
}

func actionKindForSide(side model.Side) model.ActionKind {
	if side == model.Sell {
		return model.ActSell
	}
	return model.ActBuy
}

// closePosition emits an opposite-side market order for the full position
// magnitude. The expert's open transaction takes precedence; without one,
// the account-scoped holding is closed.
func (m *Materializer) closePosition(ctx context.Context, exp *expert.Instance, rec *model.Recommendation, params model.ActionParams) Result {
	if rec == nil {
		return failure("close: no recommendation")
	}

	qty, long, txID, ok := m.positionFor(ctx, exp, rec.Symbol)
	if !ok || qty == 0 {
		return failure("close %s: no open position", rec.Symbol)
	}

	side := model.Sell
	if !long {
		side = model.Buy
	}

	oid := id.New()
	ord := &model.Order{
		ID:               oid,
		Symbol:           rec.Symbol,
		Side:             side,
		Quantity:         qty,
		Kind:             model.Market,
		Status:           model.OrderPending,
		TransactionID:    txID,
		RecommendationID: rec.ID,
		ExpertID:         exp.ID,
		AccountID:        exp.AccountID,
		Comment:          model.TrackingComment(exp.AccountID, exp.ID, txID, oid, params.Comment),
	}
	return Result{
		Success:       true,
		Message:       fmt.Sprintf("close %s %.0f units", rec.Symbol, qty),
		OrderID:       oid,
		TransactionID: txID,
		Intent:        &Intent{Kind: model.ActClose, Symbol: rec.Symbol, Order: ord, TransactionID: txID},
	}
}

// positionFor returns magnitude, direction and owning transaction id of the
// position to operate on.
func (m *Materializer) positionFor(ctx context.Context, exp *expert.Instance, symbol string) (qty float64, long bool, txID string, ok bool) {
	tx, err := m.store.OpenTransaction(ctx, exp.ID, symbol)
	if err == nil && tx.Quantity != 0 {
		return math.Abs(tx.Quantity), tx.Long(), tx.ID, true
	}
	if err != nil && err != store.ErrNotFound {
		return 0, false, "", false
	}

	positions, err := m.driver.Positions(ctx)
	if err != nil {
		return 0, false, "", false
	}
	for i := range positions {
		if positions[i].Symbol == symbol && positions[i].Quantity != 0 {
			return math.Abs(positions[i].Quantity), positions[i].Quantity > 0, "", true
		}
	}
	return 0, false, "", false
}

// adjust computes the new TP/SL price. The percent is applied with the
// position's sign: long take-profit adds the percent, a long stop-loss
// percent is supplied already negative, and shorts invert. One rule
// expression therefore serves both directions.
func (m *Materializer) adjust(ctx context.Context, exp *expert.Instance, rec *model.Recommendation, existing *model.Order, params model.ActionParams, kind model.ActionKind) Result {
	symbol := ""
	switch {
	case existing != nil:
		symbol = existing.Symbol
	case rec != nil:
		symbol = rec.Symbol
	default:
		return failure("%s: no order or recommendation", kind)
	}

	if params.Price != nil {
		if *params.Price <= 0 {
			return failure("%s %s: explicit price must be positive", kind, symbol)
		}
		return Result{
			Success: true,
			Message: fmt.Sprintf("%s %s -> %.4f", kind, symbol, *params.Price),
			Intent:  &Intent{Kind: kind, Symbol: symbol, Price: *params.Price},
		}
	}

	base, ok := m.referencePrice(ctx, params.Reference, symbol, existing, rec)
	if !ok {
		return failure("%s %s: reference %q unavailable", kind, symbol, params.Reference)
	}

	pct := 0.0
	if params.Percent != nil {
		pct = *params.Percent
	}

	dir := 1.0
	if !m.longFor(ctx, exp, symbol, existing, rec) {
		dir = -1
	}

	price := base * (1 + dir*pct/100)
	if price <= 0 {
		return failure("%s %s: computed price %.4f not positive", kind, symbol, price)
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("%s %s -> %.4f", kind, symbol, price),
		Intent:  &Intent{Kind: kind, Symbol: symbol, Price: price},
	}
}

func (m *Materializer) referencePrice(ctx context.Context, ref model.PriceReference, symbol string, existing *model.Order, rec *model.Recommendation) (float64, bool) {
	switch ref {
	case model.RefOrderPrice:
		if existing == nil {
			return 0, false
		}
		if existing.LimitPrice != nil && *existing.LimitPrice > 0 {
			return *existing.LimitPrice, true
		}
		if existing.FillPrice > 0 {
			return existing.FillPrice, true
		}
		return 0, false

	case model.RefCurrentPrice:
		price, err := m.driver.Price(ctx, symbol)
		return price, err == nil && price > 0

	case model.RefExpertTarget:
		if rec == nil {
			return 0, false
		}
		return rec.TargetPrice()
	}
	return 0, false
}

// longFor resolves the position direction the sign convention follows: the
// existing order's side when given, else the open transaction, else the
// recommendation's signal.
func (m *Materializer) longFor(ctx context.Context, exp *expert.Instance, symbol string, existing *model.Order, rec *model.Recommendation) bool {
	if existing != nil {
		return existing.Side == model.Buy
	}
	if tx, err := m.store.OpenTransaction(ctx, exp.ID, symbol); err == nil {
		return tx.Long()
	}
	return rec == nil || rec.Signal != model.SignalSell
}

// resizeShare moves the position toward a target percent of the expert's
// virtual equity. Decreasing keeps a one-share floor unless the target is
// exactly 0%, which liquidates fully.
func (m *Materializer) resizeShare(ctx context.Context, exp *expert.Instance, rec *model.Recommendation, params model.ActionParams, increase bool) Result {
	kind := model.ActDecreaseShare
	if increase {
		kind = model.ActIncreaseShare
	}
	if rec == nil {
		return failure("%s: no recommendation", kind)
	}
	if params.TargetPercent == nil {
		return failure("%s %s: target_percent required", kind, rec.Symbol)
	}

	price, err := m.driver.Price(ctx, rec.Symbol)
	if err != nil || price <= 0 {
		return failure("%s %s: no price", kind, rec.Symbol)
	}

	tx, err := m.store.OpenTransaction(ctx, exp.ID, rec.Symbol)
	if err != nil && err != store.ErrNotFound {
		return failure("%s %s: %v", kind, rec.Symbol, err)
	}

	var curQty float64
	long := true
	txID := ""
	if tx != nil {
		curQty = math.Abs(tx.Quantity)
		long = tx.Long()
		txID = tx.ID
	}

	targetValue := exp.VirtualBalance * *params.TargetPercent / 100
	if ceiling := exp.InstrumentCap(); ceiling > 0 && targetValue > ceiling {
		targetValue = ceiling
	}
	targetQty := math.Floor(targetValue / price)

	var qty float64
	var side model.Side
	switch {
	case increase:
		if targetQty <= curQty {
			return failure("%s %s: position already at or above target", kind, rec.Symbol)
		}
		qty = targetQty - curQty
		side = model.Buy
		if !long {
			side = model.Sell
		}

	default:
		if curQty == 0 {
			return failure("%s %s: no open position", kind, rec.Symbol)
		}
		if *params.TargetPercent == 0 {
			qty = curQty
		} else {
			if targetQty >= curQty {
				return failure("%s %s: position already at or below target", kind, rec.Symbol)
			}
			qty = curQty - targetQty
			if curQty-qty < 1 {
				qty = curQty - 1 // one-share floor
			}
		}
		if qty <= 0 {
			return failure("%s %s: nothing to sell", kind, rec.Symbol)
		}
		side = model.Sell
		if !long {
			side = model.Buy
		}
	}

	oid := id.New()
	ord := &model.Order{
		ID:               oid,
		Symbol:           rec.Symbol,
		Side:             side,
		Quantity:         qty,
		Kind:             model.Market,
		Status:           model.OrderPending,
		TransactionID:    txID,
		RecommendationID: rec.ID,
		ExpertID:         exp.ID,
		AccountID:        exp.AccountID,
		Comment:          model.TrackingComment(exp.AccountID, exp.ID, txID, oid, params.Comment),
	}
	return Result{
		Success:       true,
		Message:       fmt.Sprintf("%s %s by %.0f units", kind, rec.Symbol, qty),
		OrderID:       oid,
		TransactionID: txID,
		Intent:        &Intent{Kind: kind, Symbol: rec.Symbol, Order: ord, TransactionID: txID},
	}
}
