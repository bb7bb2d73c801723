// Package allocator sizes the entry orders the rule engine leaves behind.
// Entries materialize with quantity 0; one allocator pass walks them in
// expected-profit order and hands out the expert's remaining virtual
// balance under a per-instrument cap. The pass is deliberately greedy and
// sequential: a later order can starve, but every allocation is explainable
// from the ranking alone.
package allocator

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/rustyeddy/advisor/broker"
	"github.com/rustyeddy/advisor/expert"
	"github.com/rustyeddy/advisor/model"
	"github.com/rustyeddy/advisor/store"
	"github.com/rustyeddy/advisor/txsync"
)

// diversificationFactor reserves headroom for later instruments while more
// than one can still receive capital.
const diversificationFactor = 0.7

// topROICount is how many distinct leading symbols qualify for the
// one-unit exception when their price exceeds the per-instrument cap.
const topROICount = 3

// Report summarizes one allocation pass.
type Report struct {
	Funded   []model.Order
	Unfunded []model.Order

	// Spent is the total cost of this pass's allocations.
	Spent float64
}

// Allocator runs sizing passes for expert instances.
type Allocator struct {
	store  store.Store
	driver broker.Driver
	txs    *txsync.Synchronizer
	logger *log.Logger
}

func New(st store.Store, drv broker.Driver, txs *txsync.Synchronizer, logger *log.Logger) *Allocator {
	if logger == nil {
		logger = log.Default()
	}
	return &Allocator{store: st, driver: drv, txs: txs, logger: logger}
}

// candidate pairs an unsized order with its recommendation's ranking input.
type candidate struct {
	order  model.Order
	profit float64
}

// Run sizes every pending unsized order of the expert. Funded orders are
// persisted with their new quantity (propagated to their transaction and
// dependent orders); unfunded orders are deleted together with everything
// depending on them. Store and balance failures abort the pass; a merely
// unpriceable symbol only unfunds its own order.
func (a *Allocator) Run(ctx context.Context, exp *expert.Instance) (*Report, error) {
	orders, err := a.store.PendingUnsizedOrders(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("pending orders of expert %s: %w", exp.ID, err)
	}
	if len(orders) == 0 {
		return &Report{}, nil
	}

	openTxs, err := a.store.OpenTransactionsByExpert(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("open transactions of expert %s: %w", exp.ID, err)
	}
	remaining := exp.AvailableBalance(openTxs)
	instrCap := exp.InstrumentCap()

	report := &Report{}
	var cands []candidate

	for i := range orders {
		ord := orders[i]
		if !exp.SideEnabled(ord.Side) {
			report.Unfunded = append(report.Unfunded, ord)
			continue
		}
		if ord.RecommendationID == "" {
			continue // not this pass's input
		}
		rec, err := a.store.Recommendation(ctx, ord.RecommendationID)
		if err == store.ErrNotFound {
			report.Unfunded = append(report.Unfunded, ord)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("recommendation %s: %w", ord.RecommendationID, err)
		}
		cands = append(cands, candidate{order: ord, profit: rec.ExpectedProfitPct})
	}

	// Highest expected profit first; ties keep store order.
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].profit > cands[j].profit })

	topROI := make(map[string]bool)
	for _, c := range cands {
		if len(topROI) == topROICount {
			break
		}
		topROI[c.order.Symbol] = true
	}

	// One bulk fetch per pass, regardless of order count.
	symbols := make([]string, 0, len(cands))
	seen := make(map[string]bool)
	for _, c := range cands {
		if !seen[c.order.Symbol] {
			seen[c.order.Symbol] = true
			symbols = append(symbols, c.order.Symbol)
		}
	}
	prices, err := a.driver.Prices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("bulk prices: %w", err)
	}

	allocated := make(map[string]float64)

	for i, c := range cands {
		ord := c.order
		price, ok := prices[ord.Symbol]
		if !ok || price <= 0 {
			report.Unfunded = append(report.Unfunded, ord)
			continue
		}

		qty := a.size(exp, ord.Symbol, price, remaining, instrCap, allocated, topROI,
			a.moreFundable(cands[i+1:], ord.Symbol, prices, remaining))
		if qty == 0 {
			report.Unfunded = append(report.Unfunded, ord)
			continue
		}

		cost := qty * price
		remaining -= cost
		allocated[ord.Symbol] += cost
		report.Spent += cost

		ord.Quantity = qty
		if err := a.persist(ctx, &ord, qty); err != nil {
			return nil, err
		}
		a.logger.Printf("allocator: %s %s x%.0f @ %.2f (expert %s)", ord.Side, ord.Symbol, qty, price, exp.ID)
		report.Funded = append(report.Funded, ord)
	}

	for _, ord := range report.Unfunded {
		if err := a.discard(ctx, &ord); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// size computes the quantity for one order under the current balances.
func (a *Allocator) size(exp *expert.Instance, symbol string, price, remaining, instrCap float64, allocated map[string]float64, topROI map[string]bool, diversify bool) float64 {
	availInstr := instrCap - allocated[symbol]
	maxByInstrument := availInstr / price
	maxByBalance := remaining / price

	// A top-ranked instrument priced above the whole cap gets exactly one
	// unit, provided the balance covers it. This is the only path around
	// the per-instrument cap.
	if price > instrCap && allocated[symbol] == 0 && topROI[symbol] && price <= remaining {
		return 1
	}

	raw := math.Min(maxByInstrument, maxByBalance)
	if raw <= 0 {
		return 0
	}
	if diversify {
		raw *= diversificationFactor
	}
	qty := math.Floor(raw)

	// Never starve an instrument both constraints individually afford.
	if qty == 0 && maxByInstrument >= 1 && maxByBalance >= 1 {
		qty = 1
	}
	if qty == 0 {
		return 0
	}

	if w := exp.Weight(symbol); w != 100 {
		weighted := math.Floor(qty * w / 100)
		cost := weighted * price
		if weighted <= 0 || cost > remaining || cost > availInstr {
			return qty // revert rather than over- or under-allocate
		}
		qty = weighted
	}
	return qty
}

// moreFundable reports whether a later candidate for a different symbol
// could still receive capital, which turns on the diversification factor.
func (a *Allocator) moreFundable(rest []candidate, symbol string, prices map[string]float64, remaining float64) bool {
	for _, c := range rest {
		if c.order.Symbol == symbol {
			continue
		}
		if p, ok := prices[c.order.Symbol]; ok && p > 0 && p <= remaining {
			return true
		}
	}
	return false
}

// persist writes the funded quantity through the synchronizer when the
// order already has a transaction, so dependents stay consistent.
func (a *Allocator) persist(ctx context.Context, ord *model.Order, qty float64) error {
	err := store.Routine.Do(ctx, func() error { return a.store.UpdateOrder(ctx, ord) })
	if err != nil {
		return fmt.Errorf("fund order %s: %w", ord.ID, err)
	}
	if ord.TransactionID == "" {
		return nil
	}
	tx, err := a.store.Transaction(ctx, ord.TransactionID)
	if err != nil {
		return fmt.Errorf("transaction %s: %w", ord.TransactionID, err)
	}
	if err := a.txs.AdjustQuantity(ctx, tx, qty); err != nil {
		return fmt.Errorf("propagate quantity to transaction %s: %w", tx.ID, err)
	}
	return nil
}

// discard deletes an unfunded order, every order depending on it
// (transitively), and its still-waiting transaction. Orphaned
// WAITING_TRIGGER orders are never left behind.
func (a *Allocator) discard(ctx context.Context, ord *model.Order) error {
	dependents, err := a.store.DependentOrders(ctx, ord.ID)
	if err != nil {
		return fmt.Errorf("dependents of order %s: %w", ord.ID, err)
	}
	for i := range dependents {
		if err := a.discard(ctx, &dependents[i]); err != nil {
			return err
		}
	}

	if ord.TransactionID != "" {
		tx, err := a.store.Transaction(ctx, ord.TransactionID)
		if err == nil && tx.Status == model.TxWaiting {
			err = store.Routine.Do(ctx, func() error { return a.store.DeleteTransaction(ctx, tx.ID) })
			if err != nil {
				return fmt.Errorf("delete transaction %s: %w", tx.ID, err)
			}
		} else if err != nil && err != store.ErrNotFound {
			return fmt.Errorf("transaction %s: %w", ord.TransactionID, err)
		}
	}

	err = store.Routine.Do(ctx, func() error { return a.store.DeleteOrder(ctx, ord.ID) })
	if err != nil {
		return fmt.Errorf("delete order %s: %w", ord.ID, err)
	}
	a.logger.Printf("allocator: discarded unfunded order %s (%s)", ord.ID, ord.Symbol)
	return nil
}
