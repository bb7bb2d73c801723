// Package sched drives the advisor's background passes: rule evaluation of
// fresh recommendations, capital allocation of unsized entries, trigger
// release of dependent orders, and transaction status refresh. Each pass is
// also callable on its own for the CLI's one-shot commands.
package sched

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rustyeddy/advisor/allocator"
	"github.com/rustyeddy/advisor/broker"
	"github.com/rustyeddy/advisor/expert"
	"github.com/rustyeddy/advisor/model"
	"github.com/rustyeddy/advisor/notify"
	"github.com/rustyeddy/advisor/rules"
	"github.com/rustyeddy/advisor/store"
	"github.com/rustyeddy/advisor/txsync"
)

// Intervals are the pass periods; zero disables a pass in Run.
type Intervals struct {
	Evaluate time.Duration
	Allocate time.Duration
	Release  time.Duration
	Refresh  time.Duration
}

// Scheduler owns the background loop over one set of experts.
type Scheduler struct {
	store    store.Store
	driver   broker.Driver
	engine   *rules.Engine
	alloc    *allocator.Allocator
	txs      *txsync.Synchronizer
	notifier notify.Notifier
	logger   *log.Logger

	experts []expert.Instance
}

func New(st store.Store, drv broker.Driver, engine *rules.Engine, alloc *allocator.Allocator, txs *txsync.Synchronizer, notifier notify.Notifier, experts []expert.Instance, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if notifier == nil {
		notifier = notify.NewLog(logger)
	}
	return &Scheduler{
		store:    st,
		driver:   drv,
		engine:   engine,
		alloc:    alloc,
		txs:      txs,
		notifier: notifier,
		logger:   logger,
		experts:  experts,
	}
}

// Run blocks until ctx is canceled, firing each pass on its interval. Pass
// errors are logged and notified but never stop the loop.
func (s *Scheduler) Run(ctx context.Context, iv Intervals) {
	type pass struct {
		name  string
		every time.Duration
		fn    func(context.Context) error
	}
	passes := []pass{
		{"evaluate", iv.Evaluate, s.Evaluate},
		{"allocate", iv.Allocate, s.Allocate},
		{"release", iv.Release, s.Release},
		{"refresh", iv.Refresh, s.Refresh},
	}

	var wg sync.WaitGroup
	for _, p := range passes {
		if p.every <= 0 {
			continue
		}
		wg.Add(1)
		go func(p pass) {
			defer wg.Done()
			ticker := time.NewTicker(p.every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := p.fn(ctx); err != nil && ctx.Err() == nil {
						s.logger.Printf("scheduler: %s pass: %v", p.name, err)
						_ = s.notifier.Notify(ctx, fmt.Sprintf("%s pass failed: %v", p.name, err))
					}
				}
			}
		}(p)
	}

	s.logger.Printf("scheduler: running for %d experts", len(s.experts))
	<-ctx.Done()
	wg.Wait()
	s.logger.Printf("scheduler: shut down")
}

// Evaluate runs every expert's ruleset over its unprocessed recommendations
// and executes the resulting intent batches.
func (s *Scheduler) Evaluate(ctx context.Context) error {
	recs, err := s.store.UnprocessedRecommendations(ctx)
	if err != nil {
		return fmt.Errorf("unprocessed recommendations: %w", err)
	}

	for i := range recs {
		rec := recs[i]
		exp := s.expertByID(rec.ExpertID)
		if exp == nil {
			s.logger.Printf("evaluate: recommendation %s names unknown expert %s", rec.ID, rec.ExpertID)
			continue
		}

		rs, err := s.store.Ruleset(ctx, exp.RulesetID)
		if err != nil {
			return fmt.Errorf("ruleset %s of expert %s: %w", exp.RulesetID, exp.ID, err)
		}

		reports := s.engine.EvaluateRuleset(ctx, exp, &rec, nil, rs)
		intents := rules.Intents(reports)
		if len(intents) > 0 {
			openTxs, err := s.store.OpenTransactionsByExpert(ctx, exp.ID)
			if err != nil {
				return fmt.Errorf("open transactions of expert %s: %w", exp.ID, err)
			}
			for _, res := range s.engine.Execute(ctx, intents, openTxs) {
				if !res.Success {
					_ = s.notifier.Notify(ctx, fmt.Sprintf("expert %s %s: %s", exp.ID, rec.Symbol, res.Message))
				}
			}
		}

		err = store.Routine.Do(ctx, func() error { return s.store.MarkRecommendationProcessed(ctx, rec.ID) })
		if err != nil {
			return fmt.Errorf("mark recommendation %s processed: %w", rec.ID, err)
		}
	}
	return nil
}

// Allocate sizes each expert's pending entries.
func (s *Scheduler) Allocate(ctx context.Context) error {
	for i := range s.experts {
		exp := &s.experts[i]
		report, err := s.alloc.Run(ctx, exp)
		if err != nil {
			return fmt.Errorf("allocate for expert %s: %w", exp.ID, err)
		}
		if len(report.Funded) > 0 || len(report.Unfunded) > 0 {
			_ = s.notifier.Notify(ctx, fmt.Sprintf(
				"expert %s: funded %d orders (%.2f spent), discarded %d",
				exp.ID, len(report.Funded), report.Spent, len(report.Unfunded)))
		}
	}
	return nil
}

// Release advances the order pipeline: waiting orders whose trigger has
// fired become PENDING, waiting orders whose dependency vanished are
// deleted with their own dependents, and sized PENDING orders go to the
// broker.
func (s *Scheduler) Release(ctx context.Context) error {
	waiting, err := s.store.WaitingTriggerOrders(ctx)
	if err != nil {
		return fmt.Errorf("waiting orders: %w", err)
	}

	for i := range waiting {
		ord := waiting[i]
		dep, err := s.store.Order(ctx, ord.DependsOn)
		if err == store.ErrNotFound {
			// Structurally unreachable trigger: the waiting order and its
			// subtree go with it.
			if err := s.deleteCascade(ctx, &ord); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("dependency %s of order %s: %w", ord.DependsOn, ord.ID, err)
		}

		if dep.Status != ord.DependsTrigger {
			// A dependency that died in a status other than the trigger can
			// never fire; its waiters go the same way as a deleted one.
			if dep.Status.Terminal() {
				if err := s.deleteCascade(ctx, &ord); err != nil {
					return err
				}
			}
			continue
		}
		ord.Status = model.OrderPending
		err = store.Critical.Do(ctx, func() error { return s.store.UpdateOrder(ctx, &ord) })
		if err != nil {
			return fmt.Errorf("release order %s: %w", ord.ID, err)
		}
		s.logger.Printf("release: order %s unblocked by %s=%s", ord.ID, dep.ID, dep.Status)
	}

	return s.submitPending(ctx)
}

// submitPending sends every sized PENDING order of every expert to the
// broker and records the acknowledgment.
func (s *Scheduler) submitPending(ctx context.Context) error {
	for i := range s.experts {
		exp := &s.experts[i]
		openTxs, err := s.store.OpenTransactionsByExpert(ctx, exp.ID)
		if err != nil {
			return fmt.Errorf("open transactions of expert %s: %w", exp.ID, err)
		}
		for j := range openTxs {
			orders, err := s.store.OrdersByTransaction(ctx, openTxs[j].ID)
			if err != nil {
				return fmt.Errorf("orders of transaction %s: %w", openTxs[j].ID, err)
			}
			for k := range orders {
				ord := orders[k]
				if ord.Status != model.OrderPending || ord.Quantity == 0 {
					continue
				}
				if err := s.submitOrder(ctx, &ord); err != nil {
					_ = s.notifier.Notify(ctx, fmt.Sprintf("submit %s %s: %v", ord.Side, ord.Symbol, err))
				}
			}
		}
	}
	return nil
}

func (s *Scheduler) submitOrder(ctx context.Context, ord *model.Order) error {
	ack, err := s.driver.SubmitOrder(ctx, ord)
	if err != nil {
		ord.Status = model.OrderError
		if uerr := store.Critical.Do(ctx, func() error { return s.store.UpdateOrder(ctx, ord) }); uerr != nil {
			return uerr
		}
		return err
	}

	ord.BrokerID = ack.BrokerID
	ord.Status = ack.Status
	ord.FillPrice = ack.FillPrice
	err = store.Critical.Do(ctx, func() error { return s.store.UpdateOrder(ctx, ord) })
	if err != nil {
		return fmt.Errorf("record ack for order %s: %w", ord.ID, err)
	}

	if ord.Status.Executed() {
		_ = s.notifier.Notify(ctx, fmt.Sprintf("%s %s x%.0f filled @ %.2f", ord.Side, ord.Symbol, ord.Quantity, ord.FillPrice))
		if ord.TransactionID != "" {
			if err := s.recordFill(ctx, ord); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordFill backfills the transaction's open price from its entry fill.
func (s *Scheduler) recordFill(ctx context.Context, ord *model.Order) error {
	tx, err := s.store.Transaction(ctx, ord.TransactionID)
	if err != nil {
		return fmt.Errorf("transaction %s: %w", ord.TransactionID, err)
	}
	if tx.OpenPrice != 0 || ord.DependsOn != "" {
		return nil
	}
	tx.OpenPrice = ord.FillPrice
	return store.Routine.Do(ctx, func() error { return s.store.UpdateTransaction(ctx, tx) })
}

// Refresh reconciles every open transaction's status with its order set.
func (s *Scheduler) Refresh(ctx context.Context) error {
	for i := range s.experts {
		openTxs, err := s.store.OpenTransactionsByExpert(ctx, s.experts[i].ID)
		if err != nil {
			return fmt.Errorf("open transactions of expert %s: %w", s.experts[i].ID, err)
		}
		for j := range openTxs {
			if err := s.txs.Refresh(ctx, &openTxs[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteCascade removes an order and, transitively, everything waiting on
// it, plus its transaction while still WAITING.
func (s *Scheduler) deleteCascade(ctx context.Context, ord *model.Order) error {
	dependents, err := s.store.DependentOrders(ctx, ord.ID)
	if err != nil {
		return fmt.Errorf("dependents of order %s: %w", ord.ID, err)
	}
	for i := range dependents {
		if err := s.deleteCascade(ctx, &dependents[i]); err != nil {
			return err
		}
	}

	if ord.TransactionID != "" {
		tx, err := s.store.Transaction(ctx, ord.TransactionID)
		if err == nil && tx.Status == model.TxWaiting {
			err = store.Routine.Do(ctx, func() error { return s.store.DeleteTransaction(ctx, tx.ID) })
			if err != nil {
				return fmt.Errorf("delete transaction %s: %w", tx.ID, err)
			}
		} else if err != nil && err != store.ErrNotFound {
			return fmt.Errorf("transaction %s: %w", ord.TransactionID, err)
		}
	}

	err = store.Routine.Do(ctx, func() error { return s.store.DeleteOrder(ctx, ord.ID) })
	if err != nil {
		return fmt.Errorf("delete order %s: %w", ord.ID, err)
	}
	s.logger.Printf("release: deleted orphaned order %s (%s)", ord.ID, ord.Symbol)
	return nil
}

func (s *Scheduler) expertByID(id string) *expert.Instance {
	for i := range s.experts {
		if s.experts[i].ID == id {
			return &s.experts[i]
		}
	}
	return nil
}
