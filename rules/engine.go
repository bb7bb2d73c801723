// Package rules orchestrates rule evaluation and intent execution. An
// evaluation run walks a ruleset's rules in declaration order, gates each on
// its triggers, and collects materialized intents; the execution phase then
// applies the batch in two phases so TP/SL adjustments always find the
// transaction they are defined against.
package rules

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/rustyeddy/advisor/action"
	"github.com/rustyeddy/advisor/broker"
	"github.com/rustyeddy/advisor/condition"
	"github.com/rustyeddy/advisor/expert"
	"github.com/rustyeddy/advisor/model"
	"github.com/rustyeddy/advisor/store"
	"github.com/rustyeddy/advisor/txsync"
)

// TriggerReport records one trigger's outcome inside a rule evaluation.
type TriggerReport struct {
	Trigger model.Trigger
	Result  condition.Result
}

// ActionReport records one action's materialization outcome.
type ActionReport struct {
	Action model.RuleAction
	Result action.Result
}

// RuleReport is the full diagnostic record of one rule.
type RuleReport struct {
	Rule      string
	Satisfied bool
	Triggers  []TriggerReport
	Actions   []ActionReport
}

// Intents collects the successfully materialized intents from a set of rule
// reports, in materialization order.
func Intents(reports []RuleReport) []*action.Intent {
	var out []*action.Intent
	for i := range reports {
		for j := range reports[i].Actions {
			res := reports[i].Actions[j].Result
			if res.Success && res.Intent != nil {
				out = append(out, res.Intent)
			}
		}
	}
	return out
}

// Engine evaluates rulesets and executes the resulting intent batches.
type Engine struct {
	store      store.Store
	conditions *condition.Evaluator
	actions    *action.Materializer
	txs        *txsync.Synchronizer
	logger     *log.Logger

	// EvaluateAll disables trigger short-circuiting so every trigger's
	// result is reported. It never changes a rule's pass/fail outcome.
	EvaluateAll bool
}

func New(st store.Store, drv broker.Driver, txs *txsync.Synchronizer, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		store:      st,
		conditions: condition.New(st, drv),
		actions:    action.New(st, drv),
		txs:        txs,
		logger:     logger,
	}
}

// EvaluateRuleset runs the ruleset's rules in declaration order against one
// recommendation. A rule with zero triggers is vacuously satisfied. By
// default trigger evaluation stops at the first failure. A satisfied rule
// has all its actions materialized, failures included in the report; a
// satisfied rule with continue_processing=false ends the run.
func (e *Engine) EvaluateRuleset(ctx context.Context, exp *expert.Instance, rec *model.Recommendation, ord *model.Order, rs *model.Ruleset) []RuleReport {
	reports := make([]RuleReport, 0, len(rs.Rules))

	for i := range rs.Rules {
		rule := &rs.Rules[i]
		rep := RuleReport{Rule: rule.Name, Satisfied: true}

		for _, trig := range rule.Triggers {
			res := e.conditions.Evaluate(ctx, exp, rec, ord, trig)
			rep.Triggers = append(rep.Triggers, TriggerReport{Trigger: trig, Result: res})
			if !res.Satisfied {
				rep.Satisfied = false
				if !e.EvaluateAll {
					break
				}
			}
		}

		if rep.Satisfied {
			for _, act := range rule.Actions {
				res := e.actions.Materialize(ctx, exp, rec, ord, act)
				if !res.Success {
					e.logger.Printf("rule %q action %s: %s", rule.Name, act.Kind, res.Message)
				}
				rep.Actions = append(rep.Actions, ActionReport{Action: act, Result: res})
			}
		}

		reports = append(reports, rep)
		if rep.Satisfied && !rule.ContinueProcessing {
			break
		}
	}
	return reports
}

// Execute applies a batch of intents. Intents are stable-sorted by priority
// (entries, then closes, then adjustments), order-creating intents are
// persisted and linked to transactions first, and adjustments resolve their
// target transaction preferring orders created in this same batch. One
// failed intent becomes a failed result entry; it never stops the batch.
//
// openTxs is the caller's view of the expert's open transactions; when an
// adjustment can match neither a fresh order nor one of these, it fails with
// a descriptive message rather than silently doing nothing.
func (e *Engine) Execute(ctx context.Context, intents []*action.Intent, openTxs []model.Transaction) []action.Result {
	sorted := make([]*action.Intent, len(intents))
	copy(sorted, intents)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })

	results := make([]action.Result, 0, len(sorted))
	fresh := make(map[string]string) // symbol -> transaction id created this batch

	for _, in := range sorted {
		var res action.Result
		if in.CreatesOrder() {
			res = e.executeOrder(ctx, in, fresh)
		} else {
			res = e.executeAdjustment(ctx, in, fresh, openTxs)
		}
		if !res.Success {
			e.logger.Printf("execute %s %s: %s", in.Kind, in.Symbol, res.Message)
		}
		results = append(results, res)
	}
	return results
}

// executeOrder persists the intent's order and guarantees it is linked to a
// transaction before any adjustment in the batch runs.
func (e *Engine) executeOrder(ctx context.Context, in *action.Intent, fresh map[string]string) action.Result {
	ord := in.Order
	err := store.Routine.Do(ctx, func() error { return e.store.CreateOrder(ctx, ord) })
	if err != nil {
		return action.Result{Intent: in, Message: fmt.Sprintf("%s %s: %v", in.Kind, in.Symbol, err)}
	}

	tx, err := e.txs.EnsureTransaction(ctx, ord)
	if err != nil {
		return action.Result{Intent: in, OrderID: ord.ID, Message: fmt.Sprintf("%s %s: %v", in.Kind, in.Symbol, err)}
	}
	fresh[in.Symbol] = tx.ID

	return action.Result{
		Success:       true,
		Message:       fmt.Sprintf("%s %s order %s", in.Kind, in.Symbol, ord.ID),
		Intent:        in,
		OrderID:       ord.ID,
		TransactionID: tx.ID,
	}
}

// executeAdjustment resolves the transaction a TP/SL intent targets and
// applies the new price through the synchronizer.
func (e *Engine) executeAdjustment(ctx context.Context, in *action.Intent, fresh map[string]string, openTxs []model.Transaction) action.Result {
	txID := in.TransactionID
	if txID == "" {
		txID = fresh[in.Symbol]
	}
	if txID == "" {
		for i := range openTxs {
			if openTxs[i].Symbol == in.Symbol {
				txID = openTxs[i].ID
				break
			}
		}
	}
	if txID == "" {
		return action.Result{
			Intent:  in,
			Message: fmt.Sprintf("%s %s: no freshly created order and no open transaction to adjust", in.Kind, in.Symbol),
		}
	}

	tx, err := e.store.Transaction(ctx, txID)
	if err != nil {
		return action.Result{Intent: in, Message: fmt.Sprintf("%s %s: transaction %s: %v", in.Kind, in.Symbol, txID, err)}
	}

	var tp, sl *float64
	if in.Kind == model.ActAdjustTakeProfit {
		tp = &in.Price
	} else {
		sl = &in.Price
	}
	if err := e.txs.AdjustTargets(ctx, tx, tp, sl); err != nil {
		return action.Result{Intent: in, TransactionID: tx.ID, Message: fmt.Sprintf("%s %s: %v", in.Kind, in.Symbol, err)}
	}

	return action.Result{
		Success:       true,
		Message:       fmt.Sprintf("%s %s -> %.4f", in.Kind, in.Symbol, in.Price),
		Intent:        in,
		TransactionID: tx.ID,
	}
}
