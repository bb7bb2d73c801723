// Package condition implements the trigger predicates of the rule engine.
// Conditions are stateless: they read the account, the store and one
// recommendation, and report a Result. A condition that cannot compute its
// inputs evaluates to false with a nil Value; errors never escape the
// evaluator boundary.
package condition

import (
	"context"
	"time"

	"github.com/rustyeddy/advisor/broker"
	"github.com/rustyeddy/advisor/expert"
	"github.com/rustyeddy/advisor/model"
	"github.com/rustyeddy/advisor/store"
)

// targetTolerance is the band around the current take-profit inside which a
// new expert target is considered unchanged.
const targetTolerance = 0.02

// Result is a condition's answer. Value carries the computed number for
// compare conditions, even when the comparison fails, so diagnostics can
// distinguish "computed and compared false" from "uncomputable". Flag
// conditions leave Value nil.
type Result struct {
	Satisfied bool
	Value     *float64
}

func computed(v float64, ok bool) Result {
	return Result{Satisfied: ok, Value: &v}
}

var failed = Result{}

// Evaluator evaluates triggers against one recommendation.
type Evaluator struct {
	store  store.Store
	driver broker.Driver
	now    func() time.Time
}

func New(st store.Store, drv broker.Driver) *Evaluator {
	return &Evaluator{store: st, driver: drv, now: time.Now}
}

// Evaluate runs one trigger. exp and rec give the evaluation context; ord
// optionally names an existing order the enclosing rule operates on.
func (e *Evaluator) Evaluate(ctx context.Context, exp *expert.Instance, rec *model.Recommendation, ord *model.Order, trig model.Trigger) Result {
	switch trig.Kind {

	// Flag conditions.
	case model.CondSignalBuy:
		return Result{Satisfied: rec != nil && rec.Signal == model.SignalBuy}
	case model.CondSignalSell:
		return Result{Satisfied: rec != nil && rec.Signal == model.SignalSell}

	case model.CondHasTransaction, model.CondNoTransaction:
		tx, ok := e.openTransaction(ctx, exp, rec)
		if !ok {
			return failed
		}
		if trig.Kind == model.CondHasTransaction {
			return Result{Satisfied: tx != nil}
		}
		return Result{Satisfied: tx == nil}

	case model.CondHasPosition, model.CondNoPosition:
		pos, ok := e.accountPosition(ctx, rec)
		if !ok {
			return failed
		}
		held := pos != nil && pos.Quantity != 0
		if trig.Kind == model.CondHasPosition {
			return Result{Satisfied: held}
		}
		return Result{Satisfied: !held}

	case model.CondHorizonShort:
		return Result{Satisfied: rec != nil && rec.Horizon == model.HorizonShort}
	case model.CondHorizonMedium:
		return Result{Satisfied: rec != nil && rec.Horizon == model.HorizonMedium}
	case model.CondHorizonLong:
		return Result{Satisfied: rec != nil && rec.Horizon == model.HorizonLong}

	case model.CondRiskLow:
		return Result{Satisfied: rec != nil && rec.Risk == model.RiskLow}
	case model.CondRiskMedium:
		return Result{Satisfied: rec != nil && rec.Risk == model.RiskMedium}
	case model.CondRiskHigh:
		return Result{Satisfied: rec != nil && rec.Risk == model.RiskHigh}

	case model.CondRatingUpgrade, model.CondRatingDowngrade:
		return e.ratingTransition(ctx, exp, rec, trig.Kind)

	case model.CondTargetAboveTP, model.CondTargetBelowTP:
		return e.targetVersusTakeProfit(ctx, exp, rec, trig.Kind)

	// Compare conditions.
	case model.CondConfidence:
		if rec == nil {
			return failed
		}
		return computed(rec.Confidence, compare(trig.Op, rec.Confidence, trig.Value))

	case model.CondExpectedProfit:
		if rec == nil {
			return failed
		}
		return computed(rec.ExpectedProfitPct, compare(trig.Op, rec.ExpectedProfitPct, trig.Value))

	case model.CondUnrealizedPL, model.CondUnrealizedPLPct:
		return e.unrealizedPL(ctx, exp, rec, trig)

	case model.CondDaysSinceOpen:
		tx, ok := e.openTransaction(ctx, exp, rec)
		if !ok || tx == nil || tx.OpenedAt.IsZero() {
			return failed
		}
		days := e.now().Sub(tx.OpenedAt).Hours() / 24
		return computed(days, compare(trig.Op, days, trig.Value))

	case model.CondDistanceToTarget:
		tx, ok := e.openTransaction(ctx, exp, rec)
		if !ok || tx == nil || tx.TakeProfit == nil {
			return failed
		}
		price, ok := e.currentPrice(ctx, rec)
		if !ok {
			return failed
		}
		dist := (*tx.TakeProfit - price) / price * 100
		return computed(dist, compare(trig.Op, dist, trig.Value))

	case model.CondDistanceToNewTarget:
		if rec == nil {
			return failed
		}
		target, ok := rec.TargetPrice()
		if !ok {
			return failed
		}
		price, ok := e.currentPrice(ctx, rec)
		if !ok {
			return failed
		}
		dist := (target - price) / price * 100
		return computed(dist, compare(trig.Op, dist, trig.Value))

	case model.CondPositionSharePct:
		tx, ok := e.openTransaction(ctx, exp, rec)
		if !ok || tx == nil || exp.VirtualBalance <= 0 {
			return failed
		}
		price, ok := e.currentPrice(ctx, rec)
		if !ok {
			return failed
		}
		qty := tx.Quantity
		if qty < 0 {
			qty = -qty
		}
		share := qty * price / exp.VirtualBalance * 100
		return computed(share, compare(trig.Op, share, trig.Value))
	}

	return failed
}

// openTransaction returns the expert-scoped open transaction for the
// recommendation's symbol. The second return is false only when the lookup
// itself failed; "no transaction" is (nil, true).
func (e *Evaluator) openTransaction(ctx context.Context, exp *expert.Instance, rec *model.Recommendation) (*model.Transaction, bool) {
	if exp == nil || rec == nil {
		return nil, false
	}
	tx, err := e.store.OpenTransaction(ctx, exp.ID, rec.Symbol)
	if err == store.ErrNotFound {
		return nil, true
	}
	if err != nil {
		return nil, false
	}
	return tx, true
}

// accountPosition returns the account-scoped holding for the symbol, which
// is deliberately independent of any expert transaction.
func (e *Evaluator) accountPosition(ctx context.Context, rec *model.Recommendation) (*broker.Position, bool) {
	if rec == nil {
		return nil, false
	}
	positions, err := e.driver.Positions(ctx)
	if err != nil {
		return nil, false
	}
	for i := range positions {
		if positions[i].Symbol == rec.Symbol {
			return &positions[i], true
		}
	}
	return nil, true
}

func (e *Evaluator) currentPrice(ctx context.Context, rec *model.Recommendation) (float64, bool) {
	if rec == nil {
		return 0, false
	}
	price, err := e.driver.Price(ctx, rec.Symbol)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

func (e *Evaluator) ratingTransition(ctx context.Context, exp *expert.Instance, rec *model.Recommendation, kind model.ConditionKind) Result {
	if exp == nil || rec == nil {
		return failed
	}
	recent, err := e.store.LatestRecommendations(ctx, exp.ID, rec.Symbol, 2)
	if err != nil || len(recent) < 2 {
		return failed
	}
	latest, prev := recent[0].Signal, recent[1].Signal
	if kind == model.CondRatingUpgrade {
		return Result{Satisfied: latest.Upgrades(prev)}
	}
	return Result{Satisfied: latest.Downgrades(prev)}
}

func (e *Evaluator) targetVersusTakeProfit(ctx context.Context, exp *expert.Instance, rec *model.Recommendation, kind model.ConditionKind) Result {
	if rec == nil {
		return failed
	}
	target, ok := rec.TargetPrice()
	if !ok {
		return failed
	}
	tx, ok := e.openTransaction(ctx, exp, rec)
	if !ok || tx == nil || tx.TakeProfit == nil || *tx.TakeProfit == 0 {
		return failed
	}
	if kind == model.CondTargetAboveTP {
		return Result{Satisfied: target > *tx.TakeProfit*(1+targetTolerance)}
	}
	return Result{Satisfied: target < *tx.TakeProfit*(1-targetTolerance)}
}

func (e *Evaluator) unrealizedPL(ctx context.Context, exp *expert.Instance, rec *model.Recommendation, trig model.Trigger) Result {
	tx, ok := e.openTransaction(ctx, exp, rec)
	if !ok || tx == nil || tx.OpenPrice <= 0 {
		return failed
	}
	price, ok := e.currentPrice(ctx, rec)
	if !ok {
		return failed
	}

	pl := (price - tx.OpenPrice) * tx.Quantity
	if trig.Kind == model.CondUnrealizedPL {
		return computed(pl, compare(trig.Op, pl, trig.Value))
	}

	cost := tx.Cost()
	if cost == 0 {
		return failed
	}
	pct := pl / cost * 100
	return computed(pct, compare(trig.Op, pct, trig.Value))
}

const compareEps = 1e-9

func compare(op model.CompareOp, got, want float64) bool {
	switch op {
	case model.OpGT:
		return got > want
	case model.OpLT:
		return got < want
	case model.OpGE:
		return got >= want
	case model.OpLE:
		return got <= want
	case model.OpEQ:
		return got >= want-compareEps && got <= want+compareEps
	case model.OpNE:
		return got < want-compareEps || got > want+compareEps
	}
	return false
}
