package condition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/advisor/broker/sim"
	"github.com/rustyeddy/advisor/expert"
	"github.com/rustyeddy/advisor/internal/id"
	"github.com/rustyeddy/advisor/model"
	"github.com/rustyeddy/advisor/store"
)

type fixture struct {
	eval *Evaluator
	st   *store.Memory
	drv  *sim.Engine
	exp  *expert.Instance
	rec  *model.Recommendation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemory()
	drv := sim.New(100_000)

	return &fixture{
		eval: New(st, drv),
		st:   st,
		drv:  drv,
		exp:  &expert.Instance{ID: "e1", AccountID: "a1", VirtualBalance: 10_000},
		rec: &model.Recommendation{
			ID: id.New(), Symbol: "AAPL", Signal: model.SignalBuy,
			Confidence: 80, ExpectedProfitPct: 15, Risk: model.RiskMedium,
			Horizon: model.HorizonLong, PriceAtDate: 100, ExpertID: "e1",
		},
	}
}

func (f *fixture) openTransaction(t *testing.T, qty, openPrice float64, tp *float64) *model.Transaction {
	t.Helper()

	tx := &model.Transaction{
		ID: id.New(), Symbol: f.rec.Symbol, Quantity: qty, OpenPrice: openPrice,
		TakeProfit: tp, Status: model.TxOpened, ExpertID: f.exp.ID,
		OpenedAt: time.Now().UTC().Add(-72 * time.Hour),
	}
	require.NoError(t, f.st.CreateTransaction(context.Background(), tx))
	return tx
}

func TestFlagConditionsOnRecommendation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		kind model.ConditionKind
		want bool
	}{
		{model.CondSignalBuy, true},
		{model.CondSignalSell, false},
		{model.CondHorizonLong, true},
		{model.CondHorizonShort, false},
		{model.CondRiskMedium, true},
		{model.CondRiskHigh, false},
	}
	for _, tt := range tests {
		got := f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: tt.kind})
		assert.Equal(t, tt.want, got.Satisfied, string(tt.kind))
		assert.Nil(t, got.Value, string(tt.kind))
	}
}

func TestPositionScopesAreIndependent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// Account holds the symbol, but this expert has no transaction.
	f.drv.SetPosition("AAPL", 50, 90)

	assert.True(t, f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: model.CondHasPosition}).Satisfied)
	assert.False(t, f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: model.CondHasTransaction}).Satisfied)
	assert.True(t, f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: model.CondNoTransaction}).Satisfied)

	// Now the expert opens a transaction and the account position is gone:
	// the two scopes answer opposite ways.
	f.drv.SetPosition("AAPL", 0, 0)
	f.openTransaction(t, 10, 100, nil)

	assert.False(t, f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: model.CondHasPosition}).Satisfied)
	assert.True(t, f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: model.CondHasTransaction}).Satisfied)
}

func TestCompareConditionsExposeValue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	got := f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{
		Kind: model.CondConfidence, Op: model.OpGE, Value: 70,
	})
	assert.True(t, got.Satisfied)
	require.NotNil(t, got.Value)
	assert.InDelta(t, 80.0, *got.Value, 1e-9)

	// Failed comparison still reports the computed value.
	got = f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{
		Kind: model.CondConfidence, Op: model.OpGT, Value: 90,
	})
	assert.False(t, got.Satisfied)
	require.NotNil(t, got.Value)
	assert.InDelta(t, 80.0, *got.Value, 1e-9)
}

func TestUncomputableEvaluatesFalseWithNilValue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// No transaction, no price: every dependent condition is false/nil.
	kinds := []model.ConditionKind{
		model.CondUnrealizedPL, model.CondUnrealizedPLPct,
		model.CondDaysSinceOpen, model.CondDistanceToTarget,
		model.CondPositionSharePct,
	}
	for _, k := range kinds {
		got := f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: k, Op: model.OpGT, Value: 0})
		assert.False(t, got.Satisfied, string(k))
		assert.Nil(t, got.Value, string(k))
	}

	// Missing recommendation fields.
	got := f.eval.Evaluate(ctx, f.exp, nil, nil, model.Trigger{Kind: model.CondConfidence, Op: model.OpGT, Value: 0})
	assert.False(t, got.Satisfied)
	assert.Nil(t, got.Value)
}

func TestUnrealizedPL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.openTransaction(t, 10, 100, nil)
	f.drv.SetPrice("AAPL", 110)

	got := f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{
		Kind: model.CondUnrealizedPL, Op: model.OpGT, Value: 50,
	})
	assert.True(t, got.Satisfied)
	require.NotNil(t, got.Value)
	assert.InDelta(t, 100.0, *got.Value, 1e-9) // (110-100)*10

	got = f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{
		Kind: model.CondUnrealizedPLPct, Op: model.OpGE, Value: 10,
	})
	assert.True(t, got.Satisfied)
	require.NotNil(t, got.Value)
	assert.InDelta(t, 10.0, *got.Value, 1e-9)
}

func TestUnrealizedPLShortPosition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.openTransaction(t, -10, 100, nil)
	f.drv.SetPrice("AAPL", 90)

	got := f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{
		Kind: model.CondUnrealizedPL, Op: model.OpGT, Value: 0,
	})
	assert.True(t, got.Satisfied)
	require.NotNil(t, got.Value)
	assert.InDelta(t, 100.0, *got.Value, 1e-9) // (90-100)*(-10)
}

func TestDaysSinceOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.openTransaction(t, 10, 100, nil) // opened 72h ago
	f.eval.now = func() time.Time { return time.Now().UTC() }

	got := f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{
		Kind: model.CondDaysSinceOpen, Op: model.OpGE, Value: 3,
	})
	assert.True(t, got.Satisfied)
	require.NotNil(t, got.Value)
	assert.InDelta(t, 3.0, *got.Value, 0.01)
}

func TestRatingTransition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	for i, sig := range []model.Signal{model.SignalHold, model.SignalBuy} {
		require.NoError(t, f.st.CreateRecommendation(ctx, &model.Recommendation{
			ID: id.New(), Symbol: "AAPL", ExpertID: "e1", Signal: sig,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	assert.True(t, f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: model.CondRatingUpgrade}).Satisfied)
	assert.False(t, f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: model.CondRatingDowngrade}).Satisfied)
}

func TestRatingTransitionNeedsTwoRecommendations(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.st.CreateRecommendation(ctx, &model.Recommendation{
		ID: id.New(), Symbol: "AAPL", ExpertID: "e1", Signal: model.SignalBuy,
	}))

	assert.False(t, f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: model.CondRatingUpgrade}).Satisfied)
}

func TestTargetVersusTakeProfitTolerance(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	tp := 112.0
	f.openTransaction(t, 10, 100, &tp)

	// Expert target: 100 * 1.15 = 115, above 112*1.02 = 114.24.
	assert.True(t, f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: model.CondTargetAboveTP}).Satisfied)
	assert.False(t, f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: model.CondTargetBelowTP}).Satisfied)

	// Inside the 2% band neither side fires.
	f.rec.ExpectedProfitPct = 13 // target 113, within [109.76, 114.24]
	assert.False(t, f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: model.CondTargetAboveTP}).Satisfied)
	assert.False(t, f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{Kind: model.CondTargetBelowTP}).Satisfied)
}

func TestPositionSharePct(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.openTransaction(t, 20, 100, nil)
	f.drv.SetPrice("AAPL", 100)

	got := f.eval.Evaluate(ctx, f.exp, f.rec, nil, model.Trigger{
		Kind: model.CondPositionSharePct, Op: model.OpGE, Value: 20,
	})
	assert.True(t, got.Satisfied)
	require.NotNil(t, got.Value)
	assert.InDelta(t, 20.0, *got.Value, 1e-9) // 2000 / 10000
}

func TestCompareOperators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op   model.CompareOp
		got  float64
		want float64
		pass bool
	}{
		{model.OpGT, 2, 1, true},
		{model.OpGT, 1, 1, false},
		{model.OpLT, 1, 2, true},
		{model.OpGE, 1, 1, true},
		{model.OpLE, 2, 1, false},
		{model.OpEQ, 1.0000000001, 1, true},
		{model.OpNE, 1.1, 1, true},
		{model.OpNE, 1, 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.pass, compare(tt.op, tt.got, tt.want),
			"%v %s %v", tt.got, tt.op, tt.want)
	}
}
