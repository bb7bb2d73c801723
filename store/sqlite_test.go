package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/advisor/internal/id"
	"github.com/rustyeddy/advisor/model"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()

	path := filepath.Join(t.TempDir(), "advisor.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestSQLiteOrderRoundtrip(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	limit := 101.5
	ord := &model.Order{
		ID:               id.New(),
		Symbol:           "AAPL",
		Side:             model.Buy,
		Quantity:         0,
		Kind:             model.Limit,
		LimitPrice:       &limit,
		Status:           model.OrderPending,
		TransactionID:    "tx-1",
		RecommendationID: "rec-1",
		ExpertID:         "exp-1",
		AccountID:        "acc-1",
		Comment:          "entry",
	}
	require.NoError(t, s.CreateOrder(ctx, ord))

	got, err := s.Order(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, ord.Symbol, got.Symbol)
	assert.Equal(t, model.OrderPending, got.Status)
	require.NotNil(t, got.LimitPrice)
	assert.InDelta(t, 101.5, *got.LimitPrice, 1e-9)
	assert.Nil(t, got.StopPrice)

	got.Status = model.OrderFilled
	got.FillPrice = 101.2
	require.NoError(t, s.UpdateOrder(ctx, got))

	got, err = s.Order(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, got.Status)
	assert.InDelta(t, 101.2, got.FillPrice, 1e-9)

	require.NoError(t, s.DeleteOrder(ctx, ord.ID))
	_, err = s.Order(ctx, ord.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteRejectsInvalidDependency(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)

	oid := id.New()
	err := s.CreateOrder(context.Background(), &model.Order{
		ID: oid, Symbol: "X", Side: model.Buy, Kind: model.Market,
		Status: model.OrderWaitingTrigger, DependsOn: oid, DependsTrigger: model.OrderFilled,
	})
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSQLitePendingUnsizedOrders(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	mk := func(expert string, qty float64, status model.OrderStatus) string {
		oid := id.New()
		require.NoError(t, s.CreateOrder(ctx, &model.Order{
			ID: oid, Symbol: "S", Side: model.Buy, Kind: model.Market,
			Quantity: qty, Status: status, ExpertID: expert,
		}))
		return oid
	}

	want := mk("e1", 0, model.OrderPending)
	mk("e1", 5, model.OrderPending)   // already sized
	mk("e1", 0, model.OrderSubmitted) // wrong status
	mk("e2", 0, model.OrderPending)   // wrong expert

	got, err := s.PendingUnsizedOrders(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0].ID)
}

func TestSQLiteTransactionQueries(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	tp := 120.0
	tx := &model.Transaction{
		ID: id.New(), Symbol: "NVDA", Quantity: 10, OpenPrice: 100,
		TakeProfit: &tp, Status: model.TxOpened, ExpertID: "e1",
		OpenedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateTransaction(ctx, tx))

	closed := &model.Transaction{
		ID: id.New(), Symbol: "NVDA", Quantity: 0, Status: model.TxClosed, ExpertID: "e1",
	}
	require.NoError(t, s.CreateTransaction(ctx, closed))

	got, err := s.OpenTransaction(ctx, "e1", "NVDA")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	require.NotNil(t, got.TakeProfit)
	assert.InDelta(t, 120.0, *got.TakeProfit, 1e-9)

	_, err = s.OpenTransaction(ctx, "e1", "TSLA")
	assert.ErrorIs(t, err, ErrNotFound)

	open, err := s.OpenTransactionsByExpert(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestSQLiteRecommendations(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, sig := range []model.Signal{model.SignalHold, model.SignalBuy} {
		require.NoError(t, s.CreateRecommendation(ctx, &model.Recommendation{
			ID: id.New(), Symbol: "AMD", Signal: sig, ExpertID: "e1",
			Confidence: 80, ExpectedProfitPct: 10, Risk: model.RiskMedium,
			Horizon: model.HorizonShort, PriceAtDate: 100,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	latest, err := s.LatestRecommendations(ctx, "e1", "AMD", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, model.SignalBuy, latest[0].Signal)
	assert.Equal(t, model.SignalHold, latest[1].Signal)

	pending, err := s.UnprocessedRecommendations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.MarkRecommendationProcessed(ctx, pending[0].ID))
	pending, err = s.UnprocessedRecommendations(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSQLiteRulesetRoundtrip(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	rs := &model.Ruleset{
		ID:   "default",
		Name: "buy high confidence",
		Rules: []model.Rule{{
			Name: "open long",
			Triggers: []model.Trigger{
				{ID: "t1", Kind: model.CondSignalBuy},
				{ID: "t2", Kind: model.CondConfidence, Op: model.OpGE, Value: 70},
			},
			Actions: []model.RuleAction{{ID: "a1", Kind: model.ActBuy}},
		}},
	}
	require.NoError(t, s.SaveRuleset(ctx, rs))

	got, err := s.Ruleset(ctx, "default")
	require.NoError(t, err)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, rs.Rules[0].Triggers, got.Rules[0].Triggers)

	// Saving again replaces the rules.
	rs.Rules[0].ContinueProcessing = true
	require.NoError(t, s.SaveRuleset(ctx, rs))
	got, err = s.Ruleset(ctx, "default")
	require.NoError(t, err)
	assert.True(t, got.Rules[0].ContinueProcessing)
}
