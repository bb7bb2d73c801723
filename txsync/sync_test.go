package txsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/advisor/broker/sim"
	"github.com/rustyeddy/advisor/internal/id"
	"github.com/rustyeddy/advisor/model"
	"github.com/rustyeddy/advisor/store"
)

func fptr(f float64) *float64 { return &f }

type fixture struct {
	store  *store.Memory
	driver *sim.Engine
	sync   *Synchronizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	drv := sim.New(10_000)
	drv.SetPrice("GAZP", 150)
	return &fixture{store: st, driver: drv, sync: New(st, drv, nil)}
}

func (f *fixture) openLong(t *testing.T, qty float64) (*model.Transaction, *model.Order) {
	t.Helper()
	ctx := context.Background()

	entry := &model.Order{
		ID:        id.New(),
		Symbol:    "GAZP",
		Side:      model.Buy,
		Quantity:  qty,
		Kind:      model.Market,
		Status:    model.OrderFilled,
		FillPrice: 150,
		ExpertID:  "exp-1",
		AccountID: "acc-1",
	}
	require.NoError(t, f.store.CreateOrder(ctx, entry))

	tx, err := f.sync.EnsureTransaction(ctx, entry)
	require.NoError(t, err)
	tx.Status = model.TxOpened
	require.NoError(t, f.store.UpdateTransaction(ctx, tx))
	return tx, entry
}

func (f *fixture) addLegs(t *testing.T, tx *model.Transaction, entryID string, qty, tp, sl float64) (tpLeg, slLeg *model.Order) {
	t.Helper()
	ctx := context.Background()

	tpLeg = &model.Order{
		ID: id.New(), Symbol: tx.Symbol, Side: model.Sell, Quantity: qty,
		Kind: model.Limit, LimitPrice: fptr(tp),
		Status: model.OrderSubmitted, BrokerID: "b-tp",
		TransactionID: tx.ID, ExpertID: tx.ExpertID, AccountID: tx.AccountID,
	}
	slLeg = &model.Order{
		ID: id.New(), Symbol: tx.Symbol, Side: model.Sell, Quantity: qty,
		Kind: model.Stop, StopPrice: fptr(sl),
		Status: model.OrderSubmitted, BrokerID: "b-sl",
		TransactionID: tx.ID, ExpertID: tx.ExpertID, AccountID: tx.AccountID,
	}
	_ = entryID
	require.NoError(t, f.store.CreateOrder(ctx, tpLeg))
	require.NoError(t, f.store.CreateOrder(ctx, slLeg))
	tx.TakeProfit, tx.StopLoss = fptr(tp), fptr(sl)
	require.NoError(t, f.store.UpdateTransaction(ctx, tx))
	return tpLeg, slLeg
}

func TestEnsureTransactionCreatesOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	ord := &model.Order{
		ID: id.New(), Symbol: "GAZP", Side: model.Sell, Quantity: 4,
		Kind: model.Market, Status: model.OrderPending,
		ExpertID: "exp-1", AccountID: "acc-1",
	}
	require.NoError(t, f.store.CreateOrder(ctx, ord))

	tx, err := f.sync.EnsureTransaction(ctx, ord)
	require.NoError(t, err)
	assert.Equal(t, model.TxWaiting, tx.Status)
	assert.Equal(t, -4.0, tx.Quantity, "sell order opens a short transaction")
	assert.Equal(t, tx.ID, ord.TransactionID)
	assert.Contains(t, ord.Comment, "TR:"+tx.ID)

	again, err := f.sync.EnsureTransaction(ctx, ord)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, again.ID)
}

func TestAdjustQuantityResizesPendingAndGatesTriggered(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	entry := &model.Order{
		ID: id.New(), Symbol: "GAZP", Side: model.Buy, Quantity: 0,
		Kind: model.Market, Status: model.OrderPending,
		ExpertID: "exp-1", AccountID: "acc-1",
	}
	require.NoError(t, f.store.CreateOrder(ctx, entry))
	tx, err := f.sync.EnsureTransaction(ctx, entry)
	require.NoError(t, err)

	dep := &model.Order{
		ID: id.New(), Symbol: "GAZP", Side: model.Sell, Quantity: 0,
		Kind: model.Limit, LimitPrice: fptr(180),
		Status: model.OrderWaitingTrigger, DependsOn: entry.ID, DependsTrigger: model.OrderFilled,
		TransactionID: tx.ID, ExpertID: "exp-1", AccountID: "acc-1",
	}
	require.NoError(t, f.store.CreateOrder(ctx, dep))

	require.NoError(t, f.sync.AdjustQuantity(ctx, tx, 7))

	got, err := f.store.Order(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.Quantity)

	gotDep, err := f.store.Order(ctx, dep.ID)
	require.NoError(t, err)
	assert.Zero(t, gotDep.Quantity, "triggered leg stays unsized until the entry executes")

	gotTx, err := f.store.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 7.0, gotTx.Quantity)

	// Once the entry fills, the same adjustment reaches the leg.
	got.Status = model.OrderFilled
	require.NoError(t, f.store.UpdateOrder(ctx, got))
	require.NoError(t, f.sync.AdjustQuantity(ctx, tx, 7))

	gotDep, err = f.store.Order(ctx, dep.ID)
	require.NoError(t, err)
	assert.Equal(t, 7.0, gotDep.Quantity)
}

func TestAdjustQuantityKeepsShortSign(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// An unsized SELL entry opens its transaction with quantity 0, so the
	// sign must come from the entry side when funding arrives.
	entry := &model.Order{
		ID: id.New(), Symbol: "GAZP", Side: model.Sell, Quantity: 0,
		Kind: model.Market, Status: model.OrderPending,
		ExpertID: "exp-1", AccountID: "acc-1",
	}
	require.NoError(t, f.store.CreateOrder(ctx, entry))
	tx, err := f.sync.EnsureTransaction(ctx, entry)
	require.NoError(t, err)
	require.Zero(t, tx.Quantity)

	require.NoError(t, f.sync.AdjustQuantity(ctx, tx, 5))

	got, err := f.store.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, -5.0, got.Quantity)
	assert.False(t, got.Long())

	gotEntry, err := f.store.Order(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, gotEntry.Quantity, "order quantities stay unsigned")
}

func TestAdjustQuantityIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	tx, _ := f.openLong(t, 5)
	require.NoError(t, f.sync.AdjustQuantity(ctx, tx, 5))
	require.NoError(t, f.sync.AdjustQuantity(ctx, tx, 5))

	got, err := f.store.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Quantity)
}

func TestDecreaseSequencesCloseAfterCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	tx, entry := f.openLong(t, 10)
	tpLeg, slLeg := f.addLegs(t, tx, entry.ID, 10, 180, 130)

	adj, err := f.sync.AdjustQuantityWithTPSL(ctx, tx, -4, nil, nil)
	require.NoError(t, err)

	require.NotNil(t, adj.EntryOrder)
	assert.Equal(t, model.Sell, adj.EntryOrder.Side)
	assert.Equal(t, 4.0, adj.EntryOrder.Quantity)
	assert.Equal(t, model.OrderWaitingTrigger, adj.EntryOrder.Status)
	assert.Equal(t, tpLeg.ID, adj.EntryOrder.DependsOn)
	assert.Equal(t, model.OrderCanceled, adj.EntryOrder.DependsTrigger)

	assert.ElementsMatch(t, []string{tpLeg.ID, slLeg.ID}, adj.Canceled)
	for _, legID := range adj.Canceled {
		got, err := f.store.Order(ctx, legID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderCanceled, got.Status)
	}

	// Replacement legs cover the remaining 6 units, keep the old prices and
	// wait on the close order's fill.
	require.NotNil(t, adj.TakeProfitLeg)
	assert.Equal(t, 6.0, adj.TakeProfitLeg.Quantity)
	assert.Equal(t, 180.0, *adj.TakeProfitLeg.LimitPrice)
	assert.Equal(t, adj.EntryOrder.ID, adj.TakeProfitLeg.DependsOn)
	assert.Equal(t, model.OrderFilled, adj.TakeProfitLeg.DependsTrigger)

	require.NotNil(t, adj.StopLossLeg)
	assert.Equal(t, 6.0, adj.StopLossLeg.Quantity)
	assert.Equal(t, 130.0, *adj.StopLossLeg.StopPrice)

	gotTx, err := f.store.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 6.0, gotTx.Quantity)
}

func TestDecreaseBeyondHeldFailsWithoutOrders(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	tx, entry := f.openLong(t, 3)
	f.addLegs(t, tx, entry.ID, 3, 180, 130)
	before, err := f.store.OrdersByTransaction(ctx, tx.ID)
	require.NoError(t, err)

	_, err = f.sync.AdjustQuantityWithTPSL(ctx, tx, -5, nil, nil)
	require.Error(t, err)
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)

	after, err := f.store.OrdersByTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "a rejected decrease must not create orders")

	gotTx, err := f.store.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 3.0, gotTx.Quantity)
}

func TestIncreaseSubmitsAddImmediately(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	tx, entry := f.openLong(t, 5)
	tpLeg, _ := f.addLegs(t, tx, entry.ID, 5, 180, 130)

	adj, err := f.sync.AdjustQuantityWithTPSL(ctx, tx, 3, fptr(185), nil)
	require.NoError(t, err)

	require.NotNil(t, adj.EntryOrder)
	assert.Equal(t, model.Buy, adj.EntryOrder.Side)
	assert.Equal(t, 3.0, adj.EntryOrder.Quantity)
	assert.Equal(t, model.OrderPending, adj.EntryOrder.Status,
		"an add order needs no sequencing, it goes out immediately")

	// New legs carry the full 8 units, the overridden TP and follow the old
	// legs' cancellation.
	require.NotNil(t, adj.TakeProfitLeg)
	assert.Equal(t, 8.0, adj.TakeProfitLeg.Quantity)
	assert.Equal(t, 185.0, *adj.TakeProfitLeg.LimitPrice)
	assert.Equal(t, tpLeg.ID, adj.TakeProfitLeg.DependsOn)
	assert.Equal(t, model.OrderCanceled, adj.TakeProfitLeg.DependsTrigger)

	require.NotNil(t, adj.StopLossLeg)
	assert.Equal(t, 130.0, *adj.StopLossLeg.StopPrice, "SL carries over when not overridden")

	gotTx, err := f.store.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 8.0, gotTx.Quantity)
	assert.Equal(t, 185.0, *gotTx.TakeProfit)
}

func TestFullCloseCreatesNoReplacementLegs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	tx, entry := f.openLong(t, 4)
	f.addLegs(t, tx, entry.ID, 4, 180, 130)

	adj, err := f.sync.AdjustQuantityWithTPSL(ctx, tx, -4, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, adj.TakeProfitLeg)
	assert.Nil(t, adj.StopLossLeg)

	gotTx, err := f.store.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Zero(t, gotTx.Quantity)
}

func TestAdjustTargetsUpdatesLegsAndTransaction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	tx, entry := f.openLong(t, 5)
	_, _ = f.driver.SubmitOrder(ctx, &model.Order{
		ID: id.New(), Symbol: "GAZP", Side: model.Buy, Quantity: 5, Kind: model.Market,
	})
	tpLeg, slLeg := f.addLegs(t, tx, entry.ID, 5, 180, 130)
	tpLeg.BrokerID = "" // parked leg, not yet at the broker
	require.NoError(t, f.store.UpdateOrder(ctx, tpLeg))

	require.NoError(t, f.sync.AdjustTargets(ctx, tx, fptr(200), fptr(140)))

	gotTP, err := f.store.Order(ctx, tpLeg.ID)
	require.NoError(t, err)
	assert.Equal(t, 200.0, *gotTP.LimitPrice)

	gotSL, err := f.store.Order(ctx, slLeg.ID)
	require.NoError(t, err)
	assert.Equal(t, 140.0, *gotSL.StopPrice)

	gotTx, err := f.store.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 200.0, *gotTx.TakeProfit)
	assert.Equal(t, 140.0, *gotTx.StopLoss)
}

func TestRefreshAppliesStatusInvariant(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	entry := &model.Order{
		ID: id.New(), Symbol: "GAZP", Side: model.Buy, Quantity: 2,
		Kind: model.Market, Status: model.OrderPending,
		ExpertID: "exp-1", AccountID: "acc-1",
	}
	require.NoError(t, f.store.CreateOrder(ctx, entry))
	tx, err := f.sync.EnsureTransaction(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, model.TxWaiting, tx.Status)

	entry.Status = model.OrderFilled
	entry.FillPrice = 150
	require.NoError(t, f.store.UpdateOrder(ctx, entry))

	require.NoError(t, f.sync.Refresh(ctx, tx))
	assert.Equal(t, model.TxOpened, tx.Status)

	got, err := f.store.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxOpened, got.Status)
}
