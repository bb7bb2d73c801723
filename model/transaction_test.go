package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefreshStatus(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		statuses []OrderStatus
		want     TransactionStatus
	}{
		{"all pending stays waiting", []OrderStatus{OrderPending, OrderWaitingTrigger}, TxWaiting},
		{"one fill opens", []OrderStatus{OrderFilled, OrderWaitingTrigger}, TxOpened},
		{"partial fill opens", []OrderStatus{OrderPartiallyFilled, OrderPending}, TxOpened},
		{"all terminal closes", []OrderStatus{OrderFilled, OrderClosed, OrderCanceled}, TxClosed},
		{"rejected without fills fails", []OrderStatus{OrderRejected, OrderCanceled}, TxFailed},
		{"canceled without fills closes", []OrderStatus{OrderCanceled, OrderCanceled}, TxClosed},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tx := &Transaction{Status: TxWaiting}
			orders := make([]Order, len(tt.statuses))
			for i, s := range tt.statuses {
				orders[i] = Order{Status: s}
			}

			tx.RefreshStatus(orders, now)
			assert.Equal(t, tt.want, tx.Status)
		})
	}
}

func TestRefreshStatusTimestampsSetOnce(t *testing.T) {
	t.Parallel()

	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	tx := &Transaction{Status: TxWaiting}
	changed := tx.RefreshStatus([]Order{{Status: OrderFilled}, {Status: OrderPending}}, first)
	assert.True(t, changed)
	assert.Equal(t, first, tx.OpenedAt)

	// Re-applying the same order set is a no-op.
	changed = tx.RefreshStatus([]Order{{Status: OrderFilled}, {Status: OrderPending}}, later)
	assert.False(t, changed)
	assert.Equal(t, first, tx.OpenedAt)

	changed = tx.RefreshStatus([]Order{{Status: OrderFilled}, {Status: OrderCanceled}}, later)
	assert.True(t, changed)
	assert.Equal(t, TxClosed, tx.Status)
	assert.Equal(t, later, tx.ClosedAt)
}

func TestTransactionCost(t *testing.T) {
	t.Parallel()

	long := &Transaction{Quantity: 10, OpenPrice: 15}
	assert.InDelta(t, 150.0, long.Cost(), 1e-9)

	short := &Transaction{Quantity: -4, OpenPrice: 25}
	assert.InDelta(t, 100.0, short.Cost(), 1e-9)
	assert.False(t, short.Long())
}
