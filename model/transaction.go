package model

import "time"

type TransactionStatus string

const (
	TxWaiting TransactionStatus = "WAITING"
	TxOpened  TransactionStatus = "OPENED"
	TxClosed  TransactionStatus = "CLOSED"
	TxFailed  TransactionStatus = "FAILED"
)

// Transaction is the position-level aggregate spanning an entry order and
// its take-profit / stop-loss legs. Quantity is signed: positive for long,
// negative for short.
type Transaction struct {
	ID       string
	Symbol   string
	Quantity float64

	OpenPrice  float64
	TakeProfit *float64
	StopLoss   *float64

	Status   TransactionStatus
	OpenedAt time.Time
	ClosedAt time.Time

	ExpertID  string
	AccountID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Long reports whether the transaction holds a long position.
func (t *Transaction) Long() bool { return t.Quantity >= 0 }

// Cost returns the capital consumed by the open position.
func (t *Transaction) Cost() float64 {
	q := t.Quantity
	if q < 0 {
		q = -q
	}
	return q * t.OpenPrice
}

// RefreshStatus applies the status invariant against the transaction's
// current order set: OPENED iff at least one order executed and not all are
// terminal, CLOSED iff all are terminal, FAILED iff everything died without
// a single execution. It returns true when the status changed.
func (t *Transaction) RefreshStatus(orders []Order, now time.Time) bool {
	if len(orders) == 0 {
		return false
	}

	executed := false
	allTerminal := true
	anyFailed := false
	for i := range orders {
		if orders[i].Status.Executed() {
			executed = true
		}
		if !orders[i].Status.Terminal() {
			allTerminal = false
		}
		if orders[i].Status.Failed() {
			anyFailed = true
		}
	}

	next := t.Status
	switch {
	case allTerminal && executed:
		next = TxClosed
	case allTerminal && anyFailed:
		next = TxFailed
	case allTerminal:
		next = TxClosed
	case executed:
		next = TxOpened
	}

	if next == t.Status {
		return false
	}
	if next == TxOpened && t.OpenedAt.IsZero() {
		t.OpenedAt = now
	}
	if (next == TxClosed || next == TxFailed) && t.ClosedAt.IsZero() {
		t.ClosedAt = now
	}
	t.Status = next
	return true
}
