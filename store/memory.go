package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/advisor/model"
)

// Memory is an in-process Store for tests and the demo command. It copies
// entities on the way in and out so callers never alias stored state, and
// it can inject contention errors to exercise the retry path.
type Memory struct {
	mu sync.Mutex

	orders          map[string]model.Order
	transactions    map[string]model.Transaction
	recommendations map[string]model.Recommendation
	rulesets        map[string]model.Ruleset

	failWrites int
}

func NewMemory() *Memory {
	return &Memory{
		orders:          make(map[string]model.Order),
		transactions:    make(map[string]model.Transaction),
		recommendations: make(map[string]model.Recommendation),
		rulesets:        make(map[string]model.Ruleset),
	}
}

// FailNextWrites makes the next n writes return ErrContention.
func (m *Memory) FailNextWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = n
}

func (m *Memory) contended() bool {
	if m.failWrites > 0 {
		m.failWrites--
		return true
	}
	return false
}

func (m *Memory) Close() error { return nil }

// ---- orders ----

func (m *Memory) CreateOrder(ctx context.Context, ord *model.Order) error {
	if err := ord.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contended() {
		return ErrContention
	}

	now := time.Now().UTC()
	if ord.CreatedAt.IsZero() {
		ord.CreatedAt = now
	}
	ord.UpdatedAt = now
	m.orders[ord.ID] = copyOrder(*ord)
	return nil
}

func (m *Memory) Order(ctx context.Context, id string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ord, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyOrder(ord)
	return &out, nil
}

func (m *Memory) UpdateOrder(ctx context.Context, ord *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contended() {
		return ErrContention
	}

	if _, ok := m.orders[ord.ID]; !ok {
		return ErrNotFound
	}
	ord.UpdatedAt = time.Now().UTC()
	m.orders[ord.ID] = copyOrder(*ord)
	return nil
}

func (m *Memory) DeleteOrder(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contended() {
		return ErrContention
	}

	delete(m.orders, id)
	return nil
}

func (m *Memory) OrdersByTransaction(ctx context.Context, txID string) ([]model.Order, error) {
	return m.selectOrders(func(o model.Order) bool { return o.TransactionID == txID }), nil
}

func (m *Memory) DependentOrders(ctx context.Context, id string) ([]model.Order, error) {
	return m.selectOrders(func(o model.Order) bool { return o.DependsOn == id }), nil
}

func (m *Memory) PendingUnsizedOrders(ctx context.Context, expertID string) ([]model.Order, error) {
	return m.selectOrders(func(o model.Order) bool {
		return o.ExpertID == expertID && o.Status == model.OrderPending && o.Quantity == 0
	}), nil
}

func (m *Memory) WaitingTriggerOrders(ctx context.Context) ([]model.Order, error) {
	return m.selectOrders(func(o model.Order) bool { return o.Status == model.OrderWaitingTrigger }), nil
}

func (m *Memory) selectOrders(keep func(model.Order) bool) []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Order
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyOrder(o model.Order) model.Order {
	if o.LimitPrice != nil {
		v := *o.LimitPrice
		o.LimitPrice = &v
	}
	if o.StopPrice != nil {
		v := *o.StopPrice
		o.StopPrice = &v
	}
	return o
}

// ---- transactions ----

func (m *Memory) CreateTransaction(ctx context.Context, tx *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contended() {
		return ErrContention
	}

	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	m.transactions[tx.ID] = copyTransaction(*tx)
	return nil
}

func (m *Memory) Transaction(ctx context.Context, id string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyTransaction(tx)
	return &out, nil
}

func (m *Memory) UpdateTransaction(ctx context.Context, tx *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contended() {
		return ErrContention
	}

	if _, ok := m.transactions[tx.ID]; !ok {
		return ErrNotFound
	}
	tx.UpdatedAt = time.Now().UTC()
	m.transactions[tx.ID] = copyTransaction(*tx)
	return nil
}

func (m *Memory) DeleteTransaction(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contended() {
		return ErrContention
	}

	delete(m.transactions, id)
	return nil
}

func (m *Memory) OpenTransaction(ctx context.Context, expertID, symbol string) (*model.Transaction, error) {
	txs := m.selectTransactions(func(t model.Transaction) bool {
		return t.ExpertID == expertID && t.Symbol == symbol && openTx(t.Status)
	})
	if len(txs) == 0 {
		return nil, ErrNotFound
	}
	latest := txs[len(txs)-1]
	return &latest, nil
}

func (m *Memory) OpenTransactionsByExpert(ctx context.Context, expertID string) ([]model.Transaction, error) {
	return m.selectTransactions(func(t model.Transaction) bool {
		return t.ExpertID == expertID && openTx(t.Status)
	}), nil
}

func openTx(s model.TransactionStatus) bool {
	return s == model.TxWaiting || s == model.TxOpened
}

func (m *Memory) selectTransactions(keep func(model.Transaction) bool) []model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Transaction
	for _, t := range m.transactions {
		if keep(t) {
			out = append(out, copyTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyTransaction(t model.Transaction) model.Transaction {
	if t.TakeProfit != nil {
		v := *t.TakeProfit
		t.TakeProfit = &v
	}
	if t.StopLoss != nil {
		v := *t.StopLoss
		t.StopLoss = &v
	}
	return t
}

// ---- recommendations ----

func (m *Memory) CreateRecommendation(ctx context.Context, rec *model.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contended() {
		return ErrContention
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.recommendations[rec.ID] = *rec
	return nil
}

func (m *Memory) Recommendation(ctx context.Context, id string) (*model.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.recommendations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *Memory) LatestRecommendations(ctx context.Context, expertID, symbol string, n int) ([]model.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Recommendation
	for _, r := range m.recommendations {
		if r.ExpertID == expertID && r.Symbol == symbol {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *Memory) UnprocessedRecommendations(ctx context.Context) ([]model.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Recommendation
	for _, r := range m.recommendations {
		if !r.Processed {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) MarkRecommendationProcessed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contended() {
		return ErrContention
	}

	rec, ok := m.recommendations[id]
	if !ok {
		return ErrNotFound
	}
	rec.Processed = true
	m.recommendations[id] = rec
	return nil
}

// ---- rulesets ----

func (m *Memory) SaveRuleset(ctx context.Context, rs *model.Ruleset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contended() {
		return ErrContention
	}

	m.rulesets[rs.ID] = *rs
	return nil
}

func (m *Memory) Ruleset(ctx context.Context, id string) (*model.Ruleset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.rulesets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rs, nil
}
