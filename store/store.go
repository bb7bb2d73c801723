package store

import (
	"context"
	"errors"

	"github.com/rustyeddy/advisor/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrContention marks a transient lock or version conflict. Callers retry
// it with a Backoff; it is never a permanent failure by itself.
var ErrContention = errors.New("store: contention")

// Store is the shared order/transaction/recommendation repository. It is
// the single shared mutable resource of the engine: several scheduler
// passes write to it concurrently, so implementations must report
// transient conflicts as ErrContention (or a driver error IsContention
// recognizes) rather than failing writes silently.
type Store interface {
	CreateOrder(ctx context.Context, ord *model.Order) error
	Order(ctx context.Context, id string) (*model.Order, error)
	UpdateOrder(ctx context.Context, ord *model.Order) error
	DeleteOrder(ctx context.Context, id string) error

	// OrdersByTransaction returns a transaction's orders in creation order.
	OrdersByTransaction(ctx context.Context, txID string) ([]model.Order, error)
	// DependentOrders returns the orders directly depending on id.
	DependentOrders(ctx context.Context, id string) ([]model.Order, error)
	// PendingUnsizedOrders returns an expert's PENDING, quantity-zero
	// orders, which are the capital allocator's input.
	PendingUnsizedOrders(ctx context.Context, expertID string) ([]model.Order, error)
	// WaitingTriggerOrders returns every order parked in WAITING_TRIGGER.
	WaitingTriggerOrders(ctx context.Context) ([]model.Order, error)

	CreateTransaction(ctx context.Context, tx *model.Transaction) error
	Transaction(ctx context.Context, id string) (*model.Transaction, error)
	UpdateTransaction(ctx context.Context, tx *model.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error

	// OpenTransaction returns the expert's non-terminal transaction for a
	// symbol, or ErrNotFound. This is the expert-scoped position check.
	OpenTransaction(ctx context.Context, expertID, symbol string) (*model.Transaction, error)
	OpenTransactionsByExpert(ctx context.Context, expertID string) ([]model.Transaction, error)

	CreateRecommendation(ctx context.Context, rec *model.Recommendation) error
	Recommendation(ctx context.Context, id string) (*model.Recommendation, error)
	// LatestRecommendations returns the n most recent recommendations for
	// expert+symbol, newest first.
	LatestRecommendations(ctx context.Context, expertID, symbol string, n int) ([]model.Recommendation, error)
	UnprocessedRecommendations(ctx context.Context) ([]model.Recommendation, error)
	MarkRecommendationProcessed(ctx context.Context, id string) error

	SaveRuleset(ctx context.Context, rs *model.Ruleset) error
	Ruleset(ctx context.Context, id string) (*model.Ruleset, error)

	Close() error
}
