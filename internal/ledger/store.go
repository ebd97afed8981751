package ledger

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

// ErrOrderNotFound is returned by stores when an order id is unknown.
var ErrOrderNotFound = errors.New("order not found")

// Store is the persistence the ledger needs. Every mutation happens inside
// InTx: fn's writes are committed together or not at all.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	ListOrders(ctx context.Context, q orders.ListQuery) ([]orders.Order, int, orders.Stats, error)
}

type Tx interface {
	// Products returns the products found among ids, active or not.
	Products(ctx context.Context, ids []string) (map[string]catalog.Product, error)
	InsertOrder(ctx context.Context, o *orders.Order) error
	// LockOrder loads an order for update, or ErrOrderNotFound.
	LockOrder(ctx context.Context, id string) (*orders.Order, error)
	UpdateOrder(ctx context.Context, o *orders.Order) error
	// ReserveStock decrements stock by qty iff stock >= qty. When it does not,
	// ok is false and available holds the stock seen.
	ReserveStock(ctx context.Context, productID string, qty int) (ok bool, available int, err error)
	// ReleaseStock adds qty back to stock unconditionally.
	ReleaseStock(ctx context.Context, productID string, qty int) error
}

// Publisher emits lifecycle events once a mutation has been committed.
type Publisher interface {
	Publish(ctx context.Context, env orders.Envelope) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, orders.Envelope) error { return nil }
