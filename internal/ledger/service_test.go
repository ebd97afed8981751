package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/memstore"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateThenCancel_RestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product("Ceramic Mug", "20.00", 5)

	o, err := f.svc.CreateOrder(ctx, orderInput(item(p.ID, 3)))
	require.NoError(t, err)

	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.False(t, o.IsPaid)
	assert.False(t, o.IsDelivered)
	assert.Equal(t, "60.00", o.ItemsPrice.StringFixed(2))
	assert.Equal(t, "4.80", o.TaxPrice.StringFixed(2))
	assert.Equal(t, "15.00", o.ShippingPrice.StringFixed(2))
	assert.Equal(t, "79.80", o.TotalPrice.StringFixed(2))
	assert.Equal(t, 2, f.stock(t, p.ID))

	cancelled, err := f.svc.CancelOrder(ctx, o.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 5, f.stock(t, p.ID))

	stored, err := f.svc.GetOrder(ctx, o.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, stored.Status)
}

func TestCreateOrder_ComputesTotals(t *testing.T) {
	f := newFixture(t)
	a := f.product("Backpack", "50.00", 10)
	b := f.product("Water Bottle", "25.00", 10)

	o, err := f.svc.CreateOrder(context.Background(), orderInput(item(a.ID, 2), item(b.ID, 1)))
	require.NoError(t, err)

	assert.Equal(t, "125.00", o.ItemsPrice.StringFixed(2))
	assert.Equal(t, "10.00", o.TaxPrice.StringFixed(2))
	assert.Equal(t, "15.00", o.ShippingPrice.StringFixed(2))
	assert.Equal(t, "150.00", o.TotalPrice.StringFixed(2))
	assert.True(t, o.TotalPrice.Equal(o.ItemsPrice.Add(o.TaxPrice).Add(o.ShippingPrice)))
}

func TestCreateOrder_SnapshotsProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.store.PutProduct(catalog.Product{
		Name:     "Desk Lamp",
		Image:    "/img/lamp.jpg",
		Price:    decimal.RequireFromString("30.00"),
		Stock:    4,
		IsActive: true,
	})

	o, err := f.svc.CreateOrder(ctx, orderInput(item(p.ID, 1)))
	require.NoError(t, err)

	p.Name = "Desk Lamp v2"
	p.Price = decimal.RequireFromString("99.00")
	f.store.PutProduct(p)

	stored, err := f.svc.GetOrder(ctx, o.ID, owner)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "Desk Lamp", stored.Items[0].Name)
	assert.Equal(t, "/img/lamp.jpg", stored.Items[0].Image)
	assert.Equal(t, "30.00", stored.Items[0].Price.StringFixed(2))
}

func TestCreateOrder_Rejections_LeaveStockUntouched(t *testing.T) {
	f := newFixture(t)
	lamp := f.product("Lamp", "10.00", 2)
	old := f.store.PutProduct(catalog.Product{Name: "Old Radio", Price: decimal.NewFromInt(5), Stock: 9})

	noAddress := orderInput(item(lamp.ID, 1))
	noAddress.ShippingAddress.City = ""
	badPayment := orderInput(item(lamp.ID, 1))
	badPayment.PaymentMethod = "barter"

	tests := []struct {
		name    string
		in      orders.CreateOrderInput
		kind    orders.Kind
		message string
	}{
		{name: "no items", in: orderInput(), kind: orders.KindInvalidInput},
		{name: "zero quantity", in: orderInput(item(lamp.ID, 0)), kind: orders.KindInvalidInput},
		{name: "incomplete address", in: noAddress, kind: orders.KindInvalidInput},
		{name: "unknown payment method", in: badPayment, kind: orders.KindInvalidInput},
		{name: "unknown product", in: orderInput(item("nope", 1)), kind: orders.KindNotFound},
		{name: "inactive product", in: orderInput(item(old.ID, 1)), kind: orders.KindProductUnavailable},
		{
			name:    "quantity above stock",
			in:      orderInput(item(lamp.ID, 3)),
			kind:    orders.KindInsufficientStock,
			message: "Insufficient stock for Lamp. Available: 2",
		},
		{
			name:    "repeated lines above stock",
			in:      orderInput(item(lamp.ID, 1), item(lamp.ID, 2)),
			kind:    orders.KindInsufficientStock,
			message: "Insufficient stock for Lamp. Available: 2",
		},
		{
			name: "one bad line rejects the whole order",
			in:   orderInput(item(lamp.ID, 1), item(old.ID, 1)),
			kind: orders.KindProductUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), tc.in)

			require.Error(t, err)
			assert.Equal(t, tc.kind, orders.KindOf(err))
			if tc.message != "" {
				assert.EqualError(t, err, tc.message)
			}
			assert.Equal(t, 2, f.stock(t, lamp.ID))
			assert.Equal(t, 9, f.stock(t, old.ID))
		})
	}

	_, total, err := f.svc.ListMyOrders(context.Background(), owner.UserID, orders.Page{}, "")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCreateOrder_InsufficientStockDetails(t *testing.T) {
	f := newFixture(t)
	p := f.product("Lamp", "10.00", 1)

	_, err := f.svc.CreateOrder(context.Background(), orderInput(item(p.ID, 4)))

	var e *orders.Error
	require.True(t, errors.As(err, &e))
	assert.True(t, errors.Is(err, orders.ErrInsufficientStock))
	assert.Equal(t, p.ID, e.Details["productId"])
	assert.Equal(t, "Lamp", e.Details["name"])
	assert.Equal(t, 1, e.Details["available"])
}

// racingStore lets a concurrent order win the stock between the product
// check and the conditional decrement of the nth reservation in a transaction.
type racingStore struct {
	*memstore.Store
	loseAt int
}

func (s *racingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, &racingTx{Tx: tx, loseAt: s.loseAt})
	})
}

type racingTx struct {
	ledger.Tx
	loseAt   int
	reserved int
}

func (tx *racingTx) ReserveStock(ctx context.Context, productID string, qty int) (bool, int, error) {
	tx.reserved++
	if tx.reserved == tx.loseAt {
		return false, 0, nil
	}
	return tx.Tx.ReserveStock(ctx, productID, qty)
}

func TestCreateOrder_LostReservationRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pub := &mockPublisher{}
	f.svc.Events = pub
	f.svc.Store = &racingStore{Store: f.store, loseAt: 2}
	a := f.product("Notebook", "12.00", 6)
	b := f.product("Pen", "3.00", 4)

	_, err := f.svc.CreateOrder(ctx, orderInput(item(a.ID, 2), item(b.ID, 1)))

	require.Error(t, err)
	assert.True(t, errors.Is(err, orders.ErrInsufficientStock))
	assert.Equal(t, orders.KindInsufficientStock, orders.KindOf(err))
	assert.Equal(t, 6, f.stock(t, a.ID), "first reservation is undone")
	assert.Equal(t, 4, f.stock(t, b.ID))

	_, total, stats, err := f.store.ListOrders(ctx, orders.ListQuery{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, stats.Count)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestCreateOrder_ConcurrentOrdersNeverOversell(t *testing.T) {
	const (
		stock   = 10
		callers = 25
	)
	f := newFixture(t)
	p := f.product("Limited Print", "40.00", stock)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), orderInput(item(p.ID, 1)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, orders.ErrInsufficientStock):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, succeeded)
	assert.Equal(t, callers-stock, insufficient)
	assert.Equal(t, 0, f.stock(t, p.ID))
	got, _ := f.store.Product(p.ID)
	assert.Equal(t, stock, got.Sold)
}

func TestCreateOrder_ConcurrentMixedQuantities(t *testing.T) {
	f := newFixture(t)
	p := f.product("Limited Print", "40.00", 7)

	var wg sync.WaitGroup
	for _, qty := range []int{3, 2, 4, 1, 5, 2, 3} {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), orderInput(item(p.ID, qty)))
			if err != nil {
				assert.True(t, errors.Is(err, orders.ErrInsufficientStock), err)
			}
		}(qty)
	}
	wg.Wait()

	list, _, err := f.svc.ListMyOrders(context.Background(), owner.UserID, orders.Page{Limit: 100}, "")
	require.NoError(t, err)
	reserved := 0
	for _, o := range list {
		reserved += o.Items[0].Quantity
	}
	assert.GreaterOrEqual(t, f.stock(t, p.ID), 0)
	assert.Equal(t, 7, reserved+f.stock(t, p.ID))
}

func TestGetOrder_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product("Mug", "12.00", 5)
	o, err := f.svc.CreateOrder(ctx, orderInput(item(p.ID, 1)))
	require.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, o.ID, other)
	assert.ErrorIs(t, err, orders.ErrForbidden)

	for _, req := range []orders.Requester{owner, admin} {
		got, err := f.svc.GetOrder(ctx, o.ID, req)
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
	}

	_, err = f.svc.GetOrder(ctx, "missing", admin)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func (f *fixture) advance(t *testing.T, id string, statuses ...orders.Status) *orders.Order {
	t.Helper()
	var o *orders.Order
	for _, st := range statuses {
		var err error
		o, err = f.svc.UpdateOrderStatus(context.Background(), orders.UpdateStatusInput{OrderID: id, Status: st}, admin)
		require.NoError(t, err, "move to %s", st)
	}
	return o
}

func TestUpdateOrderStatus_DeliveredIsIdempotent(t *testing.T) {
	f := newFixture(t)
	p := f.product("Mug", "12.00", 5)
	o, err := f.svc.CreateOrder(context.Background(), orderInput(item(p.ID, 1)))
	require.NoError(t, err)

	first := f.advance(t, o.ID, orders.StatusConfirmed, orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered)
	require.True(t, first.IsDelivered)
	require.NotNil(t, first.DeliveredAt)

	f.clock.Advance(time.Hour)
	second := f.advance(t, o.ID, orders.StatusDelivered)

	assert.Equal(t, orders.StatusDelivered, second.Status)
	assert.True(t, first.DeliveredAt.Equal(*second.DeliveredAt))
}

func TestCancelOrder_GuardedByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product("Mug", "12.00", 5)
	o, err := f.svc.CreateOrder(ctx, orderInput(item(p.ID, 2)))
	require.NoError(t, err)
	f.advance(t, o.ID, orders.StatusConfirmed, orders.StatusProcessing, orders.StatusShipped)

	_, err = f.svc.CancelOrder(ctx, o.ID, owner)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.EqualError(t, err, "Order cannot be cancelled at this stage")
	assert.Equal(t, 3, f.stock(t, p.ID))

	_, err = f.svc.UpdateOrderStatus(ctx, orders.UpdateStatusInput{OrderID: o.ID, Status: orders.StatusCancelled}, admin)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, 3, f.stock(t, p.ID))
}

func TestCancelOrder_FromConfirmedAndOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product("Mug", "12.00", 5)
	o, err := f.svc.CreateOrder(ctx, orderInput(item(p.ID, 2)))
	require.NoError(t, err)
	f.advance(t, o.ID, orders.StatusConfirmed)

	_, err = f.svc.CancelOrder(ctx, o.ID, other)
	assert.ErrorIs(t, err, orders.ErrForbidden)
	assert.Equal(t, 3, f.stock(t, p.ID))

	_, err = f.svc.CancelOrder(ctx, o.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, 5, f.stock(t, p.ID))

	_, err = f.svc.CancelOrder(ctx, o.ID, owner)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)

	// Repeating the admin status write is a no-op and must not restock again.
	again, err := f.svc.UpdateOrderStatus(ctx, orders.UpdateStatusInput{OrderID: o.ID, Status: orders.StatusCancelled}, admin)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, again.Status)
	assert.Equal(t, 5, f.stock(t, p.ID))

	_, err = f.svc.CancelOrder(ctx, "missing", owner)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestCancelOrder_RestoresReservedQuantityDespiteRestock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product("Mug", "12.00", 5)
	o, err := f.svc.CreateOrder(ctx, orderInput(item(p.ID, 4)))
	require.NoError(t, err)

	// Unrelated restock between order and cancellation.
	p, _ = f.store.Product(p.ID)
	p.Stock += 10
	f.store.PutProduct(p)

	_, err = f.svc.CancelOrder(ctx, o.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, 15, f.stock(t, p.ID))
}

func TestUpdateOrderStatus_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product("Mug", "12.00", 5)
	o, err := f.svc.CreateOrder(ctx, orderInput(item(p.ID, 1)))
	require.NoError(t, err)

	_, err = f.svc.UpdateOrderStatus(ctx, orders.UpdateStatusInput{OrderID: o.ID, Status: orders.StatusConfirmed}, owner)
	assert.ErrorIs(t, err, orders.ErrForbidden)

	_, err = f.svc.UpdateOrderStatus(ctx, orders.UpdateStatusInput{OrderID: "missing", Status: orders.StatusConfirmed}, admin)
	assert.ErrorIs(t, err, orders.ErrNotFound)

	_, err = f.svc.UpdateOrderStatus(ctx, orders.UpdateStatusInput{OrderID: o.ID}, admin)
	assert.ErrorIs(t, err, orders.ErrInvalidInput)

	_, err = f.svc.UpdateOrderStatus(ctx, orders.UpdateStatusInput{OrderID: o.ID, Status: orders.StatusShipped}, admin)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)

	f.advance(t, o.ID, orders.StatusConfirmed, orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered)
	_, err = f.svc.UpdateOrderStatus(ctx, orders.UpdateStatusInput{OrderID: o.ID, Status: orders.StatusPending}, admin)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestUpdateOrderStatus_PaymentPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product("Mug", "12.00", 5)
	o, err := f.svc.CreateOrder(ctx, orderInput(item(p.ID, 1)))
	require.NoError(t, err)

	result := &orders.PaymentResult{ID: "PAY-123", Status: "COMPLETED", UpdateTime: "2026-03-01T10:05:00Z", EmailAddress: "buyer@example.com"}
	paid, err := f.svc.UpdateOrderStatus(ctx, orders.UpdateStatusInput{OrderID: o.ID, PaymentStatus: orders.PaymentPaid, PaymentResult: result}, admin)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, *result, *paid.PaymentResult)
	assert.Equal(t, orders.StatusPending, paid.Status)

	f.clock.Advance(time.Minute)
	again, err := f.svc.UpdateOrderStatus(ctx, orders.UpdateStatusInput{OrderID: o.ID, PaymentStatus: orders.PaymentPaid}, admin)
	require.NoError(t, err)
	assert.True(t, paid.PaidAt.Equal(*again.PaidAt))
}

func TestUpdateOrderStatus_RefundCancelledOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product("Mug", "12.00", 5)
	o, err := f.svc.CreateOrder(ctx, orderInput(item(p.ID, 2)))
	require.NoError(t, err)

	_, err = f.svc.UpdateOrderStatus(ctx, orders.UpdateStatusInput{OrderID: o.ID, PaymentStatus: orders.PaymentPaid}, admin)
	require.NoError(t, err)
	_, err = f.svc.CancelOrder(ctx, o.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, 5, f.stock(t, p.ID))

	refunded, err := f.svc.UpdateOrderStatus(ctx, orders.UpdateStatusInput{OrderID: o.ID, PaymentStatus: orders.PaymentRefunded}, admin)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, refunded.Status)
	assert.Equal(t, orders.PaymentRefunded, refunded.PaymentStatus)
	assert.False(t, refunded.IsPaid)
	assert.Equal(t, 5, f.stock(t, p.ID), "refund does not touch stock")

	_, err = f.svc.UpdateOrderStatus(ctx, orders.UpdateStatusInput{OrderID: o.ID, PaymentStatus: orders.PaymentPaid}, admin)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product("Mug", "10.00", 100)

	var ids []string
	for i := 0; i < 3; i++ {
		o, err := f.svc.CreateOrder(ctx, orderInput(item(p.ID, 1)))
		require.NoError(t, err)
		ids = append(ids, o.ID)
		f.clock.Advance(time.Minute)
	}
	in := orderInput(item(p.ID, 2))
	in.UserID = other.UserID
	_, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.CancelOrder(ctx, ids[0], owner)
	require.NoError(t, err)

	mine, total, err := f.svc.ListMyOrders(ctx, owner.UserID, orders.Page{Page: 1, Limit: 2}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, mine, 2)
	assert.Equal(t, ids[2], mine[0].ID, "newest first")

	pending, total, err := f.svc.ListMyOrders(ctx, owner.UserID, orders.Page{}, orders.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, pending, 2)

	_, _, _, err = f.svc.ListAllOrders(ctx, owner, orders.Page{}, "", "")
	assert.ErrorIs(t, err, orders.ErrForbidden)

	all, total, stats, err := f.svc.ListAllOrders(ctx, admin, orders.Page{}, "", "")
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, all, 4)
	assert.Equal(t, 4, stats.Count)
	// 3 x (10 + 0.80 + 15) + (20 + 1.60 + 15)
	assert.Equal(t, "114.00", stats.TotalRevenue.StringFixed(2))

	_, total, stats, err = f.svc.ListAllOrders(ctx, admin, orders.Page{}, orders.StatusCancelled, orders.PaymentPending)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "25.80", stats.TotalRevenue.StringFixed(2))

	_, _, err = f.svc.ListMyOrders(ctx, owner.UserID, orders.Page{}, "lost")
	assert.ErrorIs(t, err, orders.ErrInvalidInput)
}

func TestEventsArePublishedAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pub := &mockPublisher{}
	f.svc.Events = pub
	p := f.product("Mug", "10.00", 5)

	pub.On("Publish", mock.Anything, eventOfType(orders.EventOrderCreated)).Return(nil).Once()
	pub.On("Publish", mock.Anything, eventOfType(orders.EventOrderStatusChanged)).Return(nil).Once()
	pub.On("Publish", mock.Anything, eventOfType(orders.EventOrderCancelled)).Return(errors.New("broker down")).Once()

	o, err := f.svc.CreateOrder(ctx, orderInput(item(p.ID, 2)))
	require.NoError(t, err)
	f.advance(t, o.ID, orders.StatusConfirmed)
	_, err = f.svc.CancelOrder(ctx, o.ID, owner)
	require.NoError(t, err, "publish failures do not fail the operation")

	_, err = f.svc.CreateOrder(ctx, orderInput(item(p.ID, 50)))
	require.Error(t, err)

	pub.AssertExpectations(t)
	pub.AssertNumberOfCalls(t, "Publish", 3)
}
