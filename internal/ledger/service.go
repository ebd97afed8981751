package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	Store    Store
	Events   Publisher
	Pricing  orders.PricingPolicy
	Producer string // service name stamped on events
	Log      zerolog.Logger
	Now      func() time.Time
}

type event struct {
	kind    string
	orderID string
	payload any
}

// CreateOrder validates the cart, snapshots prices and reserves stock for
// every line in a single transaction. Nothing is written when any line fails.
func (s *Service) CreateOrder(ctx context.Context, in orders.CreateOrderInput) (*orders.Order, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	ids, want := in.Quantities()

	var created *orders.Order
	err := s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		products, err := tx.Products(ctx, ids)
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}
		for _, id := range ids {
			p, ok := products[id]
			if !ok {
				e := orders.NotFound("Product not found: %s", id)
				e.Details = map[string]any{"productId": id}
				return e
			}
			if !p.IsActive {
				return orders.ProductUnavailable(p.ID, p.Name)
			}
			if want[id] > p.Stock {
				return orders.InsufficientStock(p.ID, p.Name, p.Stock)
			}
		}

		now := s.now()
		o := &orders.Order{
			ID:              uuid.NewString(),
			UserID:          in.UserID,
			Items:           snapshot(in.Items, products),
			ShippingAddress: in.ShippingAddress,
			PaymentMethod:   in.PaymentMethod,
			Status:          orders.StatusPending,
			PaymentStatus:   orders.PaymentPending,
			Notes:           in.Notes,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		o.Totals = s.Pricing.Compute(o.Items)

		if err := tx.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for _, li := range o.Items {
			ok, available, err := tx.ReserveStock(ctx, li.ProductID, li.Quantity)
			if err != nil {
				return fmt.Errorf("reserve stock for %s: %w", li.ProductID, err)
			}
			if !ok {
				// Another order took the stock after validation.
				return orders.InsufficientStock(li.ProductID, li.Name, available)
			}
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, event{orders.EventOrderCreated, created.ID, orders.OrderCreatedPayload{
		OrderID:    created.ID,
		UserID:     created.UserID,
		Items:      created.StockItems(),
		TotalPrice: created.TotalPrice,
	}})
	return created, nil
}

func snapshot(items []orders.ItemInput, products map[string]catalog.Product) []orders.LineItem {
	out := make([]orders.LineItem, 0, len(items))
	for _, it := range items {
		p := products[it.ProductID]
		out = append(out, orders.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Image:     p.Image,
			Price:     p.Price,
			Quantity:  it.Quantity,
		})
	}
	return out
}

func (s *Service) GetOrder(ctx context.Context, id string, req orders.Requester) (*orders.Order, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	if !req.CanView(o) {
		return nil, orders.Forbidden("Not authorized to view this order")
	}
	return o, nil
}

func (s *Service) ListMyOrders(ctx context.Context, userID string, page orders.Page, status orders.Status) ([]orders.Order, int, error) {
	if userID == "" {
		return nil, 0, orders.InvalidInput("user id is required")
	}
	if status != "" && !status.Valid() {
		return nil, 0, orders.InvalidInput("invalid order status %q", status)
	}
	list, total, _, err := s.Store.ListOrders(ctx, orders.ListQuery{
		UserID: userID,
		Status: status,
		Page:   page.Normalize(),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return list, total, nil
}

// ListAllOrders is the admin listing; stats cover the whole filtered set, not just the page.
func (s *Service) ListAllOrders(ctx context.Context, req orders.Requester, page orders.Page, status orders.Status, payment orders.PaymentStatus) ([]orders.Order, int, orders.Stats, error) {
	if !req.IsAdmin() {
		return nil, 0, orders.Stats{}, orders.Forbidden("Admin access required")
	}
	if status != "" && !status.Valid() {
		return nil, 0, orders.Stats{}, orders.InvalidInput("invalid order status %q", status)
	}
	if payment != "" && !payment.Valid() {
		return nil, 0, orders.Stats{}, orders.InvalidInput("invalid payment status %q", payment)
	}
	list, total, stats, err := s.Store.ListOrders(ctx, orders.ListQuery{
		Status:        status,
		PaymentStatus: payment,
		Page:          page.Normalize(),
	})
	if err != nil {
		return nil, 0, orders.Stats{}, fmt.Errorf("list orders: %w", err)
	}
	return list, total, stats, nil
}

// UpdateOrderStatus applies an admin's status and/or payment change. Moving to
// cancelled returns the reserved stock in the same transaction.
func (s *Service) UpdateOrderStatus(ctx context.Context, in orders.UpdateStatusInput, req orders.Requester) (*orders.Order, error) {
	if !req.IsAdmin() {
		return nil, orders.Forbidden("Admin access required")
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var (
		updated *orders.Order
		events  []event
	)
	err := s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		events = nil
		o, err := tx.LockOrder(ctx, in.OrderID)
		if err != nil {
			return notFound(err)
		}
		now := s.now()
		changed := false

		if in.PaymentStatus != "" {
			eff, err := o.ApplyPayment(in.PaymentStatus, in.PaymentResult, now)
			if err != nil {
				return err
			}
			if eff.Changed {
				changed = true
				p := orders.OrderPaymentUpdatedPayload{OrderID: o.ID, PaymentStatus: o.PaymentStatus}
				if o.PaymentResult != nil {
					p.PaymentRef = o.PaymentResult.ID
				}
				events = append(events, event{orders.EventOrderPaymentUpdated, o.ID, p})
			}
		}
		if in.Status != "" {
			evs, err := s.transition(ctx, tx, o, in.Status, req.Role, now)
			if err != nil {
				return err
			}
			changed = changed || len(evs) > 0
			events = append(events, evs...)
		}

		if changed {
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return fmt.Errorf("update order: %w", err)
			}
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		s.publish(ctx, ev)
	}
	return updated, nil
}

// CancelOrder lets the owner or an admin cancel an order that has not started
// processing, restoring exactly the quantities it reserved.
func (s *Service) CancelOrder(ctx context.Context, id string, req orders.Requester) (*orders.Order, error) {
	var (
		updated *orders.Order
		events  []event
	)
	err := s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return notFound(err)
		}
		if !req.CanView(o) {
			return orders.Forbidden("Not authorized to cancel this order")
		}
		if !o.Status.Cancellable() {
			return orders.InvalidTransition("Order cannot be cancelled at this stage")
		}
		events, err = s.transition(ctx, tx, o, orders.StatusCancelled, req.Role, s.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		s.publish(ctx, ev)
	}
	return updated, nil
}

// transition applies the status change to o and performs its stock side effect.
func (s *Service) transition(ctx context.Context, tx Tx, o *orders.Order, to orders.Status, role orders.Role, now time.Time) ([]event, error) {
	from := o.Status
	eff, err := o.ApplyStatus(to, role, now)
	if err != nil || !eff.Changed {
		return nil, err
	}
	if eff.RestoreStock {
		for _, li := range o.Items {
			if err := tx.ReleaseStock(ctx, li.ProductID, li.Quantity); err != nil {
				return nil, fmt.Errorf("release stock for %s: %w", li.ProductID, err)
			}
		}
	}
	if to == orders.StatusCancelled {
		return []event{{orders.EventOrderCancelled, o.ID, orders.OrderCancelledPayload{
			OrderID:  o.ID,
			Restored: o.StockItems(),
		}}}, nil
	}
	return []event{{orders.EventOrderStatusChanged, o.ID, orders.OrderStatusChangedPayload{
		OrderID: o.ID,
		From:    from,
		To:      to,
	}}}, nil
}

func (s *Service) publish(ctx context.Context, ev event) {
	if s.Events == nil {
		return
	}
	env, err := orders.NewEnvelope(ev.kind, s.Producer, ev.orderID, TraceID(ctx), ev.payload)
	if err == nil {
		err = s.Events.Publish(ctx, env)
	}
	if err != nil {
		// The order is already committed; a lost event only delays cache refresh.
		s.Log.Error().Err(err).Str("event_type", ev.kind).Str("order_id", ev.orderID).Msg("publish order event")
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func notFound(err error) error {
	if errors.Is(err, ErrOrderNotFound) {
		return orders.NotFound("Order not found")
	}
	return fmt.Errorf("load order: %w", err)
}

type traceKey struct{}

// WithTraceID attaches the request id that published events carry as trace_id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
