package orders

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusDelivered || s == StatusCancelled }

// Cancellable reports whether an order in s may still be cancelled.
func (s Status) Cancellable() bool { return s == StatusPending || s == StatusConfirmed }

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// rule describes one allowed edge of the lifecycle.
type rule struct {
	adminOnly bool
	restock   bool
}

var transitions = map[Status]map[Status]rule{
	StatusPending: {
		StatusConfirmed: {},
		StatusCancelled: {restock: true},
	},
	StatusConfirmed: {
		StatusProcessing: {adminOnly: true},
		StatusCancelled:  {restock: true},
	},
	StatusProcessing: {
		StatusShipped: {adminOnly: true},
	},
	StatusShipped: {
		StatusDelivered: {adminOnly: true},
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

var paymentTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:  {PaymentPaid: true, PaymentFailed: true},
	PaymentFailed:   {PaymentPaid: true},
	PaymentPaid:     {PaymentRefunded: true},
	PaymentRefunded: {},
}

func CanTransition(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// Effect lists the side effects the caller must carry out after a transition
// has been applied to the order in memory.
type Effect struct {
	Changed      bool
	RestoreStock bool
}

// ApplyStatus moves o to the requested status, stamping the lifecycle
// timestamps that belong to it. Requesting the current status is a no-op.
func (o *Order) ApplyStatus(to Status, role Role, now time.Time) (Effect, error) {
	if !to.Valid() {
		return Effect{}, InvalidInput("invalid order status %q", to)
	}
	if o.Status == to {
		return Effect{}, nil
	}
	r, ok := transitions[o.Status][to]
	if !ok {
		if to == StatusCancelled {
			return Effect{}, InvalidTransition("Order cannot be cancelled at this stage")
		}
		return Effect{}, InvalidTransition("cannot move order from %s to %s", o.Status, to)
	}
	if r.adminOnly && role != RoleAdmin {
		return Effect{}, Forbidden("only an admin can move an order to %s", to)
	}

	o.Status = to
	switch to {
	case StatusDelivered:
		o.IsDelivered = true
		if o.DeliveredAt == nil {
			o.DeliveredAt = stamp(now)
		}
	case StatusCancelled:
		if o.CancelledAt == nil {
			o.CancelledAt = stamp(now)
		}
	}
	o.UpdatedAt = now
	return Effect{Changed: true, RestoreStock: r.restock}, nil
}

// ApplyPayment records a payment status change. The payment result is stored
// as reported by the caller; its authenticity is not checked here.
func (o *Order) ApplyPayment(to PaymentStatus, result *PaymentResult, now time.Time) (Effect, error) {
	if !to.Valid() {
		return Effect{}, InvalidInput("invalid payment status %q", to)
	}
	if o.PaymentStatus == to {
		return Effect{}, nil
	}
	// A cancelled order can still be refunded, nothing else.
	if o.Status == StatusCancelled && (o.PaymentStatus != PaymentPaid || to != PaymentRefunded) {
		return Effect{}, InvalidTransition("cannot update payment of a cancelled order")
	}
	if !paymentTransitions[o.PaymentStatus][to] {
		return Effect{}, InvalidTransition("cannot move payment from %s to %s", o.PaymentStatus, to)
	}

	o.PaymentStatus = to
	switch to {
	case PaymentPaid:
		o.IsPaid = true
		if o.PaidAt == nil {
			o.PaidAt = stamp(now)
		}
		if result != nil {
			r := *result
			o.PaymentResult = &r
		}
	case PaymentRefunded:
		o.IsPaid = false
	}
	o.UpdatedAt = now
	return Effect{Changed: true}, nil
}

func stamp(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
