package orders

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxNotesLength = 500
	// MaxItemQuantity bounds the units of one product in an order, which
	// keeps totals and the stock columns far from integer overflow.
	MaxItemQuantity = 10000
)

type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderInput struct {
	UserID          string
	Items           []ItemInput
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	Notes           string
}

// Validate checks everything that can be decided without touching the store.
func (in CreateOrderInput) Validate() error {
	if strings.TrimSpace(in.UserID) == "" {
		return InvalidInput("user id is required")
	}
	if len(in.Items) == 0 {
		return InvalidInput("No order items")
	}
	perProduct := make(map[string]int, len(in.Items))
	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return InvalidInput("item %d: product id is required", i)
		}
		if it.Quantity < 1 {
			return InvalidInput("item %d: quantity must be at least 1", i)
		}
		if it.Quantity > MaxItemQuantity {
			return InvalidInput("item %d: quantity cannot exceed %d", i, MaxItemQuantity)
		}
		perProduct[it.ProductID] += it.Quantity
		if perProduct[it.ProductID] > MaxItemQuantity {
			return InvalidInput("product %s: total quantity cannot exceed %d", it.ProductID, MaxItemQuantity)
		}
	}
	if missing := in.ShippingAddress.Missing(); len(missing) > 0 {
		e := InvalidInput("shipping address is incomplete: missing %s", strings.Join(missing, ", "))
		e.Details = map[string]any{"missing": missing}
		return e
	}
	if !in.PaymentMethod.Valid() {
		return InvalidInput("invalid payment method %q", in.PaymentMethod)
	}
	if utf8.RuneCountInString(in.Notes) > MaxNotesLength {
		return InvalidInput("notes cannot exceed %d characters", MaxNotesLength)
	}
	return nil
}

// Quantities sums the requested quantity per product, keeping first-seen order.
func (in CreateOrderInput) Quantities() (ids []string, qty map[string]int) {
	qty = make(map[string]int, len(in.Items))
	for _, it := range in.Items {
		if _, seen := qty[it.ProductID]; !seen {
			ids = append(ids, it.ProductID)
		}
		qty[it.ProductID] += it.Quantity
	}
	return ids, qty
}

// Missing lists the json names of blank required fields.
func (a ShippingAddress) Missing() []string {
	var out []string
	fields := []struct {
		name, value string
	}{
		{"fullName", a.FullName},
		{"address", a.Address},
		{"city", a.City},
		{"state", a.State},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
		{"phone", a.Phone},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			out = append(out, f.name)
		}
	}
	return out
}

type UpdateStatusInput struct {
	OrderID       string
	Status        Status
	PaymentStatus PaymentStatus
	PaymentResult *PaymentResult
}

func (in UpdateStatusInput) Validate() error {
	if strings.TrimSpace(in.OrderID) == "" {
		return InvalidInput("order id is required")
	}
	if in.Status == "" && in.PaymentStatus == "" {
		return InvalidInput("status or paymentStatus is required")
	}
	if in.Status != "" && !in.Status.Valid() {
		return InvalidInput("invalid order status %q", in.Status)
	}
	if in.PaymentStatus != "" && !in.PaymentStatus.Valid() {
		return InvalidInput("invalid payment status %q", in.PaymentStatus)
	}
	return nil
}

// Requester is the authenticated caller of a ledger operation.
type Requester struct {
	UserID string
	Role   Role
}

func (r Requester) IsAdmin() bool { return r.Role == RoleAdmin }

// CanView reports whether r may read o.
func (r Requester) CanView(o *Order) bool {
	return r.IsAdmin() || (r.UserID != "" && r.UserID == o.UserID)
}
