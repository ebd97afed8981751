package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type OrdersHandler struct {
	Ledger *ledger.Service
	Log    zerolog.Logger
}

type createOrderReq struct {
	OrderItems      []orders.ItemInput     `json:"orderItems"`
	ShippingAddress orders.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   orders.PaymentMethod   `json:"paymentMethod"`
	Notes           string                 `json:"notes"`
}

type updateStatusReq struct {
	Status        orders.Status         `json:"status"`
	PaymentStatus orders.PaymentStatus  `json:"paymentStatus"`
	PaymentResult *orders.PaymentResult `json:"paymentResult"`
}

type orderPage struct {
	Orders []orders.Order `json:"orders"`
	Page   int            `json:"page"`
	Pages  int            `json:"pages"`
	Total  int            `json:"total"`
	Stats  *orders.Stats  `json:"stats,omitempty"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RequireUser)
			r.Post("/", h.createOrder)
			r.Get("/mine", h.listMine)
			r.Get("/{id}", h.getOrder)
			r.Put("/{id}/cancel", h.cancelOrder)
		})
		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/", h.listAll)
			r.Put("/{id}/status", h.updateStatus)
		})
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Ledger.CreateOrder(ctx, orders.CreateOrderInput{
		UserID:          requester(r).UserID,
		Items:           req.OrderItems,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Ledger.GetOrder(ctx, chi.URLParam(r, "id"), requester(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	list, total, err := h.Ledger.ListMyOrders(r.Context(), requester(r).UserID, page,
		orders.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, orderPage{Orders: nonNil(list), Page: page.Page, Pages: pages(total, page.Limit), Total: total})
}

func (h *OrdersHandler) listAll(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	q := r.URL.Query()
	list, total, stats, err := h.Ledger.ListAllOrders(r.Context(), requester(r), page,
		orders.Status(q.Get("status")), orders.PaymentStatus(q.Get("paymentStatus")))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, orderPage{
		Orders: nonNil(list),
		Page:   page.Page,
		Pages:  pages(total, page.Limit),
		Total:  total,
		Stats:  &stats,
	})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	o, err := h.Ledger.UpdateOrderStatus(r.Context(), orders.UpdateStatusInput{
		OrderID:       chi.URLParam(r, "id"),
		Status:        req.Status,
		PaymentStatus: req.PaymentStatus,
		PaymentResult: req.PaymentResult,
	}, requester(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Ledger.CancelOrder(r.Context(), chi.URLParam(r, "id"), requester(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
