package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/orders"
	"github.com/safar/go-order-engine/internal/store"
)

type placeOrderItem struct {
	Product  int64   `json:"product"`
	Quantity int     `json:"quantity"`
	Color    *string `json:"color"`
}

type placeOrderRequest struct {
	CartItems       []placeOrderItem       `json:"cartItems"`
	ShippingAddress models.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
}

type updateStatusRequest struct {
	OrderStatus    string `json:"orderStatus"`
	ExpectedStatus string `json:"expectedStatus"`
}

type editOrderRequest struct {
	ShippingAddress *models.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   *string                 `json:"paymentMethod"`
}

func parseExpand(r *http.Request) orders.Expand {
	var expand orders.Expand
	for _, part := range strings.Split(r.URL.Query().Get("expand"), ",") {
		switch strings.TrimSpace(part) {
		case "user":
			expand.User = true
		case "products":
			expand.Products = true
		}
	}
	return expand
}

// CreateOrder places an order from the listed items, or from the caller's
// stored cart when the body lists none. The stored cart is read past the
// cache.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := identityFrom(ctx)

	var req placeOrderRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	items := make([]orders.PlaceItem, 0, len(req.CartItems))
	for _, item := range req.CartItems {
		items = append(items, orders.PlaceItem{ProductID: item.Product, Quantity: item.Quantity, Color: item.Color})
	}

	if len(items) == 0 && caller.IsAuthenticated() {
		c, err := h.carts.Stored(ctx, caller)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		for _, item := range c.Items {
			items = append(items, orders.PlaceItem{ProductID: item.ProductID, Quantity: item.Count})
		}
	}

	order, err := h.placer.Place(ctx, caller, orders.PlaceRequest{
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondData(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	order, err := h.orders.Get(r.Context(), identityFrom(r.Context()), id, parseExpand(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondData(w, http.StatusOK, order)
}

// ListMyOrders pages by page/limit, or by keyset when a cursor parameter is
// present (an empty cursor starts from the newest order).
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := identityFrom(ctx)
	limit := queryInt(r, "limit", store.DefaultPageSize)
	expand := parseExpand(r)

	if r.URL.Query().Has("cursor") {
		page, err := h.orders.ListMineCursor(ctx, caller, r.URL.Query().Get("cursor"), limit, expand)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respondJSON(w, http.StatusOK, cursorEnvelope{
			Status:     "success",
			Results:    len(page.Items),
			NextCursor: page.NextCursor,
			HasMore:    page.HasMore,
			Data:       page.Items,
		})
		return
	}

	page, err := h.orders.ListMine(ctx, caller, queryInt(r, "page", 1), limit, expand)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondPage(w, page)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.OrderFilter{
		Status:   q.Get("status"),
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "limit", store.DefaultPageSize),
	}
	if raw := q.Get("isPaid"); raw != "" {
		paid, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondError(w, r, models.NewValidationError("isPaid", "expected true or false, got %q", raw))
			return
		}
		filter.IsPaid = &paid
	}

	page, err := h.orders.List(r.Context(), identityFrom(r.Context()), filter, parseExpand(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondPage(w, page)
}

func (h *Handler) respondPage(w http.ResponseWriter, page *store.OffsetPage[*models.Order]) {
	h.respondJSON(w, http.StatusOK, listEnvelope{
		Status:  "success",
		Results: len(page.Items),
		Total:   page.Total,
		Page:    page.Page,
		Pages:   page.TotalPages,
		Data:    page.Items,
	})
}

func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	order, err := h.orders.MarkPaid(r.Context(), identityFrom(r.Context()), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondData(w, http.StatusOK, order)
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req updateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), identityFrom(r.Context()), id, req.OrderStatus, req.ExpectedStatus)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondData(w, http.StatusOK, order)
}

func (h *Handler) EditOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req editOrderRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	order, err := h.orders.Edit(r.Context(), identityFrom(r.Context()), id, orders.EditRequest{
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondData(w, http.StatusOK, order)
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.orders.Delete(r.Context(), identityFrom(r.Context()), id); err != nil {
		h.respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) OrderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orders.Stats(r.Context(), identityFrom(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondData(w, http.StatusOK, stats)
}
