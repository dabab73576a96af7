package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-order-engine/internal/cart"
	"github.com/safar/go-order-engine/internal/models"
)

type addCartItemRequest struct {
	ProductID int64 `json:"productId"`
	Count     *int  `json:"count"`
}

type updateCartItemRequest struct {
	Count int `json:"count"`
}

type cartEditResponse struct {
	Status string `json:"status"`
	Found  bool   `json:"found"`
	Data   any    `json:"data"`
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Resolve(r.Context(), identityFrom(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondData(w, http.StatusOK, c)
}

// AddCartItem adds count units of the product, one when count is omitted.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	count := 1
	if req.Count != nil {
		count = *req.Count
	}

	c, err := h.carts.AddItem(r.Context(), identityFrom(r.Context()), req.ProductID, count)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondData(w, http.StatusOK, c)
}

func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateCartItemRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	result, err := h.carts.UpdateItemCount(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "itemId"), req.Count)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondCartEdit(w, result)
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	result, err := h.carts.RemoveItem(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "itemId"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondCartEdit(w, result)
}

func (h *Handler) respondCartEdit(w http.ResponseWriter, result cart.Result) {
	h.respondJSON(w, http.StatusOK, cartEditResponse{Status: "success", Found: result.Found, Data: result.Cart})
}

// ClearCart answers with the emptied cart, also when there was nothing to clear.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	owner := identityFrom(r.Context())
	if err := h.carts.Clear(r.Context(), owner); err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondData(w, http.StatusOK, models.EmptyCart(owner))
}
