package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/go-order-engine/internal/cart"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/orders"
)

type errorBody struct {
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func classify(err error) (int, string) {
	var validation *models.ValidationError
	var transition *orders.InvalidTransitionError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, orders.ErrEmptyCart):
		return http.StatusBadRequest, "empty_cart"
	case errors.Is(err, database.ErrInsufficientStock):
		return http.StatusBadRequest, "insufficient_stock"
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, cart.ErrCartNotFound),
		errors.Is(err, cart.ErrItemNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &transition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, orders.ErrConflict), errors.Is(err, database.ErrOptimisticLockFailed):
		return http.StatusConflict, "conflict"
	case errors.Is(err, orders.ErrPersistence):
		return http.StatusInternalServerError, "persistence"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)

	body := errorBody{Status: "fail", Kind: kind, Message: err.Error()}
	if status >= http.StatusInternalServerError {
		body.Status = "error"
		body.Message = http.StatusText(status)
		if kind == "persistence" {
			body.Message = orders.ErrPersistence.Error()
		}
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	if h.dev {
		body.Error = err.Error()
	}

	h.respondJSON(w, status, body)
}
