// Package handlers exposes orders and carts over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-order-engine/internal/cart"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/orders"
	"github.com/safar/go-order-engine/internal/store"
)

type OrderPlacer interface {
	Place(ctx context.Context, caller models.Identity, req orders.PlaceRequest) (*models.Order, error)
}

type OrderService interface {
	Get(ctx context.Context, caller models.Identity, id int64, expand orders.Expand) (*models.Order, error)
	List(ctx context.Context, caller models.Identity, filter store.OrderFilter, expand orders.Expand) (*store.OffsetPage[*models.Order], error)
	ListMine(ctx context.Context, caller models.Identity, page, pageSize int, expand orders.Expand) (*store.OffsetPage[*models.Order], error)
	ListMineCursor(ctx context.Context, caller models.Identity, cursor string, limit int, expand orders.Expand) (*store.CursorPage[*models.Order], error)
	UpdateStatus(ctx context.Context, caller models.Identity, id int64, next, expected string) (*models.Order, error)
	MarkPaid(ctx context.Context, caller models.Identity, id int64) (*models.Order, error)
	Edit(ctx context.Context, caller models.Identity, id int64, req orders.EditRequest) (*models.Order, error)
	Delete(ctx context.Context, caller models.Identity, id int64) error
	Stats(ctx context.Context, caller models.Identity) (*models.OrderStats, error)
}

type CartService interface {
	Resolve(ctx context.Context, owner models.Identity) (*models.Cart, error)
	Stored(ctx context.Context, owner models.Identity) (*models.Cart, error)
	AddItem(ctx context.Context, owner models.Identity, productID int64, count int) (*models.Cart, error)
	UpdateItemCount(ctx context.Context, owner models.Identity, itemRef string, count int) (cart.Result, error)
	RemoveItem(ctx context.Context, owner models.Identity, itemRef string) (cart.Result, error)
	Clear(ctx context.Context, owner models.Identity) error
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	placer OrderPlacer
	orders OrderService
	carts  CartService
	health Pinger
	logger *slog.Logger
	// dev adds the wrapped error chain to error responses.
	dev bool
}

type Options struct {
	Placer      OrderPlacer
	Orders      OrderService
	Carts       CartService
	Health      Pinger
	Logger      *slog.Logger
	Development bool
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		placer: opts.Placer,
		orders: opts.Orders,
		carts:  opts.Carts,
		health: opts.Health,
		logger: logger,
		dev:    opts.Development,
	}
}

type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

type listEnvelope struct {
	Status  string `json:"status"`
	Results int    `json:"results"`
	Total   int64  `json:"total"`
	Page    int    `json:"page"`
	Pages   int    `json:"pages"`
	Data    any    `json:"data"`
}

type cursorEnvelope struct {
	Status     string `json:"status"`
	Results    int    `json:"results"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
	Data       any    `json:"data"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func (h *Handler) respondData(w http.ResponseWriter, status int, data any) {
	h.respondJSON(w, status, envelope{Status: "success", Data: data})
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return models.NewValidationError("", "request body is required")
		}
		return models.NewValidationError("", "invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, models.NewValidationError(name, "invalid id %q", raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return v
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.PingContext(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			h.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
