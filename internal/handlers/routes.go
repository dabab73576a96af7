package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the router. requestTimeout bounds each request's context;
// zero disables the timeout.
func (h *Handler) Routes(requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}

	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(h.IdentityMiddleware)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListOrders)
			r.Get("/myOrders", h.ListMyOrders)
			r.Get("/stats", h.OrderStats)
			r.Get("/{id}", h.GetOrder)
			r.Put("/{id}", h.EditOrder)
			r.Delete("/{id}", h.DeleteOrder)
			r.Put("/{id}/pay", h.PayOrder)
			r.Put("/{id}/status", h.UpdateOrderStatus)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Post("/", h.AddCartItem)
			r.Delete("/", h.ClearCart)
			r.Put("/{itemId}", h.UpdateCartItem)
			r.Delete("/{itemId}", h.RemoveCartItem)
		})
	})

	return r
}
