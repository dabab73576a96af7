// Package inventory owns every write to a product's stock and sold counters.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
)

type StockStore interface {
	ReserveStock(ctx context.Context, productID int64, quantity int) (int, error)
	ReleaseStock(ctx context.Context, productID int64, quantity int) error
}

// Reservation is a successful decrement that has not been handed back yet.
type Reservation struct {
	ProductID int64
	Quantity  int
	Remaining int

	released atomic.Bool
}

// Released reports whether the stock has been returned.
func (r *Reservation) Released() bool { return r.released.Load() }

type Ledger struct {
	store  StockStore
	logger *slog.Logger
}

func NewLedger(store StockStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger}
}

// Reserve takes quantity units of the product or fails without changing
// anything. The check and the decrement happen in one statement, so two
// concurrent callers can never both consume the last units.
func (l *Ledger) Reserve(ctx context.Context, productID int64, quantity int) (*Reservation, error) {
	if quantity < 1 {
		return nil, models.NewValidationError("quantity", "quantity must be at least 1, got %d", quantity)
	}

	remaining, err := l.store.ReserveStock(ctx, productID, quantity)
	if err != nil {
		if errors.Is(err, database.ErrInsufficientStock) {
			return nil, &InsufficientStockError{ProductID: productID, Requested: quantity, Available: remaining}
		}
		return nil, fmt.Errorf("reserve product %d: %w", productID, err)
	}

	return &Reservation{ProductID: productID, Quantity: quantity, Remaining: remaining}, nil
}

// Release returns a reservation's units. Only the first successful call has
// an effect; a failed call leaves the reservation releasable.
func (l *Ledger) Release(ctx context.Context, r *Reservation) error {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return nil
	}

	if err := l.store.ReleaseStock(ctx, r.ProductID, r.Quantity); err != nil {
		r.released.Store(false)
		return fmt.Errorf("release product %d: %w", r.ProductID, err)
	}

	l.logger.Debug("stock released", "product_id", r.ProductID, "quantity", r.Quantity)
	return nil
}

// ReleaseAll releases in reverse order and reports every failure.
func (l *Ledger) ReleaseAll(ctx context.Context, reservations []*Reservation) error {
	var errs []error
	for i := len(reservations) - 1; i >= 0; i-- {
		if err := l.Release(ctx, reservations[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
