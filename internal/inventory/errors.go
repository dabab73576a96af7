package inventory

import (
	"fmt"

	"github.com/safar/go-order-engine/internal/database"
)

// InsufficientStockError names the product that could not cover the request.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == database.ErrInsufficientStock
}
